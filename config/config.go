package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/fdtab/blockdev"
)

// EnvVar names the environment variable read by FromEnv.
const EnvVar = "FDTAB_CONFIG"

// DefaultImage is the boot image used when the configuration names none.
const DefaultImage = "fs_images/fatfs.img"

// Lock modes.
const (
	// LockTable serialises only the descriptor table.
	LockTable = "table"
	// LockGlobal adds a coarse lock around every table operation.
	LockGlobal = "global"
)

// Device kinds.
const (
	DeviceRAM  = "ram"
	DeviceFile = "file"
)

// Format policies for block-device engines.
const (
	// FormatAuto formats only when the device holds no valid filesystem.
	FormatAuto = "auto"
	// FormatAlways formats on every mount.
	FormatAlways = "always"
)

// Config is the boot configuration of a runtime instance.
type Config struct {
	// Engine names the storage engine. Empty selects the only engine
	// linked into the binary.
	Engine string `yaml:"engine"`

	// Lock is LockTable or LockGlobal.
	Lock string `yaml:"lock"`

	Image  ImageConfig  `yaml:"image"`
	Device DeviceConfig `yaml:"device"`
	Log    LogConfig    `yaml:"log"`

	// BaseDir resolves relative paths. Load sets it to the directory
	// holding the file.
	BaseDir string `yaml:"-"`
}

// ImageConfig configures the boot image imported at mount time.
type ImageConfig struct {
	// Default is the image used when no per-instance entry matches.
	Default string `yaml:"default"`

	// Instances maps an isolation instance id to its own image.
	Instances map[string]string `yaml:"instances,omitempty"`

	// MaxFileSize skips image files larger than this. Zero disables the
	// limit.
	MaxFileSize int64 `yaml:"max_file_size"`

	// Resize sets each imported file to its exact length before writing.
	Resize bool `yaml:"resize"`
}

// DeviceConfig configures the block device of sfs and jfs.
type DeviceConfig struct {
	// Kind is DeviceRAM or DeviceFile.
	Kind string `yaml:"kind"`

	// Path is the image file of a DeviceFile device.
	Path string `yaml:"path"`

	// Size in bytes, aligned up to BlockSize.
	Size int64 `yaml:"size"`

	BlockSize int `yaml:"block_size"`

	// Format is FormatAuto or FormatAlways.
	Format string `yaml:"format"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		Lock: LockTable,
		Image: ImageConfig{
			Default:     DefaultImage,
			MaxFileSize: 100 << 20,
			Resize:      true,
		},
		Device: DeviceConfig{
			Kind:      DeviceRAM,
			Path:      "fs_images/disk.img",
			Size:      64 << 20,
			BlockSize: blockdev.DefaultBlockSize,
			Format:    FormatAuto,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// FromEnv loads the file named by FDTAB_CONFIG, or returns Default when
// the variable is unset.
func FromEnv() (*Config, error) {
	p := os.Getenv(EnvVar)
	if p == "" {
		cfg := Default()
		cfg.BaseDir, _ = os.Getwd()
		return cfg, nil
	}
	return Load(p)
}

// Load reads the configuration at path over Default and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	cfg.BaseDir = abs
	return cfg, nil
}

// Parse decodes YAML over Default, expands ${VAR} references in paths and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Image.Default = expandVars(c.Image.Default)
	for id, p := range c.Image.Instances {
		c.Image.Instances[id] = expandVars(p)
	}
	c.Device.Path = expandVars(c.Device.Path)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Lock != LockTable && c.Lock != LockGlobal {
		errs = append(errs, fmt.Errorf("lock must be %q or %q, got %q", LockTable, LockGlobal, c.Lock))
	}
	if c.Image.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("image.max_file_size must not be negative"))
	}
	switch c.Device.Kind {
	case DeviceRAM:
	case DeviceFile:
		if c.Device.Path == "" {
			errs = append(errs, fmt.Errorf("device.path is required for a file device"))
		}
	default:
		errs = append(errs, fmt.Errorf("device.kind must be %q or %q, got %q", DeviceRAM, DeviceFile, c.Device.Kind))
	}
	if bs := c.Device.BlockSize; bs < 512 || bs&(bs-1) != 0 {
		errs = append(errs, fmt.Errorf("device.block_size must be a power of two of at least 512, got %d", bs))
	}
	if c.Device.Size <= 0 {
		errs = append(errs, fmt.Errorf("device.size must be positive"))
	}
	if c.Device.Format != FormatAuto && c.Device.Format != FormatAlways {
		errs = append(errs, fmt.Errorf("device.format must be %q or %q, got %q", FormatAuto, FormatAlways, c.Device.Format))
	}

	return errors.Join(errs...)
}

// Resolve makes p absolute against BaseDir.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.BaseDir == "" {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// ImagePath returns the boot image of an isolation instance: its own entry
// when one exists, then the configured default, then DefaultImage.
func (c *Config) ImagePath(isolationID uint64) string {
	p := c.Image.Instances[strconv.FormatUint(isolationID, 10)]
	if p == "" {
		p = c.Image.Default
	}
	if p == "" {
		p = DefaultImage
	}
	return c.Resolve(p)
}

// DevicePath returns the resolved path of a file device.
func (c *Config) DevicePath() string {
	return c.Resolve(c.Device.Path)
}
