package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/config"
	"github.com/wippyai/fdtab/fdtable"
	"github.com/wippyai/fdtab/hostcall"
	"github.com/wippyai/fdtab/imgimport"
	"github.com/wippyai/fdtab/mount"
	"github.com/wippyai/fdtab/vfs"
)

var (
	configPath string
	instance   uint64
	logLevel   string

	cfg *config.Config
	log *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fdtab",
		Short: "Descriptor table and storage engines for isolated guests",
		Long: `fdtab mounts a storage engine, imports a boot image into it and exposes
the result to WebAssembly guests through a file descriptor table.

The configuration is read from --config or $` + config.EnvVar + `.
Linked engines: ` + fmt.Sprint(mount.Engines()),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if log != nil {
				log.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default $"+config.EnvVar+")")
	rootCmd.PersistentFlags().Uint64Var(&instance, "instance", 0, "Isolation id used to select the boot image")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		runCmd(),
		lsCmd(),
		catCmd(),
		statCmd(),
		putCmd(),
		importCmd(),
		browseCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err = cfg.Log.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	blockdev.SetLogger(log.Named("blockdev"))
	imgimport.SetLogger(log.Named("imgimport"))
	mount.SetLogger(log.Named("mount"))
	mount.SetEngineLoggers(log)
	fdtable.SetLogger(log.Named("fdtable"))
	hostcall.SetLogger(log.Named("hostcall"))
	return nil
}

// newTable returns a table that mounts the configured engine on first use.
func newTable(opts ...fdtable.Option) *fdtable.Table {
	if cfg.Lock == config.LockGlobal {
		opts = append(opts, fdtable.WithGlobalLock())
	}
	return fdtable.New(func() (vfs.FileSystem, error) {
		m, err := mount.Open(cfg, instance)
		if err != nil {
			return nil, err
		}
		return m.FS, nil
	}, opts...)
}
