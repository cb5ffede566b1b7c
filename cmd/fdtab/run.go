package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/fdtab/hostcall"
)

func runCmd() *cobra.Command {
	var export string
	cmd := &cobra.Command{
		Use:   "run <guest.wasm> [args...]",
		Short: "Run a guest module against the descriptor table",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGuest(cmd.Context(), args[0], args[1:], export)
		},
	}
	cmd.Flags().StringVar(&export, "export", "_start", "Function to call after instantiation")
	return cmd
}

func runGuest(ctx context.Context, wasmFile string, argv []string, export string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return fmt.Errorf("wasi: %w", err)
	}
	tab := newTable()
	if _, err := hostcall.Instantiate(ctx, r, tab); err != nil {
		return fmt.Errorf("host module: %w", err)
	}

	compiled, err := r.CompileModule(ctx, data)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	modCfg := wazero.NewModuleConfig().
		WithName("guest").
		WithArgs(append([]string{wasmFile}, argv...)...).
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithStdin(os.Stdin).
		WithStartFunctions()

	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(export)
	if fn == nil {
		return fmt.Errorf("guest exports no function %q", export)
	}
	if _, err := fn.Call(ctx); err != nil {
		var exit *sys.ExitError
		if stderrors.As(err, &exit) {
			log.Debug("guest exited", zap.Uint32("code", exit.ExitCode()))
			if exit.ExitCode() != 0 {
				return fmt.Errorf("guest exited with code %d", exit.ExitCode())
			}
			return nil
		}
		return fmt.Errorf("call %s: %w", export, err)
	}
	log.Debug("guest returned", zap.Int("open_fds", tab.Len()))
	return nil
}
