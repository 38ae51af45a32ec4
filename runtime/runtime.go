package runtime

import (
	"context"
	"io"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/AlanFoster/wasmtime/capfs"
	caperr "github.com/AlanFoster/wasmtime/errors"
	"github.com/AlanFoster/wasmtime/wasip1"
)

// Config describes one sandboxed guest execution.
type Config struct {
	// Grants is the full set of directories the guest may reach. Anything
	// outside them does not exist as far as the guest can tell.
	Grants []capfs.Grant

	// Args is the guest argument vector, argv[0] included. Defaults to
	// a single "main" when empty.
	Args []string

	// Env holds KEY=VALUE pairs exposed through environ_get.
	Env []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// MemoryLimitPages caps guest memory in 64KB pages.
	// 0 means the wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

// Runtime executes WASI preview1 guests against a pinned capability table.
// The table is opened once at construction; every filesystem operation any
// guest performs flows through it for the lifetime of the runtime.
type Runtime struct {
	wazero wazero.Runtime
	table  *capfs.Table
	fsys   *capfs.FS
	host   *wasip1.Host
	args   []string
}

// New pins the granted directories and prepares a wazero runtime with the
// system interface already instantiated.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	table, err := capfs.NewTable(cfg.Grants)
	if err != nil {
		return nil, err
	}
	fsys := capfs.NewFS(table)

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	wz := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	args := cfg.Args
	if len(args) == 0 {
		args = []string{"main"}
	}
	host := wasip1.NewHost(fsys).WithArgs(args...).WithEnv(cfg.Env...)
	if cfg.Stdin != nil {
		host.WithStdin(cfg.Stdin)
	}
	if cfg.Stdout != nil {
		host.WithStdout(cfg.Stdout)
	}
	if cfg.Stderr != nil {
		host.WithStderr(cfg.Stderr)
	}

	if _, err := host.Instantiate(ctx, wz); err != nil {
		table.Close()
		wz.Close(ctx)
		return nil, caperr.Load("instantiate system interface", err)
	}

	return &Runtime{
		wazero: wz,
		table:  table,
		fsys:   fsys,
		host:   host,
		args:   args,
	}, nil
}

// FS returns the mediated filesystem shared with the guest. The host may
// use it to stage inputs and collect outputs under the same grants.
func (r *Runtime) FS() *capfs.FS {
	return r.fsys
}

// Run instantiates wasmBytes and invokes its _start export. The returned
// exit code is the guest's, with a nil error for code zero.
func (r *Runtime) Run(ctx context.Context, wasmBytes []byte) (uint32, error) {
	mod, err := r.wazero.InstantiateWithConfig(ctx, wasmBytes,
		wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return 0, caperr.Load("instantiate module", err)
	}
	defer mod.Close(ctx)

	start := mod.ExportedFunction("_start")
	if start == nil {
		return 0, caperr.Load("module does not export _start", nil)
	}

	Logger().Debug("starting guest", zap.Strings("args", r.args))
	_, err = start.Call(ctx)
	if err != nil {
		if exitErr, ok := err.(*sys.ExitError); ok {
			code := exitErr.ExitCode()
			Logger().Debug("guest exited", zap.Uint32("code", code))
			if code == 0 {
				return 0, nil
			}
			return code, nil
		}
		return 0, caperr.Trap("guest trapped", err)
	}
	return 0, nil
}

// Close tears down the guest's descriptors, the pinned capability table and
// the wazero runtime, in that order. Idempotent.
func (r *Runtime) Close(ctx context.Context) error {
	r.host.Close()
	err := r.table.Close()
	if cerr := r.wazero.Close(ctx); err == nil {
		err = cerr
	}
	return err
}
