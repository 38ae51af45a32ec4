package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/AlanFoster/wasmtime/capfs"
	"github.com/AlanFoster/wasmtime/runtime"
	"github.com/AlanFoster/wasmtime/wasip1"
)

// dirFlags collects repeatable -dir grants of the form guest::host.
type dirFlags []capfs.Grant

func (d *dirFlags) String() string {
	var parts []string
	for _, g := range *d {
		parts = append(parts, g.GuestName+"::"+g.HostPath)
	}
	return strings.Join(parts, ",")
}

func (d *dirFlags) Set(value string) error {
	guest, host, ok := strings.Cut(value, "::")
	if !ok || guest == "" || host == "" {
		return fmt.Errorf("want guest::host, got %q", value)
	}
	*d = append(*d, capfs.Grant{GuestName: guest, HostPath: host})
	return nil
}

func main() {
	var dirs dirFlags
	var (
		wasmFile    = flag.String("wasm", "", "Path to wasm module")
		mountsFile  = flag.String("mounts", "", "YAML file of directory grants")
		envVars     = flag.String("env", "", "Environment variables (KEY=VAL,KEY2=VAL2)")
		cliArgs     = flag.String("argv", "", "Guest arguments (comma-separated)")
		stdinData   = flag.String("stdin", "", "Stdin data")
		verbose     = flag.Bool("v", false, "Log capability denials and guest lifecycle")
		interactive = flag.Bool("i", false, "Interactive sandbox shell (no wasm needed)")
	)
	flag.Var(&dirs, "dir", "Directory grant as guest::host (repeatable)")
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		capfs.SetLogger(logger.Named("capfs"))
		wasip1.SetLogger(logger.Named("wasip1"))
		runtime.SetLogger(logger.Named("runtime"))
	}

	grants := []capfs.Grant(dirs)
	if *mountsFile != "" {
		fromFile, err := loadMounts(*mountsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		grants = append(grants, fromFile...)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(grants); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-dir guest::host]... [-mounts file.yaml]")
		fmt.Fprintln(os.Stderr, "       run -i [-dir guest::host]...  (interactive sandbox shell)")
		os.Exit(1)
	}

	code, err := run(*wasmFile, grants, *envVars, *cliArgs, *stdinData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(int(code))
}

func run(wasmFile string, grants []capfs.Grant, envStr, argvStr, stdinStr string) (uint32, error) {
	ctx := context.Background()

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return 0, fmt.Errorf("read file: %w", err)
	}

	cfg := runtime.Config{
		Grants: grants,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	cfg.Args = []string{wasmFile}
	if argvStr != "" {
		cfg.Args = append(cfg.Args, strings.Split(argvStr, ",")...)
	}
	if envStr != "" {
		cfg.Env = strings.Split(envStr, ",")
	}
	if stdinStr != "" {
		cfg.Stdin = strings.NewReader(stdinStr)
	} else {
		cfg.Stdin = os.Stdin
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer rt.Close(ctx)

	return rt.Run(ctx, data)
}
