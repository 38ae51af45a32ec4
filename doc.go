// Package wasmtime runs WebAssembly guests behind a capability-based
// filesystem sandbox.
//
// A guest never names host locations. At startup the host grants a set of
// directories, each pinned to an open handle and labeled with a guest name
// such as "/data" or "/tmp"; every path the guest supplies is resolved
// component by component against those handles. Paths that leave a granted
// directory, name an unknown grant, or are malformed all fail the same way,
// so a probing guest learns nothing about host layout.
//
// # Architecture Overview
//
//	wasmtime/            Root package, documentation only
//	├── capfs/           Capability table, path resolution and mediation
//	├── wasip1/          WASI snapshot preview1 host module over capfs
//	├── runtime/         High-level API for running sandboxed guests
//	├── errors/          Structured error types for debugging
//	└── cmd/run/         CLI runner and interactive sandbox shell
//
// # Quick Start
//
// Run a guest with two granted directories:
//
//	rt, err := runtime.New(ctx, runtime.Config{
//		Grants: []capfs.Grant{
//			{GuestName: "/data", HostPath: "./inputs"},
//			{GuestName: "/tmp", HostPath: scratchDir},
//		},
//		Stdout: os.Stdout,
//	})
//	if err != nil {
//		return err
//	}
//	defer rt.Close(ctx)
//
//	code, err := rt.Run(ctx, wasmBytes)
//
// The capfs package is usable on its own for host-side mediated access,
// with the same grants and the same denial behavior the guest observes.
package wasmtime
