// Package wasip1 exports the WASI snapshot preview1 system interface as a
// wazero host module backed by a capability-mediated filesystem.
//
// Every path-carrying syscall joins the guest-supplied path with the guest
// path of the directory descriptor it is relative to and hands the result
// to the capfs mediator, so the sandbox boundary is enforced in exactly one
// place. Denials surface to the guest as ENOTCAPABLE with no further
// detail; the host side logs the structured denial record.
//
// Preopens are assigned descriptors from 3 in grant order, and
// fd_prestat_dir_name reports guest names only. Host locations never reach
// guest memory.
package wasip1
