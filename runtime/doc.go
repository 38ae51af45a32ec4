// Package runtime executes WASI preview1 guests inside a capability
// sandbox.
//
// A Runtime owns three things: a wazero runtime, a pinned capability table
// built from the configured grants, and the preview1 host module that
// mediates every guest filesystem call through that table. Guests see only
// the granted guest names; host locations, and everything outside the
// grants, are unreachable by construction.
package runtime
