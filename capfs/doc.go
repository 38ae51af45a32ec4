// Package capfs mediates guest filesystem access through capabilities.
//
// A guest program issues paths it believes are absolute or relative to its
// own working directory. The host grants a small set of real directories,
// each pinned as an open handle under a guest-visible name, and every guest
// operation is resolved component by component against the matched handle.
// The guest provably cannot reach anything outside the granted set, whether
// via "..", absolute paths, or symbolic links, even though the host process
// itself has broad access.
//
// Construct a Table from grants, wrap it in an FS, and route operations
// through Resolve:
//
//	table, err := capfs.NewTable([]capfs.Grant{
//	    {GuestName: ".", HostPath: "/sandbox/work"},
//	    {GuestName: "/tmp", HostPath: "/sandbox/tmp"},
//	})
//	defer table.Close()
//
//	fsys := capfs.NewFS(table)
//	h, err := fsys.Resolve("./test.txt", capfs.OpRead)
//
// All denials, regardless of cause, collapse into
// errors.ErrInsufficientCapability so the guest cannot probe host structure
// through differing error behavior. Host I/O failures inside a validly
// granted subtree pass through with their original detail.
//
// The table is immutable after construction and safe for concurrent reads;
// teardown waits for in-flight resolutions.
package capfs
