package capfs

import (
	"strings"

	caperr "github.com/AlanFoster/wasmtime/errors"
)

// Separator is the guest path separator. Guest paths always use forward
// slashes regardless of the host platform.
const Separator = "/"

// splitPath splits a raw guest path into its components, dropping empty and
// single-dot components. Parent references are kept as-is; they are resolved
// later, after the capability match, so a ".." can never pop the guest name
// segment that selected the capability.
//
// A leading separator carries no meaning beyond selecting a capability whose
// guest name looks absolute: the guest's notion of "root" is always
// capability-local. This function never touches the host filesystem.
func splitPath(path string) ([]string, error) {
	if strings.IndexByte(path, 0) >= 0 {
		return nil, caperr.InvalidPath(redactNUL(path), "embedded NUL byte")
	}

	var comps []string
	for _, c := range strings.Split(path, Separator) {
		switch c {
		case "", ".":
			// inert
		default:
			comps = append(comps, c)
		}
	}
	return comps, nil
}

// normalize resolves parent references in the components remaining after the
// capability match. A ".." at logical depth > 0 pops the last retained
// component; a ".." at depth 0 would ascend above the capability root, so it
// is retained for the resolver to deny rather than silently dropped. The
// resolver still re-validates every step, since this accounting cannot see
// symbolic links.
func normalize(comps []string) []string {
	out := make([]string, 0, len(comps))
	depth := 0
	for _, c := range comps {
		if c == ".." {
			if depth > 0 {
				out = out[:len(out)-1]
				depth--
			} else {
				out = append(out, c)
			}
			continue
		}
		out = append(out, c)
		depth++
	}
	return out
}

// joinRel joins resolved components into a path relative to a capability
// root. An empty sequence denotes the root itself.
func joinRel(comps []string) string {
	if len(comps) == 0 {
		return "."
	}
	return strings.Join(comps, Separator)
}

// linkDepth returns the depth of a link's parent directory below the
// capability root, given the link's root-relative resolved path.
func linkDepth(rel string) int {
	if rel == "." {
		return 0
	}
	return strings.Count(rel, Separator)
}

// targetEscapes reports whether a symlink target, attached at rel, could
// ascend above the capability root. The check is positional: parent
// references are budgeted against the link's own depth under the grant,
// mirroring the resolver's walk, which pops them against the
// already-resolved prefix. Absolute targets never resolve. The second
// result reports a malformed target.
func targetEscapes(rel, target string) (escapes, malformed bool) {
	if strings.HasPrefix(target, Separator) {
		return true, false
	}
	comps, err := splitPath(target)
	if err != nil {
		return true, true
	}
	depth := linkDepth(rel)
	for _, c := range comps {
		if c == ".." {
			depth--
			if depth < 0 {
				return true, false
			}
			continue
		}
		depth++
	}
	return false, false
}

// redactNUL makes a malformed path printable for diagnostics.
func redactNUL(path string) string {
	return strings.ReplaceAll(path, "\x00", `\x00`)
}
