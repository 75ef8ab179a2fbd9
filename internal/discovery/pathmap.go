package discovery

import (
	"os"
	"path/filepath"
	"strings"
)

// PathMapper translates paths reported by the container runtime into paths
// this process can open. The runtime may see a different filesystem root:
// typically it reports host-side paths while this process reads the same
// tree through a bind mount.
type PathMapper struct {
	localRoot string
	hostRoot  string
	// exists is swappable for tests; defaults to an os.Stat probe.
	exists func(string) bool
}

func NewPathMapper(localRoot, hostRoot string) *PathMapper {
	return &PathMapper{
		localRoot: normalizePath(localRoot),
		hostRoot:  normalizePath(hostRoot),
		exists: func(path string) bool {
			info, err := os.Stat(path)
			return err == nil && !info.IsDir()
		},
	}
}

// ToLocal maps a runtime-reported path onto the local root. It returns
// ("", false) when no mapping can be found; that is a lookup miss for the
// caller, not an error.
func (m *PathMapper) ToLocal(runtimePath string) (string, bool) {
	if runtimePath == "" || m.localRoot == "" {
		return "", false
	}
	p := normalizePath(runtimePath)

	// Already under the local root (runtime and process share a view).
	if hasPrefixFold(p, m.localRoot) {
		return filepath.FromSlash(p), true
	}

	// Configured host-root mapping: swap the prefix.
	if m.hostRoot != "" && hasPrefixFold(p, m.hostRoot) {
		rel := strings.TrimPrefix(p[len(m.hostRoot):], "/")
		return filepath.Join(filepath.FromSlash(m.localRoot), filepath.FromSlash(rel)), true
	}

	// Fallback: strip leading segments until the remainder exists under the
	// local root. Can false-positive when many projects share a file name;
	// the first hit wins.
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i := 1; i < len(segments); i++ {
		candidate := filepath.Join(filepath.FromSlash(m.localRoot), filepath.Join(segments[i:]...))
		if m.exists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// hasPrefixFold reports whether path starts with prefix on a segment
// boundary, comparing case-insensitively because the path may originate
// from a case-insensitive host filesystem.
func hasPrefixFold(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	if !strings.EqualFold(path[:len(prefix)], prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
