// Package pathvirt implements the path-truncation mapping between a
// configured host prefix and the virtualized "/" view.
// Grounded directly on the original's src/common/path_truncate.c: the
// segment-walk normalization, primary/alias prefix pair (stripping a
// leading "/private" on Darwin), and the /dev/null /dev/zero special case
// all mirror that implementation line for line in Go idiom.
package pathvirt

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/emkey1/pscal-vproc/pkg/vprocerr"
)

// maxPathLen and maxDepth bound normalization the way PATH_MAX and a fixed
// anchor-stack size did in the original; exceeding either yields
// ENAMETOOLONG.
const (
	maxPathLen = 4096
	maxDepth   = 2048
)

const privatePrefix = "/private"

// Truncate holds the process-wide prefix pair: primary and, when primary
// begins with "/private", the alias with that prefix stripped. It is a
// singleton by nature — "this process impersonating many" needs exactly
// one truncation root — constructed explicitly at startup rather than
// lazily.
type Truncate struct {
	mu      sync.RWMutex
	primary string
	alias   string
}

// New builds an empty Truncate. The prefix is read from PATH_TRUNCATE on
// each use; ApplyEnvironment sets that variable and provisions the tree.
func New() *Truncate {
	return &Truncate{}
}

// Enabled reports whether PATH_TRUNCATE currently names a usable prefix.
func (t *Truncate) Enabled() bool {
	_, _, ok := t.fetchPrefix()
	return ok
}

// fetchPrefix re-reads PATH_TRUNCATE from the environment, resolves it,
// stores the primary/alias pair, and returns the primary prefix. Re-reading
// on every call (rather than caching indefinitely) matches the original's
// behavior of trusting the environment as the source of truth; every call
// resolves symlinks in the prefix again and re-stores the pair.
func (t *Truncate) fetchPrefix() (prefix string, length int, ok bool) {
	env, ok := os.LookupEnv("PATH_TRUNCATE")
	if !ok {
		return "", 0, false
	}
	env = strings.TrimSpace(env)
	if env == "" || env[0] != '/' {
		return "", 0, false
	}

	source := env
	if resolved, err := filepath.EvalSymlinks(env); err == nil {
		source = resolved
	}
	source = trimTrailingSlashes(source)
	if source == "" {
		return "", 0, false
	}

	t.storePrefix(source)

	t.mu.RLock()
	primary := t.primary
	t.mu.RUnlock()

	if primary == "/" {
		// A PATH_TRUNCATE of "/" is not useful; fall back to the sandbox home.
		if home, ok := os.LookupEnv("HOME"); ok && strings.HasPrefix(home, "/") {
			home = trimTrailingSlashes(home)
			if home != "" {
				t.storePrefix(home)
			}
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.primary, len(t.primary), t.primary != ""
}

func (t *Truncate) storePrefix(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.primary = source
	t.alias = ""
	if len(source) > len(privatePrefix) && strings.HasPrefix(source, privatePrefix) {
		t.alias = source[len(privatePrefix):]
	}
}

func trimTrailingSlashes(s string) string {
	for len(s) > 1 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// matchPrefix reports whether path (already normalized) falls under the
// primary or alias prefix, returning whichever matched and its length.
func (t *Truncate) matchPrefix(path string) (matched string, matchedLen int, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.primary != "" && hasPathPrefix(path, t.primary) {
		return t.primary, len(t.primary), true
	}
	if t.alias != "" && hasPathPrefix(path, t.alias) {
		return t.alias, len(t.alias), true
	}
	return "", 0, false
}

func hasPathPrefix(path, prefix string) bool {
	if len(path) < len(prefix) || !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// normalizeAbsolute walks input's segments the way the original's
// pathTruncateNormalizeAbsolute did: "." is dropped, ".." pops the last
// pushed segment (never past root), and the result is the canonical
// absolute form without resolving symlinks.
func normalizeAbsolute(input string) (string, error) {
	if input == "" || input[0] != '/' {
		return "", vprocerr.New(vprocerr.EINVAL, "normalizeAbsolute requires an absolute path")
	}

	anchors := make([]int, 0, 64)

	out := []byte{'/'}
	for _, seg := range strings.Split(input, "/") {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			if len(anchors) > 0 {
				last := anchors[len(anchors)-1]
				anchors = anchors[:len(anchors)-1]
				out = out[:last]
			}
			continue
		}
		if len(anchors) >= maxDepth {
			return "", vprocerr.New(vprocerr.ENAMETOOLONG, "path too deep")
		}
		if len(out) > 1 {
			out = append(out, '/')
		}
		anchorAt := len(out) - 1
		if anchorAt < 1 {
			anchorAt = 1
		}
		out = append(out, seg...)
		if len(out) >= maxPathLen {
			return "", vprocerr.New(vprocerr.ENAMETOOLONG, "path too long")
		}
		anchors = append(anchors, anchorAt)
	}
	if len(out) == 0 {
		out = []byte{'/'}
	}
	return string(out), nil
}

// Strip maps a host path back to its virtual form: if it falls under the
// primary or alias prefix, the prefix is replaced with "/"; otherwise the
// normalized input is returned (the input itself when the layer is
// inactive).
func (t *Truncate) Strip(absolutePath string) string {
	out, err := t.strip(absolutePath)
	if err != nil {
		return absolutePath
	}
	return out
}

func (t *Truncate) strip(absolutePath string) (string, error) {
	if absolutePath == "" {
		return "", nil
	}
	if _, _, ok := t.fetchPrefix(); !ok {
		return absolutePath, nil
	}

	source := absolutePath
	if absolutePath[0] == '/' {
		if normalized, err := normalizeAbsolute(absolutePath); err == nil {
			source = normalized
		}
	}

	_, matchedLen, ok := t.matchPrefix(source)
	if !ok {
		return source, nil
	}

	remainder := strings.TrimLeft(source[matchedLen:], "/")
	if remainder == "" {
		return "/", nil
	}
	return "/" + remainder, nil
}

// Expand maps a virtual/host-agnostic path to its on-disk host path under
// the configured prefix. On any internal failure it falls back to
// returning input verbatim.
func (t *Truncate) Expand(input string) string {
	out, err := t.expand(input)
	if err != nil {
		return input
	}
	return out
}

func (t *Truncate) expand(input string) (string, error) {
	if input == "" {
		return "", nil
	}

	primary, _, ok := t.fetchPrefix()
	if !ok || input[0] != '/' {
		return input, nil
	}

	// /dev/null and /dev/zero always resolve inside the sandboxed /dev so
	// they exist even before provisioning has run.
	if input == "/dev/null" || input == "/dev/zero" {
		leaf := strings.TrimPrefix(input, "/dev/")
		return primary + "/dev/" + leaf, nil
	}

	source := input
	if normalized, err := normalizeAbsolute(input); err == nil {
		source = normalized
	}

	matched, matchedLen, ok := t.matchPrefix(source)
	if ok {
		if matched == primary {
			return source, nil
		}
		return primary + source[matchedLen:], nil
	}

	trimmed := strings.TrimLeft(source, "/")
	if trimmed == "" {
		return primary, nil
	}
	if len(primary)+1+len(trimmed) >= maxPathLen {
		return "", vprocerr.New(vprocerr.ENAMETOOLONG, "expanded path too long")
	}
	return primary + "/" + trimmed, nil
}

// reservedSuffixes are exact-match reserved device paths that bypass
// virtualization entirely.
var reservedSuffixes = []string{"/dev/tty", "/dev/console", "/dev/ptmx", "/dev/location", "/dev/gps"}

// IsReservedDevicePath reports whether path is one of the reserved
// pseudo-paths that route to the host (or to virtual-tty registration for
// /dev/tty) rather than through expand/strip, mirroring the original's
// pathVirtualizedIsVprocDevicePath.
func IsReservedDevicePath(path string) bool {
	if path == "" || path[0] != '/' {
		return false
	}
	if strings.Contains(path, "/dev/location") || strings.Contains(path, "/dev/gps") {
		return true
	}

	candidate := strings.TrimPrefix(path, privatePrefix)
	if !strings.HasPrefix(candidate, "/dev/") {
		return false
	}
	for _, s := range reservedSuffixes {
		if candidate == s {
			return true
		}
	}
	if strings.HasPrefix(candidate, "/dev/pts/") {
		return true
	}
	if strings.HasPrefix(candidate, "/dev/tty") {
		digits := candidate[len("/dev/tty"):]
		if digits == "" {
			return true
		}
		for _, r := range digits {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}
