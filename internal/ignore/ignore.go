// Package ignore implements the single repo-root ignore file described in
// the engine's on-disk layout: a gitignore-syntax pattern list read once at
// daemon start and never re-scanned from subdirectories.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Pattern is a single parsed ignore-file line.
type Pattern struct {
	pattern  string
	negated  bool
	dirOnly  bool
	anchored bool
}

// Matcher answers whether a relative path should be excluded from tracking.
// Unlike gitignore, Timelapse's ignore file is a single flat list loaded
// once at daemon start; there is no per-subdirectory merging.
type Matcher struct {
	patterns []Pattern
}

// DefaultEngineDirName is always ignored regardless of the ignore file's
// contents, since tracking the engine's own metadata would be self-referential.
const DefaultEngineDirName = ".timelapse"

// Load reads the ignore file at path (if it exists; a missing file yields an
// empty, always-matching-nothing Matcher) and returns a Matcher ready to use.
func Load(path string) (*Matcher, error) {
	m := &Matcher{}
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled, within the repository
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		pat, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		m.patterns = append(m.patterns, pat)
	}
	return m, scanner.Err()
}

// IsIgnored reports whether relPath (forward-slash separated, relative to
// the repository root) should be excluded from tracking. Later patterns
// override earlier ones, same precedence as gitignore. The engine directory
// and the .git, .hg and .svn directories at the repository root are always
// excluded.
func (m *Matcher) IsIgnored(relPath string, isDir bool) bool {
	for _, dir := range []string{DefaultEngineDirName, ".git", ".hg", ".svn"} {
		if relPath == dir || strings.HasPrefix(relPath, dir+"/") {
			return true
		}
	}
	ignored := false
	for _, pat := range m.patterns {
		if pat.dirOnly && !isDir {
			continue
		}
		if matchPattern(pat, relPath) {
			ignored = !pat.negated
		}
	}
	return ignored
}

func parseLine(line string) (Pattern, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || line[0] == '#' {
		return Pattern{}, false
	}

	var pat Pattern
	if line[0] == '!' {
		pat.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		pat.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		pat.anchored = true
		line = line[1:]
	}
	if strings.Contains(line, "/") {
		remainder := strings.TrimPrefix(line, "**/")
		if strings.Contains(remainder, "/") {
			pat.anchored = true
		} else if !strings.HasPrefix(line, "**/") {
			pat.anchored = true
		}
	}

	pat.pattern = line
	return pat, line != ""
}

func matchPattern(pat Pattern, relPath string) bool {
	if pat.anchored {
		return matchGlob(pat.pattern, relPath)
	}

	base := relPath
	if idx := strings.LastIndex(relPath, "/"); idx >= 0 {
		base = relPath[idx+1:]
	}
	if matchGlob(pat.pattern, base) {
		return true
	}
	return matchGlob(pat.pattern, relPath)
}

// matchGlob matches a gitignore-style glob, handling "**" as a wildcard for
// zero or more path components, which filepath.Match cannot express.
func matchGlob(pattern, name string) bool {
	if !strings.Contains(pattern, "**") {
		matched, _ := filepath.Match(pattern, name)
		return matched
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(patParts, nameParts []string) bool {
	pi, ni := 0, 0
	for pi < len(patParts) && ni < len(nameParts) {
		if patParts[pi] == "**" {
			pi++
			if pi >= len(patParts) {
				return true
			}
			for tryNi := ni; tryNi <= len(nameParts); tryNi++ {
				if matchSegments(patParts[pi:], nameParts[tryNi:]) {
					return true
				}
			}
			return false
		}
		matched, _ := filepath.Match(patParts[pi], nameParts[ni])
		if !matched {
			return false
		}
		pi++
		ni++
	}
	for pi < len(patParts) {
		if patParts[pi] != "**" {
			return false
		}
		pi++
	}
	return ni >= len(nameParts)
}
