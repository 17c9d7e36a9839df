package ignore

import (
	"os"
	"path/filepath"
	"testing"
)

func writeIgnoreFile(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ignore")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.IsIgnored("anything.txt", false) {
		t.Fatal("empty matcher should ignore nothing")
	}
}

func TestEngineDirAlwaysIgnored(t *testing.T) {
	m, err := Load(writeIgnoreFile(t))
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsIgnored(DefaultEngineDirName, true) {
		t.Fatal("engine dir must always be ignored")
	}
	if !m.IsIgnored(DefaultEngineDirName+"/journal", false) {
		t.Fatal("engine dir contents must always be ignored")
	}
}

func TestBasicPatterns(t *testing.T) {
	m, err := Load(writeIgnoreFile(t, "*.log", "build/", "!important.log"))
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"debug.log", false, true},
		{"important.log", false, false},
		{"build", true, true},
		{"build/output.bin", false, false}, // dirOnly pattern matches the dir itself, not nested files here
		{"src/main.go", false, false},
	}
	for _, c := range cases {
		if got := m.IsIgnored(c.path, c.isDir); got != c.want {
			t.Errorf("IsIgnored(%q, %v) = %v, want %v", c.path, c.isDir, got, c.want)
		}
	}
}

func TestDoubleStarGlob(t *testing.T) {
	m, err := Load(writeIgnoreFile(t, "**/node_modules", "vendor/**/testdata"))
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsIgnored("a/b/node_modules", true) {
		t.Fatal("leading ** should match at any depth")
	}
	if !m.IsIgnored("vendor/pkg/sub/testdata", true) {
		t.Fatal("embedded ** should match zero or more components")
	}
	if m.IsIgnored("src/main.go", false) {
		t.Fatal("unrelated path must not match")
	}
}

func TestNegationOverridesLaterWins(t *testing.T) {
	m, err := Load(writeIgnoreFile(t, "*.txt", "!keep.txt", "*.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !m.IsIgnored("keep.txt", false) {
		t.Fatal("a later re-exclude pattern must win over an earlier negation")
	}
}
