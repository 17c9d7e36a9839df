package cli

import (
	"bytes"
	"testing"
)

func TestNewRootCmd_RegistersAllVerbs(t *testing.T) {
	root := NewRootCmd("test")
	want := []string{
		"init", "status", "log", "info", "flush", "restore", "diff",
		"pin", "unpin", "gc", "publish", "push", "pull",
	}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil {
			t.Fatalf("command %q not found: %v", name, err)
		}
		if cmd.Name() != name {
			t.Errorf("Find(%q) resolved to %q", name, cmd.Name())
		}
	}
}

func TestNewRootCmd_VersionFlag(t *testing.T) {
	root := NewRootCmd("1.2.3")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("--version failed: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("1.2.3")) {
		t.Errorf("--version output missing version string: %q", out.String())
	}
}

func TestDiscoverRoot_NoEngineDir(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := discoverRoot(); err == nil {
		t.Fatal("expected an error when no .timelapse ancestor exists")
	}
}
