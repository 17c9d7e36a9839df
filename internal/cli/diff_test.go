package cli

import "testing"

func TestTruncatePath(t *testing.T) {
	short := "src/main.go"
	if got := truncatePath(short, 72); got != short {
		t.Errorf("short path got mangled: %q", got)
	}

	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	got := truncatePath(long, 20)
	if len([]rune(got)) != 20 {
		t.Errorf("truncatePath(_, 20) returned %d clusters, want 20: %q", len([]rune(got)), got)
	}
	if r := []rune(got); len(r) == 0 || r[0] != '…' {
		t.Errorf("truncated path should start with an ellipsis, got %q", got)
	}
}
