package cli

import (
	"strings"
	"testing"
)

func TestRenderMarkdown_StripsTagsAndAppliesStyle(t *testing.T) {
	out, err := renderMarkdown("# Title\n\nSome **bold** and `code`.\n\n- one\n- two\n")
	if err != nil {
		t.Fatalf("renderMarkdown: %v", err)
	}
	if strings.Contains(out, "<") || strings.Contains(out, ">") {
		t.Errorf("output still contains HTML tags: %q", out)
	}
	if !strings.Contains(out, "\033[1mTitle\033[0m") {
		t.Errorf("heading not bolded: %q", out)
	}
	if !strings.Contains(out, "\033[36mcode\033[0m") {
		t.Errorf("inline code not colored: %q", out)
	}
	if !strings.Contains(out, "• one") || !strings.Contains(out, "• two") {
		t.Errorf("list items not bulleted: %q", out)
	}
}

func TestTopicNames_Sorted(t *testing.T) {
	names := topicNames()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("topicNames() not sorted: %v", names)
		}
	}
	if len(names) != len(helpTopics) {
		t.Fatalf("topicNames() length %d, want %d", len(names), len(helpTopics))
	}
}
