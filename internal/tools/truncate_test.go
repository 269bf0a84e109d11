package tools

import (
	"strings"
	"testing"
)

func TestTruncateOutput(t *testing.T) {
	short := "small output"
	if got := truncateOutput(short); got != short {
		t.Errorf("short output modified: %q", got)
	}

	long := strings.Repeat("a", 20000) + "MIDDLE" + strings.Repeat("z", 20000)
	got := truncateOutput(long)
	if len(got) > maxResultChars+100 {
		t.Errorf("truncated output still %d chars", len(got))
	}
	if !strings.HasPrefix(got, "aaa") || !strings.HasSuffix(got, "zzz") {
		t.Errorf("head/tail not preserved")
	}
	if !strings.Contains(got, "characters omitted") {
		t.Errorf("no elision marker in %q...", got[:100])
	}
}

func TestTruncateLines(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}
	if got := truncateLines(lines, 10); len(got) != 4 {
		t.Errorf("under-limit list modified: %v", got)
	}
	got := truncateLines(lines, 2)
	if len(got) != 3 || !strings.Contains(got[2], "2 more lines") {
		t.Errorf("truncated = %v", got)
	}
}
