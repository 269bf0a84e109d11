package parser

import (
	"strings"
	"testing"
)

func TestParseSingleToolUse(t *testing.T) {
	blocks := Parse("<read_file><path>a.txt</path></read_file>")
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %#v", len(blocks), blocks)
	}
	if blocks[0].Kind != BlockText || blocks[0].Content != "" || blocks[0].Partial {
		t.Fatalf("expected complete empty text block, got %#v", blocks[0])
	}
	tool := blocks[1]
	if tool.Kind != BlockToolUse || tool.Name != ToolReadFile || tool.Partial {
		t.Fatalf("unexpected tool block: %#v", tool)
	}
	if got := tool.Params[ParamPath]; got != "a.txt" {
		t.Fatalf("expected path a.txt, got %q", got)
	}
}

func TestParsePartialTagStripped(t *testing.T) {
	blocks := Parse("hello <read")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Content != "hello" || !blocks[0].Partial {
		t.Fatalf("expected partial text %q, got %#v", "hello", blocks[0])
	}

	blocks = Parse("hello <read_file><path>x</path></read_file>")
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Content != "hello" || blocks[0].Partial {
		t.Fatalf("expected complete text %q, got %#v", "hello", blocks[0])
	}
	if blocks[1].Name != ToolReadFile || blocks[1].Params[ParamPath] != "x" || blocks[1].Partial {
		t.Fatalf("unexpected tool block: %#v", blocks[1])
	}
}

func TestParseUnknownTagStaysLiteral(t *testing.T) {
	blocks := Parse("see <b>bold</b> text")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Kind != BlockText || blocks[0].Content != "see <b>bold</b> text" {
		t.Fatalf("unexpected block: %#v", blocks[0])
	}
}

func TestParsePartialParameter(t *testing.T) {
	blocks := Parse("<execute_command><command>ls -")
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	tool := blocks[1]
	if !tool.Partial {
		t.Fatalf("expected partial tool use, got %#v", tool)
	}
	if got := tool.Params[ParamCommand]; got != "ls -" {
		t.Fatalf("expected in-progress command value, got %q", got)
	}
}

func TestParseMissingParameterStaysAbsent(t *testing.T) {
	blocks := Parse("<read_file></read_file>")
	tool := blocks[len(blocks)-1]
	if tool.Partial {
		t.Fatalf("expected complete tool use, got %#v", tool)
	}
	if _, ok := tool.Params[ParamPath]; ok {
		t.Fatalf("path should be absent, got %#v", tool.Params)
	}
}

func TestParseWriteToFileContentKeepsEmbeddedCloseTag(t *testing.T) {
	content := "line1\n</content>\nline2"
	text := "<write_to_file><path>f.txt</path><content>" + content + "</content></write_to_file>"
	blocks := Parse(text)
	tool := blocks[len(blocks)-1]
	if tool.Name != ToolWriteToFile || tool.Partial {
		t.Fatalf("unexpected block: %#v", tool)
	}
	if got := tool.Params[ParamContent]; got != content {
		t.Fatalf("content mangled:\nwant %q\ngot  %q", content, got)
	}
	if got := tool.Params[ParamPath]; got != "f.txt" {
		t.Fatalf("expected path f.txt, got %q", got)
	}
}

func TestParseTextBetweenToolUses(t *testing.T) {
	text := "first<read_file><path>a</path></read_file>then some text<list_files><path>.</path></list_files>tail"
	blocks := Parse(text)
	if len(blocks) != 5 {
		t.Fatalf("expected 5 blocks, got %d: %#v", len(blocks), blocks)
	}
	if blocks[0].Content != "first" || blocks[2].Content != "then some text" {
		t.Fatalf("unexpected text blocks: %#v %#v", blocks[0], blocks[2])
	}
	if blocks[4].Content != "tail" || !blocks[4].Partial {
		t.Fatalf("trailing text should remain partial: %#v", blocks[4])
	}
}

// Finalized blocks from any prefix parse must be a prefix of the finalized
// blocks of the full parse.
func TestParsePrefixStability(t *testing.T) {
	full := "I will read the file.<read_file><path>main.go</path></read_file>Now writing.<write_to_file><path>out.txt</path><content>hi there</content></write_to_file>done"
	final := completedBlocks(Parse(full))

	for i := 1; i <= len(full); i++ {
		prefix := completedBlocks(Parse(full[:i]))
		if len(prefix) > len(final) {
			t.Fatalf("prefix %d produced more finalized blocks than full parse", i)
		}
		for j, b := range prefix {
			if b.Kind != final[j].Kind || b.Content != final[j].Content || b.Name != final[j].Name {
				t.Fatalf("prefix %d block %d diverged: %#v vs %#v", i, j, b, final[j])
			}
		}
	}
}

func TestParseRepeatedCallsStable(t *testing.T) {
	text := "<execute_command><command>echo hi</command></execute_command>"
	for i := 0; i < 3; i++ {
		blocks := Parse(text)
		if len(blocks) != 2 || blocks[1].Params[ParamCommand] != "echo hi" {
			t.Fatalf("parse %d unstable: %#v", i, blocks)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	blocks := Parse("<read_file><path>a</path></read_file>")
	tool := blocks[1]
	clone := tool.Clone()
	clone.Params[ParamPath] = "changed"
	if tool.Params[ParamPath] != "a" {
		t.Fatalf("clone mutated original params")
	}
}

func completedBlocks(blocks []ContentBlock) []ContentBlock {
	var out []ContentBlock
	for _, b := range blocks {
		if !b.Partial {
			out = append(out, b)
		}
	}
	return out
}

func TestParseLongStreamNeverPanics(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("thinking...")
	sb.WriteString("<search_files><path>src</path><regex>func \\w+</regex><file_pattern>*.go</file_pattern></search_files>")
	sb.WriteString("<attempt_completion><result>all done</result></attempt_completion>")
	text := sb.String()
	for i := 0; i <= len(text); i++ {
		Parse(text[:i])
	}
	blocks := Parse(text)
	last := blocks[len(blocks)-1]
	if last.Name != ToolAttemptCompletion || last.Params[ParamResult] != "all done" {
		t.Fatalf("unexpected final block: %#v", last)
	}
}
