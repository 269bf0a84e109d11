// Package parser turns a growing stream of assistant text into an ordered
// list of content blocks. The grammar is a flat, tag-delimited vocabulary:
// <tool_name><param>value</param>...</tool_name>, with plain narrative text
// between tool uses. Parse is pure: call it again with a longer input and the
// previously completed blocks come back unchanged.
package parser

import "strings"

type ToolName string

const (
	ToolExecuteCommand     ToolName = "execute_command"
	ToolReadFile           ToolName = "read_file"
	ToolWriteToFile        ToolName = "write_to_file"
	ToolSearchFiles        ToolName = "search_files"
	ToolListFiles          ToolName = "list_files"
	ToolListDefinitions    ToolName = "list_code_definition_names"
	ToolInspectSite        ToolName = "inspect_site"
	ToolAskFollowup        ToolName = "ask_followup_question"
	ToolAttemptCompletion  ToolName = "attempt_completion"
	ToolSearchReplace      ToolName = "search_replace"
	ToolInsertCodeBlock    ToolName = "insert_code_block"
)

var ToolNames = []ToolName{
	ToolExecuteCommand,
	ToolReadFile,
	ToolWriteToFile,
	ToolSearchFiles,
	ToolListFiles,
	ToolListDefinitions,
	ToolInspectSite,
	ToolAskFollowup,
	ToolAttemptCompletion,
	ToolSearchReplace,
	ToolInsertCodeBlock,
}

type ParamName string

const (
	ParamCommand     ParamName = "command"
	ParamPath        ParamName = "path"
	ParamLines       ParamName = "lines"
	ParamContent     ParamName = "content"
	ParamRegex       ParamName = "regex"
	ParamFilePattern ParamName = "file_pattern"
	ParamRecursive   ParamName = "recursive"
	ParamURL         ParamName = "url"
	ParamQuestion    ParamName = "question"
	ParamResult      ParamName = "result"
	ParamPosition    ParamName = "position"
)

var ParamNames = []ParamName{
	ParamCommand,
	ParamPath,
	ParamLines,
	ParamContent,
	ParamRegex,
	ParamFilePattern,
	ParamRecursive,
	ParamURL,
	ParamQuestion,
	ParamResult,
	ParamPosition,
}

func IsToolName(name string) bool {
	for _, t := range ToolNames {
		if string(t) == name {
			return true
		}
	}
	return false
}

type BlockKind string

const (
	BlockText    BlockKind = "text"
	BlockToolUse BlockKind = "tool_use"
)

// ContentBlock is one parsed unit of assistant output. A text block carries
// Content; a tool-use block carries Name and Params. While Partial is true
// the block's extent may still grow; once false it is immutable.
type ContentBlock struct {
	Kind    BlockKind
	Content string
	Name    ToolName
	Params  map[ParamName]string
	Partial bool
}

// Clone returns a deep copy so a presenter can hold a stable snapshot while
// the parser keeps mutating the open block on subsequent calls.
func (b ContentBlock) Clone() ContentBlock {
	out := b
	if b.Params != nil {
		out.Params = make(map[ParamName]string, len(b.Params))
		for k, v := range b.Params {
			out.Params[k] = v
		}
	}
	return out
}

// Parse scans the full accumulated assistant text and returns the ordered
// block list. Unknown or malformed tags stay literal text; the scanner only
// ever recognizes the fixed vocabulary, so it cannot fail.
func Parse(text string) []ContentBlock {
	var blocks []ContentBlock

	var currentText *ContentBlock
	textStart := 0

	var currentTool *ContentBlock
	toolStart := 0

	var currentParam ParamName
	paramStart := 0

	for i := 0; i < len(text); i++ {
		acc := text[:i+1]

		if currentTool != nil && currentParam != "" {
			value := acc[paramStart:]
			closeTag := "</" + string(currentParam) + ">"
			if strings.HasSuffix(value, closeTag) {
				currentTool.Params[currentParam] = strings.TrimSuffix(value, closeTag)
				currentParam = ""
			}
			continue
		}

		if currentTool != nil {
			span := acc[toolStart:]
			closeTag := "</" + string(currentTool.Name) + ">"
			if strings.HasSuffix(span, closeTag) {
				finishToolUse(currentTool, span, closeTag)
				blocks = append(blocks, *currentTool)
				currentTool = nil
				continue
			}
			for _, p := range ParamNames {
				openTag := "<" + string(p) + ">"
				if strings.HasSuffix(span, openTag) {
					currentParam = p
					paramStart = len(acc)
					break
				}
			}
			continue
		}

		started := false
		for _, t := range ToolNames {
			openTag := "<" + string(t) + ">"
			if strings.HasSuffix(acc, openTag) {
				// A tool opening force-closes any open text block, with the
				// opening tag stripped from its tail.
				if currentText != nil {
					currentText.Content = strings.TrimSpace(strings.TrimSuffix(acc[textStart:], openTag))
					currentText.Partial = false
					blocks = append(blocks, *currentText)
					currentText = nil
				}
				currentTool = &ContentBlock{
					Kind:    BlockToolUse,
					Name:    t,
					Params:  map[ParamName]string{},
					Partial: true,
				}
				toolStart = len(acc)
				started = true
				break
			}
		}
		if started {
			continue
		}

		if currentText == nil {
			currentText = &ContentBlock{Kind: BlockText, Partial: true}
			textStart = i
		}
		currentText.Content = acc[textStart:]
	}

	switch {
	case currentTool != nil && currentParam != "":
		// End of input mid-parameter: commit the accumulated value as-is.
		currentTool.Params[currentParam] = text[paramStart:]
		blocks = append(blocks, *currentTool)
	case currentTool != nil:
		blocks = append(blocks, *currentTool)
	case currentText != nil:
		currentText.Content = strings.TrimSpace(stripPartialTag(currentText.Content))
		blocks = append(blocks, *currentText)
	}

	return blocks
}

// finishToolUse closes a tool-use block. write_to_file's content parameter is
// re-captured from the first <content> to the last </content> inside the tool
// span so file contents that themselves contain a stray closing tag survive.
func finishToolUse(tool *ContentBlock, span, closeTag string) {
	body := strings.TrimSuffix(span, closeTag)
	if tool.Name == ToolWriteToFile {
		openTag := "<" + string(ParamContent) + ">"
		contentClose := "</" + string(ParamContent) + ">"
		start := strings.Index(body, openTag)
		end := strings.LastIndex(body, contentClose)
		if start >= 0 && end > start {
			tool.Params[ParamContent] = body[start+len(openTag) : end]
		}
	}
	tool.Partial = false
}

// stripPartialTag removes a trailing fragment that could still grow into a
// known opening tag, e.g. "hello <read" presents as "hello". Fragments that
// cannot become a vocabulary tag stay literal text.
func stripPartialTag(content string) string {
	idx := strings.LastIndex(content, "<")
	if idx < 0 {
		return content
	}
	frag := content[idx:]
	if strings.ContainsAny(frag, "> \n\t") {
		return content
	}
	name := frag[1:]
	for _, t := range ToolNames {
		if strings.HasPrefix(string(t), name) {
			return strings.TrimRight(content[:idx], " ")
		}
	}
	return content
}
