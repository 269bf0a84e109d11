package engine

// Conversation history helpers: one-shot truncation under token pressure and
// the tool-use/tool-result pairing repair used on abort and resume.

// TruncationBuffer is subtracted from the context window to decide whether
// the previous request got close enough to the limit to compact.
const TruncationBuffer = 40000

// ShouldTruncate reports whether the previous request's total token usage
// leaves too little room in the context window for another turn.
func ShouldTruncate(lastRequestTokens, contextWindow int) bool {
	if contextWindow <= 0 || lastRequestTokens <= 0 {
		return false
	}
	threshold := contextWindow - TruncationBuffer
	if scaled := contextWindow * 8 / 10; scaled > threshold {
		threshold = scaled
	}
	return lastRequestTokens >= threshold
}

// TruncateHistory drops roughly the older half of the conversation in one
// shot. The first message (the original task statement) is always retained,
// the removed count is even, and the message following the retained head is
// an assistant message. Repaired history can carry consecutive user messages
// (an injected placeholder result next to the following turn), so the
// boundary message is flattened into a plain assistant text message when it
// does not already have that role. Compaction is deliberately infrequent: a
// sliding window would invalidate backend response caching on every turn.
func TruncateHistory(history []Message) []Message {
	if len(history) < 4 {
		return history
	}
	remove := (len(history) / 4) * 2
	if remove == 0 {
		return history
	}
	out := make([]Message, 0, len(history)-remove)
	out = append(out, history[0])
	out = append(out, history[remove+1:]...)
	if len(out) > 1 && out[1].Role != RoleAssistant {
		text := HistoryText(out[1])
		if text == "" {
			text = "(earlier messages removed)"
		}
		out[1] = Message{Role: RoleAssistant, Parts: []Part{TextPart(text)}}
	}
	return out
}

// InterruptedToolResult is the placeholder text standing in for a result the
// tool never produced.
const InterruptedToolResult = "Tool execution was interrupted before a result was produced."

// RepairHistory re-establishes the invariant that every tool-use part in an
// assistant message is answered before the next assistant message. Dangling
// invocations (from an aborted or interrupted turn) get a synthesized
// placeholder result injected immediately after their message.
func RepairHistory(history []Message) []Message {
	answered := answeredToolIDs(history)
	out := make([]Message, 0, len(history))
	for _, msg := range history {
		out = append(out, msg)
		if msg.Role != RoleAssistant {
			continue
		}
		var parts []Part
		for _, p := range msg.Parts {
			if p.Kind == PartToolUse && p.ToolID != "" && !answered[p.ToolID] {
				parts = append(parts, ToolResultPart(p.ToolID, p.ToolName, InterruptedToolResult))
			}
		}
		if len(parts) > 0 {
			out = append(out, Message{Role: RoleUser, Parts: parts})
		}
	}
	return out
}

func answeredToolIDs(history []Message) map[string]bool {
	answered := map[string]bool{}
	for _, msg := range history {
		if msg.Role != RoleUser {
			continue
		}
		for _, p := range msg.Parts {
			if p.Kind == PartToolResult && p.ToolID != "" {
				answered[p.ToolID] = true
			}
		}
	}
	return answered
}

// HistoryText flattens a message's text-bearing parts for providers that
// take plain text turns.
func HistoryText(msg Message) string {
	var out string
	for _, p := range msg.Parts {
		switch p.Kind {
		case PartText:
			out += p.Text
		case PartToolResult:
			if out != "" {
				out += "\n"
			}
			out += "[" + p.ToolName + " result]\n" + p.Text
		case PartToolUse:
			if out != "" {
				out += "\n"
			}
			out += "[used " + p.ToolName + "]"
		}
	}
	return out
}
