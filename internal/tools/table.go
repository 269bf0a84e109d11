// Package tools implements the tool dispatch table: validation, the approval
// gate, and the executors behind every tool the model can invoke. All
// filesystem effects are confined to the task's workspace directory.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccrvlh/codey-sub000/internal/engine"
	"github.com/ccrvlh/codey-sub000/internal/parser"
)

// Table routes tool-use blocks to their executors. It implements
// engine.Dispatcher. One Table serves all tasks; per-task state (workspace
// dir, rejection flag, single-flight guard) lives on the Task.
type Table struct {
	log    *logrus.Entry
	client *http.Client
}

func NewTable(log *logrus.Entry) *Table {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Table{
		log: log,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type runFunc func(tb *Table, ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error)

type toolSpec struct {
	required []parser.ParamName
	// askKind selects the approval prompt; empty means the executor runs its
	// own interaction (followup question, completion).
	askKind engine.AskKind
	run     runFunc
}

var toolSpecs = map[parser.ToolName]toolSpec{
	parser.ToolExecuteCommand: {
		required: []parser.ParamName{parser.ParamCommand},
		askKind:  engine.AskCommand,
		run:      (*Table).runExecuteCommand,
	},
	parser.ToolReadFile: {
		required: []parser.ParamName{parser.ParamPath},
		askKind:  engine.AskTool,
		run:      (*Table).runReadFile,
	},
	parser.ToolWriteToFile: {
		required: []parser.ParamName{parser.ParamPath, parser.ParamContent},
		askKind:  engine.AskTool,
		run:      (*Table).runWriteToFile,
	},
	parser.ToolSearchReplace: {
		required: []parser.ParamName{parser.ParamPath, parser.ParamContent},
		askKind:  engine.AskTool,
		run:      (*Table).runSearchReplace,
	},
	parser.ToolInsertCodeBlock: {
		required: []parser.ParamName{parser.ParamPath, parser.ParamPosition, parser.ParamContent},
		askKind:  engine.AskTool,
		run:      (*Table).runInsertCodeBlock,
	},
	parser.ToolSearchFiles: {
		required: []parser.ParamName{parser.ParamRegex},
		askKind:  engine.AskTool,
		run:      (*Table).runSearchFiles,
	},
	parser.ToolListFiles: {
		askKind: engine.AskTool,
		run:     (*Table).runListFiles,
	},
	parser.ToolListDefinitions: {
		askKind: engine.AskTool,
		run:     (*Table).runListDefinitions,
	},
	parser.ToolInspectSite: {
		required: []parser.ParamName{parser.ParamURL},
		askKind:  engine.AskTool,
		run:      (*Table).runInspectSite,
	},
	parser.ToolAskFollowup: {
		required: []parser.ParamName{parser.ParamQuestion},
		run:      (*Table).runAskFollowup,
	},
	parser.ToolAttemptCompletion: {
		required: []parser.ParamName{parser.ParamResult},
		run:      (*Table).runAttemptCompletion,
	},
}

// Execute runs the four-phase tool protocol: partial preview, parameter
// validation, approval gate, execute-and-report.
func (tb *Table) Execute(ctx context.Context, task *engine.Task, block parser.ContentBlock) {
	if block.Kind != parser.BlockToolUse {
		return
	}
	spec, ok := toolSpecs[block.Name]
	if !ok {
		return
	}

	if task.Rejected() {
		if !block.Partial {
			task.PushToolResult(fmt.Sprintf("Skipping %s: the user rejected a previous tool in this turn.", block.Name))
		}
		return
	}

	if block.Partial {
		task.Say(ctx, engine.SayTool, approvalPayload(block), true)
		return
	}

	if !task.BeginToolExecution() {
		return
	}
	defer task.EndToolExecution()

	for _, p := range spec.required {
		if _, ok := block.Params[p]; !ok {
			tb.log.WithField("tool", block.Name).WithField("param", p).Warn("missing tool parameter")
			task.CountMistake()
			task.Say(ctx, engine.SayError, fmt.Sprintf("%s invoked without required parameter %q", block.Name, p), false)
			task.PushToolResult(missingParamResult(block.Name, p))
			return
		}
	}
	task.MarkToolUsed()
	task.ResetMistakes()

	if spec.askKind != "" {
		resp, err := task.Ask(ctx, spec.askKind, approvalPayload(block))
		if err != nil {
			task.PushToolResult("Error: approval failed: " + err.Error())
			return
		}
		switch resp.Response {
		case engine.AskApproved:
		case engine.AskFeedback:
			task.SetRejected()
			task.PushToolResult(deniedWithFeedback(resp.Text))
			return
		default:
			task.SetRejected()
			task.PushToolResult("The user denied this operation.")
			return
		}
	}

	result, err := spec.run(tb, ctx, task, block.Params)
	if err != nil {
		tb.log.WithError(err).WithField("tool", block.Name).Warn("tool execution failed")
		task.Say(ctx, engine.SayError, fmt.Sprintf("%s failed: %v", block.Name, err), false)
		task.PushToolResult(fmt.Sprintf("Error executing %s: %v", block.Name, err))
		return
	}
	if result != "" {
		task.PushToolResult(truncateOutput(result))
	}
}

func missingParamResult(tool parser.ToolName, param parser.ParamName) string {
	return fmt.Sprintf("Error: missing required parameter %q for %s. Retry with the complete tool invocation.", param, tool)
}

func deniedWithFeedback(feedback string) string {
	return "The user denied this operation and provided the following feedback:\n<feedback>\n" + feedback + "\n</feedback>"
}

// approvalPayload renders the fully-resolved action for the approval prompt
// and for partial previews.
func approvalPayload(block parser.ContentBlock) string {
	params := map[string]string{}
	for k, v := range block.Params {
		params[string(k)] = v
	}
	out, err := json.Marshal(struct {
		Tool   string            `json:"tool"`
		Params map[string]string `json:"params"`
	}{Tool: string(block.Name), Params: params})
	if err != nil {
		return string(block.Name)
	}
	return string(out)
}
