package tools

import (
	"context"

	"github.com/ccrvlh/codey-sub000/internal/engine"
	"github.com/ccrvlh/codey-sub000/internal/parser"
)

// runAskFollowup relays the model's question to the human and feeds the
// answer back as the tool result. No approval gate: the question itself is
// the interaction.
func (tb *Table) runAskFollowup(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	resp, err := task.Ask(ctx, engine.AskFollowup, params[parser.ParamQuestion])
	if err != nil {
		return "", err
	}
	return "<answer>\n" + resp.Text + "\n</answer>", nil
}

// runAttemptCompletion presents the final result. Approval ends the task;
// feedback re-enters the loop with the feedback as the tool result.
func (tb *Table) runAttemptCompletion(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	result := params[parser.ParamResult]
	task.Say(ctx, engine.SayCompletion, result, false)

	// An optional command demonstrates the result (e.g. run the new tests)
	// before the user passes judgment.
	if command := params[parser.ParamCommand]; command != "" {
		resp, err := task.Ask(ctx, engine.AskCommand, command)
		if err != nil {
			return "", err
		}
		if resp.Response == engine.AskApproved {
			out, runErr := tb.runExecuteCommand(ctx, task, map[parser.ParamName]string{parser.ParamCommand: command})
			if runErr != nil {
				return "Error running the demonstration command: " + runErr.Error(), nil
			}
			task.Say(ctx, engine.SayCommandOutput, out, false)
		}
	}

	resp, err := task.Ask(ctx, engine.AskCompletion, result)
	if err != nil {
		return "", err
	}
	if resp.Response == engine.AskApproved {
		task.MarkCompleted()
		return "", nil
	}
	return "The user is not satisfied with the result and provided feedback:\n<feedback>\n" + resp.Text + "\n</feedback>", nil
}
