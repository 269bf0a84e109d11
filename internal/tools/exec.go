package tools

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ccrvlh/codey-sub000/internal/engine"
	"github.com/ccrvlh/codey-sub000/internal/parser"
)

// commandWaitMax bounds how long the turn blocks on a command overall.
// commandQuietWindow: once output stops this long with the process still
// alive, snapshot what we have and let it keep running in the background.
// Vars so tests can shorten them.
var (
	commandWaitMax     = 2 * time.Minute
	commandQuietWindow = 15 * time.Second
)

// runExecuteCommand runs a shell command in the workspace, streaming output
// lines into the transcript as they arrive. It blocks until the process
// exits, the output goes quiet, or the overall wait expires; a still-running
// process is reported as such rather than blocking the task indefinitely.
func (tb *Table) runExecuteCommand(ctx context.Context, task *engine.Task, params map[parser.ParamName]string) (string, error) {
	command := strings.TrimSpace(params[parser.ParamCommand])
	if command == "" {
		return "", fmt.Errorf("empty command")
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = task.WorkspaceDir()
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("open stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start command: %w", err)
	}
	tb.log.WithField("task_id", task.ID).WithField("command", command).Info("command started")

	lineCh := make(chan string)
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lineCh <- scanner.Text()
		}
		close(lineCh)
	}()

	exitCh := make(chan error, 1)
	var collected []string
	collect := func(line string) {
		collected = append(collected, line)
		task.Say(ctx, engine.SayCommandOutput, line, false)
	}
	waitStarted := false
	deadline := time.NewTimer(commandWaitMax)
	defer deadline.Stop()
	quiet := time.NewTimer(commandQuietWindow)
	defer quiet.Stop()

	for {
		select {
		case line, ok := <-lineCh:
			if !ok {
				// Output closed: the process is exiting. Collect its status.
				if !waitStarted {
					waitStarted = true
					go func() { exitCh <- cmd.Wait() }()
				}
				select {
				case exitErr := <-exitCh:
					return commandResult(command, collected, exitErr), nil
				case <-time.After(5 * time.Second):
					return backgroundResult(command, collected), nil
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			collect(line)
			if !quiet.Stop() {
				select {
				case <-quiet.C:
				default:
				}
			}
			quiet.Reset(commandQuietWindow)

		case <-quiet.C:
			// No output for a while and the pipe is still open: the process
			// is alive. Keep draining in the background so it is not blocked
			// on a full pipe, but give the turn back to the model.
			go func() {
				for range lineCh {
				}
				_ = cmd.Wait()
			}()
			return backgroundResult(command, collected), nil

		case <-deadline.C:
			go func() {
				for range lineCh {
				}
				_ = cmd.Wait()
			}()
			return backgroundResult(command, collected), nil

		case <-ctx.Done():
			_ = cmd.Process.Kill()
			go func() {
				for range lineCh {
				}
				_ = cmd.Wait()
			}()
			return "", ctx.Err()
		}
	}
}

func commandResult(command string, output []string, exitErr error) string {
	var sb strings.Builder
	if exitErr != nil {
		fmt.Fprintf(&sb, "Command %q failed: %v", command, exitErr)
	} else {
		fmt.Fprintf(&sb, "Command %q completed successfully.", command)
	}
	if len(output) > 0 {
		sb.WriteString("\nOutput:\n")
		sb.WriteString(strings.Join(output, "\n"))
	}
	return sb.String()
}

func backgroundResult(command string, output []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Command %q is still running in the background. You can continue the task; its output so far:\n", command)
	sb.WriteString(strings.Join(output, "\n"))
	return sb.String()
}
