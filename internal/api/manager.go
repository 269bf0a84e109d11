package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ccrvlh/codey-sub000/internal/config"
	"github.com/ccrvlh/codey-sub000/internal/engine"
	"github.com/ccrvlh/codey-sub000/internal/eventbus"
	"github.com/ccrvlh/codey-sub000/internal/idgen"
	"github.com/ccrvlh/codey-sub000/internal/prompt"
	"github.com/ccrvlh/codey-sub000/internal/state"
)

type ManagerDeps struct {
	Store      *state.Store
	Bus        *eventbus.Bus
	Provider   engine.Provider
	Dispatcher engine.Dispatcher
	Approver   *Approver
	Emitter    engine.Emitter
	Env        engine.Environment
	Log        *logrus.Entry
}

// Manager owns the live task set. One task drives the workspace at a time:
// starting a new task abandons the previous one, which suppresses its
// remaining side effects while its loop winds down.
type Manager struct {
	cfg  config.Config
	deps ManagerDeps
	log  *logrus.Entry

	baseCtx context.Context

	mu    sync.Mutex
	tasks map[string]*runningTask
	live  string
}

type runningTask struct {
	task   *engine.Task
	cancel context.CancelFunc
}

func NewManager(baseCtx context.Context, cfg config.Config, deps ManagerDeps) *Manager {
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		baseCtx: baseCtx,
		tasks:   map[string]*runningTask{},
	}
}

// Start spawns a new task from prompt text and runs its loop in the
// background. The previous live task, if still running, is abandoned.
func (m *Manager) Start(ctx context.Context, promptText string) (engine.TaskSnapshot, error) {
	if promptText == "" {
		return engine.TaskSnapshot{}, fmt.Errorf("prompt is required")
	}
	task := engine.NewTask(idgen.New(), promptText, m.settings(), m.engineDeps())
	m.run(task)
	return task.Snapshot(), nil
}

// Resume rebuilds a previously persisted task over its stored history and
// restarts the loop. Only non-running tasks can be resumed.
func (m *Manager) Resume(ctx context.Context, taskID string) (engine.TaskSnapshot, error) {
	m.mu.Lock()
	if rt, ok := m.tasks[taskID]; ok && rt.task.Status() == engine.StatusRunning {
		m.mu.Unlock()
		return engine.TaskSnapshot{}, fmt.Errorf("task %s is already running", taskID)
	}
	m.mu.Unlock()

	snap, err := m.deps.Store.LoadTask(ctx, taskID)
	if err != nil {
		return engine.TaskSnapshot{}, fmt.Errorf("load task: %w", err)
	}
	history, err := m.deps.Store.LoadHistory(ctx, taskID)
	if err != nil {
		return engine.TaskSnapshot{}, fmt.Errorf("load history: %w", err)
	}
	task := engine.NewResumedTask(taskID, snap.Prompt, history, m.settings(), m.engineDeps())
	m.run(task)
	return task.Snapshot(), nil
}

func (m *Manager) run(task *engine.Task) {
	ctx, cancel := context.WithCancel(m.baseCtx)

	m.mu.Lock()
	if prev, ok := m.tasks[m.live]; ok && prev.task.Status() == engine.StatusRunning {
		prev.task.Abandon()
		prev.cancel()
	}
	m.tasks[task.ID] = &runningTask{task: task, cancel: cancel}
	m.live = task.ID
	m.mu.Unlock()

	go func() {
		defer cancel()
		if err := task.Run(ctx); err != nil {
			m.log.WithError(err).WithField("task_id", task.ID).Warn("task loop ended with error")
		}
	}()
}

// Abort requests cooperative cancellation of a running task.
func (m *Manager) Abort(taskID string) error {
	m.mu.Lock()
	rt, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s is not running", taskID)
	}
	rt.task.Abort()
	// Unblock a pending ask so the loop can observe the flag.
	_ = m.deps.Approver.Respond(taskID, engine.AskResponse{Response: engine.AskDenied})
	return nil
}

// Get returns the live snapshot when the task is in memory, falling back to
// the persisted row.
func (m *Manager) Get(ctx context.Context, taskID string) (engine.TaskSnapshot, error) {
	m.mu.Lock()
	rt, ok := m.tasks[taskID]
	m.mu.Unlock()
	if ok {
		return rt.task.Snapshot(), nil
	}
	return m.deps.Store.LoadTask(ctx, taskID)
}

// List returns persisted tasks with live snapshots overlaid.
func (m *Manager) List(ctx context.Context) ([]engine.TaskSnapshot, error) {
	items, err := m.deps.Store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	for i, snap := range items {
		if rt, ok := m.tasks[snap.ID]; ok {
			items[i] = rt.task.Snapshot()
		}
		seen[snap.ID] = true
	}
	for id, rt := range m.tasks {
		if !seen[id] {
			items = append(items, rt.task.Snapshot())
		}
	}
	return items, nil
}

// WaitDone exposes the task's completion channel for tests and shutdown.
func (m *Manager) WaitDone(taskID string) (<-chan struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.tasks[taskID]
	if !ok {
		return nil, false
	}
	return rt.task.Done(), true
}

func (m *Manager) settings() engine.Settings {
	return engine.Settings{
		ContextWindow: m.cfg.ContextWindow,
		MistakeLimit:  m.cfg.MistakeLimit,
		WorkspaceDir:  m.cfg.WorkspaceDir,
		SystemPrompt:  prompt.DefaultSystemPrompt,
	}
}

func (m *Manager) engineDeps() engine.Deps {
	return engine.Deps{
		Provider:   m.deps.Provider,
		Dispatcher: m.deps.Dispatcher,
		Approver:   m.deps.Approver,
		Emitter:    m.deps.Emitter,
		Store:      m.deps.Store,
		Env:        m.deps.Env,
		Log:        m.log,
	}
}
