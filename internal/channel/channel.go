// Package channel connects the running tasks with their remote observers. It publishes
// the task output, prompts and status and takes the operator answers back to the task.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
)

const (
	// DefaultQueueSize is the default number of messages buffered per observer.
	DefaultQueueSize = 512
)

// ManagerConfig is the channel manager configuration.
type ManagerConfig struct {
	// QueueSize is the per observer buffer, an observer that falls behind is detached.
	QueueSize int
	// PromptTimeout is the max wait for an answer, 0 waits until the context ends.
	PromptTimeout time.Duration
	Logger        log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.QueueSize < 2 {
		return fmt.Errorf("queue size must be at least 2")
	}
	if c.PromptTimeout < 0 {
		return fmt.Errorf("prompt timeout can't be negative")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "channel.Manager"})

	return nil
}

type pendingPrompt struct {
	text   string
	answer chan string
	abort  chan struct{}
}

type sinkQueue struct {
	id   int
	sink Sink
	ch   chan Message
}

type entry struct {
	mu        sync.Mutex
	status    Status
	hasStatus bool
	pending   *pendingPrompt
	sinks     map[int]*sinkQueue
	nextID    int
}

// Manager is the channel manager, it's safe for concurrent use.
type Manager struct {
	mu            sync.RWMutex
	entries       map[string]*entry
	queueSize     int
	promptTimeout time.Duration
	logger        log.Logger
}

// NewManager returns a new channel manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		entries:       map[string]*entry{},
		queueSize:     cfg.QueueSize,
		promptTimeout: cfg.PromptTimeout,
		logger:        cfg.Logger,
	}, nil
}

// Register registers a task channel.
func (m *Manager) Register(taskID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[taskID]; ok {
		return nil, fmt.Errorf("task %q channel: %w", taskID, model.ErrAlreadyExists)
	}
	m.entries[taskID] = &entry{sinks: map[int]*sinkQueue{}}

	return &Handle{taskID: taskID, m: m}, nil
}

// Unregister removes a task channel. An outstanding prompt is cancelled and the observers
// are detached once their queued messages are sent.
func (m *Manager) Unregister(taskID string) {
	m.mu.Lock()
	e, ok := m.entries[taskID]
	delete(m.entries, taskID)
	m.mu.Unlock()

	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		close(e.pending.abort)
		e.pending = nil
	}
	for id, q := range e.sinks {
		delete(e.sinks, id)
		close(q.ch)
	}
}

func (m *Manager) get(taskID string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[taskID]
	return e, ok
}

// Attach adds an observer to a task. The observer first receives the current status and
// the outstanding prompt, if any. The returned function detaches the observer.
func (m *Manager) Attach(taskID string, sink Sink) (detach func(), err error) {
	e, ok := m.get(taskID)
	if !ok {
		return nil, fmt.Errorf("task %q channel: %w", taskID, model.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	q := &sinkQueue{id: e.nextID, sink: sink, ch: make(chan Message, m.queueSize)}
	e.nextID++
	e.sinks[q.id] = q

	if e.hasStatus {
		q.ch <- statusMessage(e.status)
	}
	if e.pending != nil {
		q.ch <- promptMessage(e.pending.text)
	}

	go m.writeLoop(taskID, e, q)

	return func() { m.detach(e, q.id) }, nil
}

func (m *Manager) detach(e *entry, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.sinks[id]
	if !ok {
		return
	}
	delete(e.sinks, id)
	close(q.ch)
}

func (m *Manager) writeLoop(taskID string, e *entry, q *sinkQueue) {
	failed := false
	for msg := range q.ch {
		if failed {
			continue
		}

		if err := q.sink.Send(msg); err != nil {
			m.logger.Warningf("detaching observer %d from task %q: %v", q.id, taskID, err)
			failed = true
			m.detach(e, q.id)
		}
	}

	if c, ok := q.sink.(io.Closer); ok {
		_ = c.Close()
	}
}

// publish must be called with the entry locked.
func (m *Manager) publish(taskID string, e *entry, msg Message) {
	for id, q := range e.sinks {
		select {
		case q.ch <- msg:
		default:
			m.logger.Warningf("detaching observer %d from task %q: queue full", id, taskID)
			delete(e.sinks, id)
			close(q.ch)
		}
	}
}

// PublishOutput publishes remote output.
func (m *Manager) PublishOutput(taskID, text string) {
	e, ok := m.get(taskID)
	if !ok {
		m.logger.Debugf("ignoring output for unregistered task %q", taskID)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	m.publish(taskID, e, outputMessage(text))
}

// SetStatus sets and publishes the task status.
func (m *Manager) SetStatus(taskID string, s Status) {
	e, ok := m.get(taskID)
	if !ok {
		m.logger.Debugf("ignoring status for unregistered task %q", taskID)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	m.setStatus(taskID, e, s)
}

func (m *Manager) setStatus(taskID string, e *entry, s Status) {
	e.status = s
	e.hasStatus = true
	m.publish(taskID, e, statusMessage(s))
}

// PublishPrompt publishes a prompt and waits for its answer.
//
// It returns a prompt timeout error if the answer doesn't arrive in time and a cancelled
// error if the context ends or the task is unregistered. Only one prompt per task can be
// outstanding.
func (m *Manager) PublishPrompt(ctx context.Context, taskID, text string) (string, error) {
	e, ok := m.get(taskID)
	if !ok {
		return "", model.NewError(model.ErrorKindCancelled, fmt.Sprintf("task %q channel", taskID), model.ErrNotFound)
	}

	e.mu.Lock()
	if e.pending != nil {
		e.mu.Unlock()
		return "", model.Errorf(model.ErrorKindInvariantViolation, "task %q already has an outstanding prompt", taskID)
	}

	p := &pendingPrompt{
		text:   text,
		answer: make(chan string, 1),
		abort:  make(chan struct{}),
	}
	e.pending = p
	if !e.hasStatus || e.status.Status != model.TaskStatusWaitingInput {
		s := e.status
		s.Status = model.TaskStatusWaitingInput
		m.setStatus(taskID, e, s)
	}
	m.publish(taskID, e, promptMessage(text))
	e.mu.Unlock()

	var timeoutC <-chan time.Time
	if m.promptTimeout > 0 {
		t := time.NewTimer(m.promptTimeout)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case answer := <-p.answer:
		m.resume(taskID, e)
		return answer, nil

	case <-p.abort:
		return "", model.Errorf(model.ErrorKindCancelled, "task %q channel closed while waiting for input", taskID)

	case <-ctx.Done():
		if answer, ok := m.withdraw(e, p); ok {
			m.resume(taskID, e)
			return answer, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", model.NewError(model.ErrorKindPromptTimeout, "waiting for input", ctx.Err())
		}
		return "", model.NewError(model.ErrorKindCancelled, "waiting for input", ctx.Err())

	case <-timeoutC:
		if answer, ok := m.withdraw(e, p); ok {
			m.resume(taskID, e)
			return answer, nil
		}
		return "", model.Errorf(model.ErrorKindPromptTimeout, "no input received after %s", m.promptTimeout)
	}
}

// withdraw removes the prompt if it's still outstanding, if it was answered meanwhile
// the answer is returned.
func (m *Manager) withdraw(e *entry, p *pendingPrompt) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == p {
		e.pending = nil
		return "", false
	}

	select {
	case answer := <-p.answer:
		return answer, true
	default:
		return "", false
	}
}

func (m *Manager) resume(taskID string, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil && e.status.Status == model.TaskStatusWaitingInput {
		s := e.status
		s.Status = model.TaskStatusRunning
		m.setStatus(taskID, e, s)
	}
}

// SubmitInput answers the outstanding prompt of a task.
func (m *Manager) SubmitInput(taskID, text string) error {
	e, ok := m.get(taskID)
	if !ok {
		return fmt.Errorf("task %q channel: %w", taskID, model.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.pending
	if p == nil {
		m.logger.Warningf("input for task %q without outstanding prompt, ignoring", taskID)
		return fmt.Errorf("task %q: %w", taskID, model.ErrNoPendingPrompt)
	}
	e.pending = nil
	p.answer <- text

	return nil
}

// PendingPrompt returns the outstanding prompt of a task.
func (m *Manager) PendingPrompt(taskID string) (string, bool) {
	e, ok := m.get(taskID)
	if !ok {
		return "", false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return "", false
	}
	return e.pending.text, true
}

// Handle is a registered task channel.
type Handle struct {
	taskID string
	m      *Manager
}

// TaskID returns the task ID of the channel.
func (h *Handle) TaskID() string { return h.taskID }

// Output publishes remote output.
func (h *Handle) Output(text string) { h.m.PublishOutput(h.taskID, text) }

// Prompt publishes a prompt and waits for its answer.
func (h *Handle) Prompt(ctx context.Context, text string) (string, error) {
	return h.m.PublishPrompt(ctx, h.taskID, text)
}

// Status publishes the task status.
func (h *Handle) Status(s Status) { h.m.SetStatus(h.taskID, s) }

// Close unregisters the channel.
func (h *Handle) Close() { h.m.Unregister(h.taskID) }
