package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/checkpoint"
	"github.com/slok/orca/internal/executor"
	"github.com/slok/orca/internal/log"
	"github.com/slok/orca/internal/model"
	"github.com/slok/orca/internal/pipeline"
	"github.com/slok/orca/internal/prompt"
	"github.com/slok/orca/internal/provision"
	"github.com/slok/orca/internal/recovery"
	"github.com/slok/orca/internal/remote/fake"
	"github.com/slok/orca/internal/task/memory"
)

const testCheckpointDir = "/var/lib/orca/checkpoints"

func checkpointFile(phase string) string { return testCheckpointDir + "/" + phase + ".done" }

func cmd(t *testing.T, c string) provision.Action {
	t.Helper()
	a, err := provision.NewCommand(c, 0)
	require.NoError(t, err)
	return a
}

func interactive(t *testing.T, c string) provision.Action {
	t.Helper()
	a, err := provision.NewInteractive(c, 0)
	require.NoError(t, err)
	return a
}

func guard(t *testing.T, c string) provision.Guard {
	t.Helper()
	g, err := provision.NewCommandGuard(c)
	require.NoError(t, err)
	return g
}

// testDefinition has a base phase, an optional directory phase and a replica phase that
// depends on the directory one.
func testDefinition(t *testing.T) pipeline.Definition {
	return pipeline.Definition{Phases: []pipeline.Phase{
		{
			ID: "base",
			Steps: []pipeline.Step{
				{Name: "create-group", Label: "Creating base group", Guard: guard(t, "getent group orca"), Action: cmd(t, "groupadd orca")},
				{Name: "install-base", Label: "Installing base", Weight: 3, Action: cmd(t, "install-base")},
			},
		},
		{
			ID:       "directory",
			Module:   "directory",
			Requires: "base",
			Rollback: cmd(t, "rm -rf /opt/directory"),
			Steps: []pipeline.Step{
				{Name: "install-directory", Weight: 2, Action: cmd(t, "install-directory"), Remediation: cmd(t, "apt-get clean")},
			},
		},
		{
			ID:       "replica",
			Module:   "replica",
			Requires: "directory",
			Recovery: recovery.PhaseRecoveryResume,
			Restore:  cmd(t, "restore-replica"),
			Steps: []pipeline.Step{
				{Name: "setup-replica", Label: "Setting up replica", Action: interactive(t, "setup-replica")},
			},
		},
	}}
}

type testEnv struct {
	host     *fake.Host
	repo     *memory.Repository
	channels *channel.Manager
	orch     *pipeline.Orchestrator
}

func newTestEnv(t *testing.T, host *fake.Host, opts ...func(*pipeline.OrchestratorConfig)) *testEnv {
	t.Helper()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	channels, err := channel.NewManager(channel.ManagerConfig{})
	require.NoError(t, err)

	cls, err := prompt.NewClassifier(prompt.ClassifierConfig{GracePeriod: 300 * time.Millisecond, SettleDelay: 50 * time.Millisecond})
	require.NoError(t, err)
	exec, err := executor.NewExecutor(executor.ExecutorConfig{Classifier: cls, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	cp, err := checkpoint.NewChecker(checkpoint.CheckerConfig{Dir: testCheckpointDir})
	require.NoError(t, err)

	rec, err := recovery.NewManager(recovery.ManagerConfig{
		Checkpoints:    cp,
		ConnectRetries: 2,
		Sleep:          func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	cfg := pipeline.OrchestratorConfig{
		Provider:    host.Provider(),
		Executor:    exec,
		Recovery:    rec,
		Checkpoints: cp,
		Repository:  repo,
		Logger:      log.Noop,
	}
	for _, o := range opts {
		o(&cfg)
	}
	orch, err := pipeline.NewOrchestrator(cfg)
	require.NoError(t, err)

	return &testEnv{host: host, repo: repo, channels: channels, orch: orch}
}

func (e *testEnv) newTask(t *testing.T, cfg model.TaskConfig) model.Task {
	t.Helper()
	require.NoError(t, cfg.Validate())
	tk := model.Task{ID: "task-1", Config: cfg, Status: model.TaskStatusConnecting}
	require.NoError(t, e.repo.CreateTask(context.TODO(), tk))
	return tk
}

func stepResults(tk model.Task) map[string]model.StepResult {
	res := map[string]model.StepResult{}
	for _, s := range tk.Steps {
		res[s.Phase+"/"+s.Step] = s.Result
	}
	return res
}

func TestOrchestratorRun(t *testing.T) {
	tests := map[string]struct {
		config     model.TaskConfig
		host       func(h *fake.Host)
		expStatus  model.TaskStatus
		expKind    model.ErrorKind
		expSteps   map[string]model.StepResult
		expRun     []string
		expNotRun  []string
		expMarkers []string
	}{
		"A satisfied guard should skip the step without running its action.": {
			config: model.TaskConfig{Host: "h1"},
			host: func(h *fake.Host) {
				h.OnRun("^getent group orca$", fake.Exit(0, "orca:x:1000:\n"))
			},
			expStatus: model.TaskStatusCompleted,
			expSteps: map[string]model.StepResult{
				"base/create-group": model.StepResultSkipped,
				"base/install-base": model.StepResultCompleted,
			},
			expRun:     []string{"install-base"},
			expNotRun:  []string{"groupadd orca", "install-directory"},
			expMarkers: []string{"base"},
		},

		"An unsatisfied guard should run the step action.": {
			config: model.TaskConfig{Host: "h1"},
			host: func(h *fake.Host) {
				h.OnRun("^getent group orca$", fake.Exit(2, ""))
			},
			expStatus: model.TaskStatusCompleted,
			expSteps: map[string]model.StepResult{
				"base/create-group": model.StepResultCompleted,
				"base/install-base": model.StepResultCompleted,
			},
			expRun:     []string{"groupadd orca", "install-base"},
			expMarkers: []string{"base"},
		},

		"An installed phase should be skipped as a whole.": {
			config: model.TaskConfig{Host: "h1", Modules: []string{"directory"}},
			host: func(h *fake.Host) {
				h.SetFile(checkpointFile("base"), "")
			},
			expStatus: model.TaskStatusCompleted,
			expSteps: map[string]model.StepResult{
				"base/create-group":           model.StepResultSkipped,
				"base/install-base":           model.StepResultSkipped,
				"directory/install-directory": model.StepResultCompleted,
			},
			expRun:     []string{"install-directory"},
			expNotRun:  []string{"getent group orca", "install-base"},
			expMarkers: []string{"base", "directory"},
		},

		"A dependent phase in fresh mode should run its missing prerequisite first.": {
			config:    model.TaskConfig{Host: "h1", Modules: []string{"replica"}, Mode: model.ModeFresh},
			host:      func(h *fake.Host) { h.OnInteractive("^setup-replica$", fake.Script{fake.Say("replica ready\n")}) },
			expStatus: model.TaskStatusCompleted,
			expSteps: map[string]model.StepResult{
				"base/create-group":           model.StepResultCompleted,
				"base/install-base":           model.StepResultCompleted,
				"directory/install-directory": model.StepResultCompleted,
				"replica/setup-replica":       model.StepResultCompleted,
			},
			expRun:     []string{"install-base", "install-directory"},
			expMarkers: []string{"base", "directory", "replica"},
		},

		"A dependent phase in addon mode with its prerequisite installed should not run the prerequisite.": {
			config: model.TaskConfig{Host: "h1", Modules: []string{"replica"}, Mode: model.ModeAddon},
			host: func(h *fake.Host) {
				h.SetFile(checkpointFile("base"), "")
				h.SetFile(checkpointFile("directory"), "")
				h.OnInteractive("^setup-replica$", fake.Script{fake.Say("replica ready\n")})
			},
			expStatus: model.TaskStatusCompleted,
			expSteps: map[string]model.StepResult{
				"base/create-group":     model.StepResultSkipped,
				"base/install-base":     model.StepResultSkipped,
				"replica/setup-replica": model.StepResultCompleted,
			},
			expNotRun:  []string{"install-directory", "install-base"},
			expMarkers: []string{"replica"},
		},

		"A dependent phase in addon mode with its prerequisite missing should fail before running any step.": {
			config:    model.TaskConfig{Host: "h1", Modules: []string{"replica"}, Mode: model.ModeAddon},
			expStatus: model.TaskStatusFailed,
			expKind:   model.ErrorKindUnknown,
			expSteps:  map[string]model.StepResult{},
			expNotRun: []string{"install-base", "groupadd orca"},
		},

		"An unknown module should fail the task.": {
			config:    model.TaskConfig{Host: "h1", Modules: []string{"mail"}},
			expStatus: model.TaskStatusFailed,
			expKind:   model.ErrorKindUnknown,
			expSteps:  map[string]model.StepResult{},
		},

		"A host that can't be reached should fail with a connection error after the retries.": {
			config:    model.TaskConfig{Host: "h1"},
			host:      func(h *fake.Host) { h.FailConnects(10) },
			expStatus: model.TaskStatusFailed,
			expKind:   model.ErrorKindConnection,
			expSteps:  map[string]model.StepResult{},
		},

		"A host that fails less than the retries should be connected.": {
			config:     model.TaskConfig{Host: "h1"},
			host:       func(h *fake.Host) { h.FailConnects(2) },
			expStatus:  model.TaskStatusCompleted,
			expRun:     []string{"install-base"},
			expMarkers: []string{"base"},
			expSteps: map[string]model.StepResult{
				"base/create-group": model.StepResultCompleted,
				"base/install-base": model.StepResultCompleted,
			},
		},

		"A failing step should fail the task and keep the previous progress.": {
			config: model.TaskConfig{Host: "h1"},
			host: func(h *fake.Host) {
				h.OnRun("^install-base$", fake.Fail(1, "E: broken package"))
			},
			expStatus: model.TaskStatusFailed,
			expKind:   model.ErrorKindCommandFailed,
			expSteps: map[string]model.StepResult{
				"base/create-group": model.StepResultCompleted,
				"base/install-base": model.StepResultFailed,
			},
			expRun: []string{"groupadd orca"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			host := fake.NewHost()
			if test.host != nil {
				test.host(host)
			}
			host.OnRun("^getent group orca$", fake.Exit(2, ""))
			env := newTestEnv(t, host)
			tk := env.newTask(t, test.config)

			got := env.orch.Run(context.TODO(), pipeline.RunRequest{Task: tk, Definition: testDefinition(t)})

			assert.Equal(test.expStatus, got.Status)
			assert.Equal(test.expSteps, stepResults(got))
			if test.expStatus == model.TaskStatusCompleted {
				assert.Equal(100, got.Progress)
				assert.Empty(got.LastError)
			} else {
				assert.NotEmpty(got.LastError)
				assert.Equal(test.expKind, got.ErrorKind)
			}

			history := host.History()
			for _, c := range test.expRun {
				assert.Contains(history, c)
			}
			for _, c := range test.expNotRun {
				assert.NotContains(history, c)
			}
			for _, p := range test.expMarkers {
				assert.True(host.HasFile(checkpointFile(p)), "phase %q should be marked", p)
			}
			assert.Equal(0, host.OpenSessions())

			// The stored task is the returned one.
			stored, err := env.repo.GetTask(context.TODO(), tk.ID)
			require.NoError(err)
			assert.Equal(got.Status, stored.Status)
			assert.Equal(got.Progress, stored.Progress)
		})
	}
}

func TestOrchestratorRunIdempotent(t *testing.T) {
	assert := assert.New(t)

	calls := 0
	action := provision.ActionFunc(func(context.Context, provision.Target) error {
		calls++
		return nil
	})
	satisfied := provision.GuardFunc(func(context.Context, provision.Target) (bool, error) { return true, nil })
	def := pipeline.Definition{Phases: []pipeline.Phase{
		{ID: "base", Steps: []pipeline.Step{
			{Name: "s1", Guard: satisfied, Action: action},
			{Name: "s2", Guard: satisfied, Action: action},
		}},
		{ID: "extra", Module: "extra", Requires: "base", Steps: []pipeline.Step{
			{Name: "s3", Guard: satisfied, Action: action},
		}},
	}}

	env := newTestEnv(t, fake.NewHost())
	tk := env.newTask(t, model.TaskConfig{Host: "h1", Modules: []string{"extra"}})

	got := env.orch.Run(context.TODO(), pipeline.RunRequest{Task: tk, Definition: def})

	assert.Equal(model.TaskStatusCompleted, got.Status)
	assert.Equal(0, calls)
	assert.Equal(100, got.Progress)
	for _, s := range got.Steps {
		assert.Equal(model.StepResultSkipped, s.Result)
	}
}

func TestOrchestratorRunRecovery(t *testing.T) {
	tests := map[string]struct {
		config    model.TaskConfig
		host      func(h *fake.Host)
		expStatus model.TaskStatus
		expKind   model.ErrorKind
		expCount  map[string]int
		expFiles  map[string]bool
	}{
		"A resource failure that goes away after the remediation should complete the task.": {
			config: model.TaskConfig{Host: "h1", Modules: []string{"directory"}},
			host: func(h *fake.Host) {
				calls := 0
				h.OnRun("^install-directory$", func(ctx context.Context, cmd string) (*model.CommandResult, error) {
					calls++
					if calls == 1 {
						return &model.CommandResult{ExitCode: 100, Stderr: "E: No space left on device\n"}, nil
					}
					return &model.CommandResult{}, nil
				})
			},
			expStatus: model.TaskStatusCompleted,
			expCount:  map[string]int{"install-directory": 2, "apt-get clean": 1, "rm -rf /opt/directory": 0},
			expFiles:  map[string]bool{checkpointFile("directory"): true},
		},

		"A recurring resource failure should retry once and roll back the phase.": {
			config: model.TaskConfig{Host: "h1", Modules: []string{"directory"}},
			host: func(h *fake.Host) {
				h.OnRun("^install-directory$", fake.Fail(100, "E: No space left on device"))
			},
			expStatus: model.TaskStatusFailed,
			expKind:   model.ErrorKindRecoverableResource,
			expCount:  map[string]int{"install-directory": 2, "apt-get clean": 1, "rm -rf /opt/directory": 1},
			expFiles:  map[string]bool{checkpointFile("directory"): false, checkpointFile("base"): true},
		},

		"A non resource failure in a phase with rollback should roll back without retrying.": {
			config: model.TaskConfig{Host: "h1", Modules: []string{"directory"}},
			host: func(h *fake.Host) {
				h.OnRun("^install-directory$", fake.Fail(1, "E: invalid configuration"))
			},
			expStatus: model.TaskStatusFailed,
			expKind:   model.ErrorKindCommandFailed,
			expCount:  map[string]int{"install-directory": 1, "apt-get clean": 0, "rm -rf /opt/directory": 1},
		},

		"A failure in a resumable dependent phase should restore it and keep the prerequisite installed.": {
			config: model.TaskConfig{Host: "h1", Modules: []string{"replica"}},
			host: func(h *fake.Host) {
				h.OnInteractive("^setup-replica$", fake.Script{fake.Say("replication broken\n"), fake.ExitWith(3)})
			},
			expStatus: model.TaskStatusFailed,
			expKind:   model.ErrorKindCommandFailed,
			expCount:  map[string]int{"restore-replica": 1, "rm -rf /opt/directory": 0},
			expFiles: map[string]bool{
				checkpointFile("directory"):              true,
				checkpointFile("replica"):                false,
				testCheckpointDir + "/replica.resumable": true,
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			host := fake.NewHost()
			host.OnRun("^getent group orca$", fake.Exit(0, ""))
			test.host(host)
			env := newTestEnv(t, host)
			tk := env.newTask(t, test.config)

			got := env.orch.Run(context.TODO(), pipeline.RunRequest{Task: tk, Definition: testDefinition(t)})

			assert.Equal(test.expStatus, got.Status)
			if test.expStatus == model.TaskStatusFailed {
				assert.Equal(test.expKind, got.ErrorKind)
			}

			count := map[string]int{}
			for _, c := range host.History() {
				count[c]++
			}
			for c, exp := range test.expCount {
				assert.Equal(exp, count[c], "command %q", c)
			}
			for f, exp := range test.expFiles {
				assert.Equal(exp, host.HasFile(f), "file %q", f)
			}
		})
	}
}

// observer collects the channel messages and answers the prompts.
type observer struct {
	mu       sync.Mutex
	msgs     []channel.Message
	prompts  chan string
	closed   chan struct{}
	closeOne sync.Once
}

func newObserver() *observer {
	return &observer{prompts: make(chan string, 10), closed: make(chan struct{})}
}

func (o *observer) Send(m channel.Message) error {
	o.mu.Lock()
	o.msgs = append(o.msgs, m)
	o.mu.Unlock()
	if m.Type == channel.MessageTypePrompt {
		o.prompts <- m.Data.(string)
	}
	return nil
}

func (o *observer) Close() error {
	o.closeOne.Do(func() { close(o.closed) })
	return nil
}

func (o *observer) messages() []channel.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]channel.Message{}, o.msgs...)
}

func (o *observer) waitPrompt(t *testing.T) string {
	t.Helper()
	select {
	case p := <-o.prompts:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("prompt expected")
		return ""
	}
}

func (o *observer) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-o.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("observer should be closed")
	}
}

func TestOrchestratorRunPrompt(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	host := fake.NewHost()
	host.SetFile(checkpointFile("base"), "")
	host.SetFile(checkpointFile("directory"), "")
	host.OnInteractive("^setup-replica$", fake.Script{
		fake.Say("Preparing replica...\n"),
		fake.Say("Continue? [Y/n] "),
		fake.Expect("Y"),
		fake.Say("replica ready\n"),
	})
	env := newTestEnv(t, host)
	tk := env.newTask(t, model.TaskConfig{Host: "h1", Modules: []string{"replica"}, Mode: model.ModeAddon})

	h, err := env.channels.Register(tk.ID)
	require.NoError(err)
	obs := newObserver()
	_, err = env.channels.Attach(tk.ID, obs)
	require.NoError(err)

	done := make(chan model.Task)
	go func() {
		done <- env.orch.Run(context.TODO(), pipeline.RunRequest{Task: tk, Definition: testDefinition(t), Channel: h})
	}()

	q := obs.waitPrompt(t)
	assert.Equal("Continue? [Y/n]", q)

	// While waiting the stored task reflects it.
	stored, err := env.repo.GetTask(context.TODO(), tk.ID)
	require.NoError(err)
	assert.Equal(model.TaskStatusWaitingInput, stored.Status)

	require.NoError(env.channels.SubmitInput(tk.ID, "Y"))

	var got model.Task
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task should end")
	}
	h.Close()
	obs.waitClosed(t)

	assert.Equal(model.TaskStatusCompleted, got.Status)
	assert.Equal([]string{"Y"}, host.Answers())
	assert.Equal(0, host.OpenStreams())

	// Output before the prompt, waiting status before the prompt and progress never goes backwards.
	msgs := obs.messages()
	var idxOutput, idxWaiting, idxPrompt, idxRunning = -1, -1, -1, -1
	lastProgress := 0
	for i, m := range msgs {
		switch m.Type {
		case channel.MessageTypeOutput:
			if idxOutput < 0 && m.Data.(string) == "Preparing replica...\n" {
				idxOutput = i
			}
		case channel.MessageTypePrompt:
			idxPrompt = i
		case channel.MessageTypeStatus:
			st := m.Data.(channel.Status)
			assert.GreaterOrEqual(st.Progress, lastProgress)
			lastProgress = st.Progress
			if st.Status == model.TaskStatusWaitingInput && idxWaiting < 0 {
				idxWaiting = i
			}
			if st.Status == model.TaskStatusRunning && idxPrompt >= 0 && idxRunning < 0 {
				idxRunning = i
			}
		}
	}
	require.GreaterOrEqual(idxOutput, 0)
	assert.Less(idxOutput, idxPrompt)
	assert.Less(idxWaiting, idxPrompt)
	assert.Greater(idxRunning, idxPrompt)
	assert.Equal(100, lastProgress)

	// The task log keeps the same order.
	var logOutput, logPrompt, logAnswer, logDone = -1, -1, -1, -1
	for i, l := range got.Log {
		switch l.Text {
		case "Preparing replica...":
			logOutput = i
		case "Continue? [Y/n]":
			logPrompt = i
		case "> Y":
			logAnswer = i
		case "replica ready":
			logDone = i
		}
	}
	assert.GreaterOrEqual(logOutput, 0)
	assert.Less(logOutput, logPrompt)
	assert.Less(logPrompt, logAnswer)
	assert.Less(logAnswer, logDone)
}

func TestOrchestratorRunSecretAnswerLog(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	host := fake.NewHost()
	host.SetFile(checkpointFile("base"), "")
	host.SetFile(checkpointFile("directory"), "")
	host.OnInteractive("^setup-replica$", fake.Script{
		fake.Say("Directory Manager password: "),
		fake.Expect("s3cr3t"),
		fake.Say("replica ready\n"),
	})
	env := newTestEnv(t, host)
	tk := env.newTask(t, model.TaskConfig{Host: "h1", Modules: []string{"replica"}, Mode: model.ModeAddon})

	h, err := env.channels.Register(tk.ID)
	require.NoError(err)
	obs := newObserver()
	_, err = env.channels.Attach(tk.ID, obs)
	require.NoError(err)

	done := make(chan model.Task)
	go func() {
		done <- env.orch.Run(context.TODO(), pipeline.RunRequest{Task: tk, Definition: testDefinition(t), Channel: h})
	}()

	obs.waitPrompt(t)
	require.NoError(env.channels.SubmitInput(tk.ID, "s3cr3t"))

	var got model.Task
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task should end")
	}
	h.Close()

	assert.Equal(model.TaskStatusCompleted, got.Status)
	assert.Equal([]string{"s3cr3t"}, host.Answers())

	var texts []string
	for _, l := range got.Log {
		texts = append(texts, l.Text)
		assert.NotContains(l.Text, "s3cr3t")
	}
	assert.Contains(texts, "> ********")
}

func TestOrchestratorRunSavesOutputWhileRunning(t *testing.T) {
	assert := assert.New(t)

	host := fake.NewHost()
	host.SetFile(checkpointFile("base"), "")
	host.SetFile(checkpointFile("directory"), "")
	host.OnInteractive("^setup-replica$", fake.Script{
		fake.Say("loading schema\n"),
		fake.Wait(50 * time.Millisecond),
		fake.Say("schema loaded\n"),
		fake.Wait(time.Hour),
	})
	env := newTestEnv(t, host, func(c *pipeline.OrchestratorConfig) { c.OutputSaveInterval = 10 * time.Millisecond })
	tk := env.newTask(t, model.TaskConfig{Host: "h1", Modules: []string{"replica"}, Mode: model.ModeAddon})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan model.Task)
	go func() {
		done <- env.orch.Run(ctx, pipeline.RunRequest{Task: tk, Definition: testDefinition(t)})
	}()

	// The command is still running but its output is already stored.
	assert.Eventually(func() bool {
		stored, err := env.repo.GetTask(context.TODO(), tk.ID)
		if err != nil || stored.Status != model.TaskStatusRunning {
			return false
		}
		for _, l := range stored.Log {
			if l.Text == "schema loaded" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case got := <-done:
		assert.True(got.Cancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("task should end")
	}
}

func TestOrchestratorRunGuardFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	host := fake.NewHost()
	env := newTestEnv(t, host)
	tk := env.newTask(t, model.TaskConfig{Host: "h1"})

	brokenGuard := provision.GuardFunc(func(context.Context, provision.Target) (bool, error) {
		return false, errors.New("could not read package database")
	})
	def := pipeline.Definition{Phases: []pipeline.Phase{{
		ID:       "base",
		Rollback: cmd(t, "rm -rf /opt/base"),
		Steps: []pipeline.Step{
			{Name: "install-a", Action: cmd(t, "install-a")},
			{Name: "install-b", Guard: brokenGuard, Action: cmd(t, "install-b")},
		},
	}}}

	got := env.orch.Run(context.TODO(), pipeline.RunRequest{Task: tk, Definition: def})

	assert.Equal(model.TaskStatusFailed, got.Status)
	assert.Equal(model.ErrorKindCommandFailed, got.ErrorKind)
	assert.Contains(got.LastError, `step "install-b" of phase "base" failed`)
	assert.Equal(map[string]model.StepResult{
		"base/install-a": model.StepResultCompleted,
		"base/install-b": model.StepResultFailed,
	}, stepResults(got))

	runs := map[string]int{}
	for _, c := range host.History() {
		runs[c]++
	}
	assert.Equal(1, runs["install-a"])
	assert.Equal(0, runs["install-b"])
	assert.Equal(1, runs["rm -rf /opt/base"], "the phase should be rolled back")
	assert.False(host.HasFile(checkpointFile("base")))

	stored, err := env.repo.GetTask(context.TODO(), tk.ID)
	require.NoError(err)
	assert.Equal(model.TaskStatusFailed, stored.Status)
}

func TestOrchestratorRunCancelWaitingInput(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	host := fake.NewHost()
	host.SetFile(checkpointFile("base"), "")
	host.SetFile(checkpointFile("directory"), "")
	host.OnInteractive("^setup-replica$", fake.Script{
		fake.Say("Admin password: "),
		fake.Expect(""),
	})
	env := newTestEnv(t, host)
	tk := env.newTask(t, model.TaskConfig{Host: "h1", Modules: []string{"replica"}, Mode: model.ModeAddon})

	h, err := env.channels.Register(tk.ID)
	require.NoError(err)
	obs := newObserver()
	_, err = env.channels.Attach(tk.ID, obs)
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan model.Task)
	go func() {
		done <- env.orch.Run(ctx, pipeline.RunRequest{Task: tk, Definition: testDefinition(t), Channel: h})
	}()

	obs.waitPrompt(t)
	cancel()

	var got model.Task
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task should end")
	}

	assert.Equal(model.TaskStatusFailed, got.Status)
	assert.True(got.Cancelled)
	assert.Equal(model.ErrorKindCancelled, got.ErrorKind)
	assert.Equal(0, host.OpenSessions())
	assert.Eventually(func() bool { return host.OpenStreams() == 0 }, 2*time.Second, 10*time.Millisecond)

	// A late answer is discarded.
	err = env.channels.SubmitInput(tk.ID, "secret")
	assert.ErrorIs(err, model.ErrNoPendingPrompt)
	assert.NotPanics(h.Close)

	stored, err := env.repo.GetTask(context.TODO(), tk.ID)
	require.NoError(err)
	assert.Equal(model.TaskStatusFailed, stored.Status)
	assert.True(stored.Cancelled)
}

func TestOrchestratorRunPromptWithoutChannel(t *testing.T) {
	assert := assert.New(t)

	host := fake.NewHost()
	host.SetFile(checkpointFile("base"), "")
	host.SetFile(checkpointFile("directory"), "")
	host.OnInteractive("^setup-replica$", fake.Script{fake.Say("Continue? [Y/n] "), fake.Expect("")})
	env := newTestEnv(t, host)
	tk := env.newTask(t, model.TaskConfig{Host: "h1", Modules: []string{"replica"}, Mode: model.ModeAddon})

	got := env.orch.Run(context.TODO(), pipeline.RunRequest{Task: tk, Definition: testDefinition(t)})

	assert.Equal(model.TaskStatusFailed, got.Status)
	assert.Equal(model.ErrorKindInvariantViolation, got.ErrorKind)
	assert.False(got.Cancelled)
}

func TestDefinitionValidate(t *testing.T) {
	noop := provision.NewNoop()

	tests := map[string]struct {
		def    pipeline.Definition
		expErr bool
	}{
		"A valid definition should not fail.": {
			def: pipeline.Definition{Phases: []pipeline.Phase{
				{ID: "base", Steps: []pipeline.Step{{Name: "s1", Action: noop}}},
				{ID: "dns", Module: "dns", Requires: "base", Steps: []pipeline.Step{{Name: "s1", Action: noop}}},
			}},
		},
		"An empty definition should fail.": {
			def:    pipeline.Definition{},
			expErr: true,
		},
		"Duplicated phases should fail.": {
			def: pipeline.Definition{Phases: []pipeline.Phase{
				{ID: "base", Steps: []pipeline.Step{{Name: "s1", Action: noop}}},
				{ID: "base", Steps: []pipeline.Step{{Name: "s2", Action: noop}}},
			}},
			expErr: true,
		},
		"A prerequisite defined after the phase should fail.": {
			def: pipeline.Definition{Phases: []pipeline.Phase{
				{ID: "dns", Requires: "base", Steps: []pipeline.Step{{Name: "s1", Action: noop}}},
				{ID: "base", Steps: []pipeline.Step{{Name: "s1", Action: noop}}},
			}},
			expErr: true,
		},
		"A resume recovery without restore should fail.": {
			def: pipeline.Definition{Phases: []pipeline.Phase{
				{ID: "base", Recovery: recovery.PhaseRecoveryResume, Steps: []pipeline.Step{{Name: "s1", Action: noop}}},
			}},
			expErr: true,
		},
		"A step without action should fail.": {
			def: pipeline.Definition{Phases: []pipeline.Phase{
				{ID: "base", Steps: []pipeline.Step{{Name: "s1"}}},
			}},
			expErr: true,
		},
		"Duplicated steps in a phase should fail.": {
			def: pipeline.Definition{Phases: []pipeline.Phase{
				{ID: "base", Steps: []pipeline.Step{{Name: "s1", Action: noop}, {Name: "s1", Action: noop}}},
			}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.def.Validate()
			if test.expErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			for _, p := range test.def.Phases {
				for _, s := range p.Steps {
					assert.Equal(t, 1, s.Weight)
					assert.Equal(t, s.Name, s.Label)
					assert.NotNil(t, s.Guard)
				}
			}
		})
	}
}
