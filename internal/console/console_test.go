package console_test

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/orca/internal/channel"
	"github.com/slok/orca/internal/console"
	"github.com/slok/orca/internal/model"
)

func status(s model.TaskStatus, step string, progress int) channel.Message {
	return channel.Message{Type: channel.MessageTypeStatus, Data: channel.Status{Status: s, Step: step, Progress: progress}}
}

func TestObserverPrint(t *testing.T) {
	tests := map[string]struct {
		msgs      []channel.Message
		answers   []model.AutoAnswer
		expOut    string
		expSubmit []string
	}{
		"Output should be printed untouched.": {
			msgs: []channel.Message{
				{Type: channel.MessageTypeOutput, Data: "Reading package lists...\n"},
				{Type: channel.MessageTypeOutput, Data: "Done\n"},
			},
			expOut: "Reading package lists...\nDone\n",
		},

		"Repeated statuses should be printed once.": {
			msgs: []channel.Message{
				status(model.TaskStatusRunning, "Installing base", 10),
				status(model.TaskStatusRunning, "Installing base", 20),
				status(model.TaskStatusRunning, "Creating group", 30),
				status(model.TaskStatusCompleted, "Completed", 100),
			},
			expOut: "==> [ 10%] Installing base\n==> [ 30%] Creating group\n==> completed (100%)\n",
		},

		"A failed status should be printed.": {
			msgs: []channel.Message{
				status(model.TaskStatusFailed, "Installing base", 42),
			},
			expOut: "==> failed: Installing base (42%)\n",
		},

		"A prompt matching a preset answer should be answered.": {
			msgs: []channel.Message{
				status(model.TaskStatusWaitingInput, "Configuring", 50),
				{Type: channel.MessageTypePrompt, Data: "Continue? [Y/n]"},
			},
			answers:   []model.AutoAnswer{{Pattern: `^Continue`, Value: "Y"}},
			expOut:    "\n? Continue? [Y/n] Y (preset)\n",
			expSubmit: []string{"Y"},
		},

		"A secret preset answer should not be printed.": {
			msgs: []channel.Message{
				{Type: channel.MessageTypePrompt, Data: "Directory Manager password:"},
			},
			answers:   []model.AutoAnswer{{Pattern: `password`, Value: "s3cr3t"}},
			expOut:    "\n? Directory Manager password: ******** (preset)\n",
			expSubmit: []string{"s3cr3t"},
		},

		"A prompt without answer source should not block.": {
			msgs: []channel.Message{
				{Type: channel.MessageTypePrompt, Data: "Continue? [Y/n]"},
			},
			expOut: "\n? Continue? [Y/n] \n",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			var out bytes.Buffer
			var submitted []string
			o, err := console.NewObserver(console.ObserverConfig{
				Out:     &out,
				Answers: test.answers,
				Submit: func(text string) error {
					submitted = append(submitted, text)
					return nil
				},
			})
			require.NoError(err)

			for _, m := range test.msgs {
				require.NoError(o.Send(m))
			}

			assert.Equal(test.expOut, out.String())
			assert.Equal(test.expSubmit, submitted)
		})
	}
}

func TestObserverInteractiveAnswer(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var out bytes.Buffer
	submitted := make(chan string, 1)
	o, err := console.NewObserver(console.ObserverConfig{
		Out: &out,
		In:  strings.NewReader("yes\n"),
		Submit: func(text string) error {
			submitted <- text
			return nil
		},
	})
	require.NoError(err)
	defer o.Stop()

	require.NoError(o.Send(channel.Message{Type: channel.MessageTypePrompt, Data: "Overwrite? (yes/no)"}))

	select {
	case got := <-submitted:
		assert.Equal("yes", got)
	case <-time.After(time.Second):
		t.Fatal("answer expected")
	}
}

func TestObserverStopUnblocksPrompt(t *testing.T) {
	r, w := newBlockingReader()
	defer w()

	o, err := console.NewObserver(console.ObserverConfig{
		Out:    &bytes.Buffer{},
		In:     r,
		Submit: func(string) error { return nil },
	})
	require.NoError(t, err)

	done := make(chan error)
	go func() { done <- o.Send(channel.Message{Type: channel.MessageTypePrompt, Data: "Continue?"}) }()

	o.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send should return once stopped")
	}
}

func TestNewObserverInvalid(t *testing.T) {
	_, err := console.NewObserver(console.ObserverConfig{})
	assert.Error(t, err)

	_, err = console.NewObserver(console.ObserverConfig{
		Submit:  func(string) error { return nil },
		Answers: []model.AutoAnswer{{Pattern: "[x-"}},
	})
	assert.Error(t, err)
}

type blockingReader struct{ c chan struct{} }

func (b blockingReader) Read([]byte) (int, error) {
	<-b.c
	return 0, io.EOF
}

func newBlockingReader() (io.Reader, func()) {
	c := make(chan struct{})
	return blockingReader{c: c}, func() { close(c) }
}
