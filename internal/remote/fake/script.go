package fake

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

type stepKind int

const (
	stepSay stepKind = iota
	stepExpect
	stepWait
	stepExit
)

// Step is a single step of an interactive script.
type Step struct {
	kind stepKind
	text string
	wait time.Duration
	code int
}

// Script is the behaviour of an interactive remote program.
// A script that ends without ExitWith exits with 0.
type Script []Step

// Say writes text to the program output. It blocks until the output is read.
func Say(text string) Step { return Step{kind: stepSay, text: text} }

// Expect reads one input line, when substr is not empty the line must contain it
// or the program fails with exit code 1.
func Expect(substr string) Step { return Step{kind: stepExpect, text: substr} }

// Wait sleeps for d.
func Wait(d time.Duration) Step { return Step{kind: stepWait, wait: d} }

// ExitWith ends the program with the exit code.
func ExitWith(code int) Step { return Step{kind: stepExit, code: code} }

type stream struct {
	host *Host

	outR *io.PipeReader
	outW *io.PipeWriter
	inR  *io.PipeReader
	inW  *io.PipeWriter

	stop      chan struct{}
	done      chan struct{}
	exitCode  int
	closeOnce sync.Once
}

func newStream(ctx context.Context, h *Host, script Script) *stream {
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()
	s := &stream{
		host: h,
		outR: outR,
		outW: outW,
		inR:  inR,
		inW:  inW,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go s.run(script)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.stop:
		}
	}()

	return s
}

func (s *stream) run(script Script) {
	code := s.play(script)
	s.exitCode = code
	// An exited program doesn't read its input anymore.
	_ = s.inR.CloseWithError(io.ErrClosedPipe)
	_ = s.outW.Close()
	close(s.done)
}

func (s *stream) play(script Script) int {
	in := bufio.NewReader(s.inR)
	for _, step := range script {
		switch step.kind {
		case stepSay:
			if _, err := io.WriteString(s.outW, step.text); err != nil {
				return -1
			}

		case stepExpect:
			line, err := in.ReadString('\n')
			if err != nil {
				return -1
			}
			line = strings.TrimRight(line, "\r\n")

			s.host.mu.Lock()
			s.host.answers = append(s.host.answers, line)
			s.host.mu.Unlock()

			if step.text != "" && !strings.Contains(line, step.text) {
				_, _ = fmt.Fprintf(s.outW, "unexpected answer %q\n", line)
				return 1
			}

		case stepWait:
			t := time.NewTimer(step.wait)
			select {
			case <-t.C:
			case <-s.stop:
				t.Stop()
				return -1
			}

		case stepExit:
			return step.code
		}
	}

	return 0
}

func (s *stream) Read(p []byte) (int, error)  { return s.outR.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.inW.Write(p) }
func (s *stream) Done() <-chan struct{}       { return s.done }
func (s *stream) ExitCode() int               { return s.exitCode }

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		_ = s.inW.Close()
		_ = s.outR.CloseWithError(io.ErrClosedPipe)

		s.host.mu.Lock()
		s.host.openStreams--
		s.host.mu.Unlock()
	})
	return nil
}
