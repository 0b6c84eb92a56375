// Package lib provides a Go SDK for running orca installation tasks programmatically.
//
// This package allows applications to drive remote installations without shelling
// out to the orca CLI binary. It is useful for scripting, automation, and building
// custom front ends on top of orca.
//
// # Quick Start
//
// Create a client, start a task and follow it until it ends:
//
//	client, err := lib.New(lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	id, err := client.StartTask(ctx, lib.StartTaskOpts{
//	    Host:       "10.0.0.5",
//	    Modules:    []string{"directory"},
//	    User:       "root",
//	    PrivateKey: key,
//	    Values:     map[string]string{"hostname": "ipa.example.com", "realm": "EXAMPLE.COM"},
//	})
//
//	task, err := client.WaitTask(ctx, id)
//
// # Prompts
//
// Installers ask questions. A task that hits one stops in [TaskStatusWaitingInput] until
// the answer arrives. Subscribe to the task to see the output and prompts as they happen,
// and answer with [Client.SubmitInput]:
//
//	unsubscribe, err := client.Subscribe(id, func(m lib.Message) {
//	    switch m.Type {
//	    case lib.MessageTypeOutput:
//	        fmt.Print(m.Text)
//	    case lib.MessageTypePrompt:
//	        go client.SubmitInput(ctx, id, answerFor(m.Text))
//	    }
//	})
//	defer unsubscribe()
//
// Only one prompt is outstanding at a time, an input without outstanding prompt is
// rejected with [ErrNoPendingPrompt].
//
// # Cancellation
//
// [Client.CancelTask] stops a running task. The task ends as [TaskStatusFailed] with
// Cancelled set. [Client.Close] cancels all the running tasks.
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: The task does not exist.
//   - [ErrAlreadyExists]: The host already has a running task.
//   - [ErrNotValid]: Invalid input or operation (e.g. cancelling an ended task).
//   - [ErrNoPendingPrompt]: Input submitted to a task that is not waiting for it.
//
// A failed task is not an error of the SDK calls, check [Task].Status, LastError and
// ErrorKind.
//
// # Testing
//
// Set [Config].Fake to use a scripted in-memory host that behaves like a fresh machine
// for the default stack:
//
//	client, _ := lib.New(lib.Config{Fake: true})
//	defer client.Close()
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines. Every task runs on its
// own goroutine.
package lib
