package model

// CommandResult is the result of a non interactive remote command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success returns true if the command exited with 0.
func (c CommandResult) Success() bool { return c.ExitCode == 0 }
