package runner

import (
	"fmt"
	"strings"
)

// SpawnError means the executable could not be launched at all: not found,
// not executable, permission denied or a bad working directory.
// No Result exists for a spawn failure.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn process %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// CommandFailed means the process ran and exited non-zero, or was killed.
// Result carries everything captured up to termination.
type CommandFailed struct {
	Result Result
	// Signal describes how the process was terminated when it did not exit
	// on its own ("signal: killed"). Empty for a normal non-zero exit.
	Signal string
	// Err is the context error when the run was cancelled.
	Err error
}

func (e *CommandFailed) Error() string {
	detail := strings.TrimSpace(e.Result.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Result.Stdout)
	}
	if e.Signal != "" {
		return fmt.Sprintf("command terminated (%s): %s", e.Signal, detail)
	}
	return fmt.Sprintf("command failed with exit code %d: %s", e.Result.ExitCode, detail)
}

func (e *CommandFailed) Unwrap() error { return e.Err }

// Code returns the exit code, -1 when the process was killed by a signal.
func (e *CommandFailed) Code() int { return e.Result.ExitCode }
