package irsend

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultTool is the LIRC userspace transmit binary from v4l-utils.
const DefaultTool = "ir-ctl"

// Transmitter issues a single hardware transmit invocation for one scancode.
// Implementations must be safe for concurrent use; sessions for distinct keys
// transmit in parallel unless the Sender serializes them.
type Transmitter interface {
	Transmit(ctx context.Context, scancode string) error
}

// ExecTransmitter transmits by invoking ir-ctl once per scancode.
type ExecTransmitter struct {
	// Device is the IR character device handed to ir-ctl, e.g. /dev/lirc0.
	Device string
	// Protocol prefixes bare scancodes (nec, rc5, ...). Scancodes that
	// already contain a protocol prefix are passed through untouched.
	Protocol string
	// Tool overrides the transmit binary; empty means DefaultTool.
	Tool string
}

// Transmit runs one ir-ctl invocation and classifies its failure modes.
func (t *ExecTransmitter) Transmit(ctx context.Context, scancode string) error {
	tool := t.Tool
	if tool == "" {
		tool = DefaultTool
	}
	arg := scancode
	if t.Protocol != "" && !strings.Contains(scancode, ":") {
		arg = t.Protocol + ":" + scancode
	}
	cmd := exec.CommandContext(ctx, tool, "-d", t.Device, "--scancode", arg)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return &ToolMissingError{Tool: tool, Err: err}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{
			Scancode: arg,
			ExitCode: exitErr.ExitCode(),
			Output:   strings.TrimSpace(string(output)),
			Err:      err,
		}
	}
	return &CommandError{Scancode: arg, ExitCode: -1, Err: err}
}

// ToolMissingError reports that the transmit binary could not be invoked.
type ToolMissingError struct {
	Tool string
	Err  error
}

func (e *ToolMissingError) Error() string {
	return fmt.Sprintf("%s not found (install v4l-utils or ensure %s is in PATH)", e.Tool, e.Tool)
}

func (e *ToolMissingError) Unwrap() error { return e.Err }

// CommandError reports a failed transmit invocation along with the underlying
// exit indicator.
type CommandError struct {
	Scancode string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("transmit %s failed (exit %d): %s", e.Scancode, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("transmit %s failed (exit %d)", e.Scancode, e.ExitCode)
}

func (e *CommandError) Unwrap() error { return e.Err }
