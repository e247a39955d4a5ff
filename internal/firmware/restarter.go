package firmware

import (
	"context"
	"os/exec"
	"time"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CommandRestarter restarts the device by running an external command,
// typically "systemctl reboot".
type CommandRestarter struct {
	command []string
	timeout time.Duration
	logger  Logger

	// run replaces command execution in tests.
	run func(ctx context.Context, name string, args ...string) error
}

// NewCommandRestarter creates a restarter for command. logger may be nil.
func NewCommandRestarter(command []string, logger Logger) *CommandRestarter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CommandRestarter{
		command: command,
		timeout: 30 * time.Second,
		logger:  logger,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Restart implements ota.Restarter. Failures are logged; there is nobody
// left to return them to.
func (r *CommandRestarter) Restart() {
	if len(r.command) == 0 {
		r.logger.Error("no reboot command configured")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	r.logger.Info("restarting device", "command", r.command)
	if err := r.run(ctx, r.command[0], r.command[1:]...); err != nil {
		r.logger.Error("reboot command failed", "command", r.command, "error", err)
	}
}
