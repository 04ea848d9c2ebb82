// Package reboot supplies the device reboot capability invoked after too
// many failed poll cycles.
package reboot

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrNoCommand = errors.New("reboot: no command configured")

type Rebooter interface {
	Reboot(ctx context.Context) error
}

// Func adapts a plain function.
type Func func(ctx context.Context) error

func (f Func) Reboot(ctx context.Context) error { return f(ctx) }

// CommandRebooter runs an external command such as "systemctl reboot".
type CommandRebooter struct {
	Command []string
}

func (c CommandRebooter) Reboot(ctx context.Context) error {
	if len(c.Command) == 0 {
		return ErrNoCommand
	}
	log.Error().Str("command", strings.Join(c.Command, " ")).Msg("Too many failures in a row, rebooting device")
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("reboot command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// LogRebooter only reports that a reboot would happen.
type LogRebooter struct{}

func (LogRebooter) Reboot(context.Context) error {
	log.Error().Msg("Too many failures in a row, reboot requested (dry run)")
	return nil
}

// FromCommand builds a CommandRebooter from a configured command line;
// an empty line selects LogRebooter.
func FromCommand(line string) Rebooter {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return LogRebooter{}
	}
	return CommandRebooter{Command: fields}
}
