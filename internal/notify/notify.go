// Package notify delivers out-of-band alerts, used when the bypass
// detector surfaces critical findings that need human review.
package notify

import (
	"fmt"
	"os/exec"
	"strings"
)

// Notifier delivers one alert. Failures are reported, never fatal.
type Notifier interface {
	Send(title, message string) error
}

// New picks the notifier: a configured alert command if set, otherwise
// the desktop fallback.
func New(command string, args []string) Notifier {
	if command != "" {
		return &Command{command: command, args: args}
	}
	return &Desktop{}
}

// Command invokes an external alerting hook with the title and message
// appended as the final two arguments.
type Command struct {
	command string
	args    []string
}

func (c *Command) Send(title, message string) error {
	args := append(append([]string{}, c.args...), title, message)
	cmd := exec.Command(c.command, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("alert command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Desktop sends a macOS notification via osascript with sound.
type Desktop struct{}

func (d *Desktop) Send(title, message string) error {
	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		escapeAppleScript(message), escapeAppleScript(title),
	)
	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
