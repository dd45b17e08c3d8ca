package alerting

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

// commandRunner executes an external program.
type commandRunner func(ctx context.Context, name string, args ...string) error

// DesktopNotifier shows a local desktop notification through the platform tool.
type DesktopNotifier struct {
	appName string
	goos    string
	run     commandRunner
	logger  zerolog.Logger
}

// NewDesktopNotifier constructs a notifier that shells out to the OS notifier.
func NewDesktopNotifier(appName string, logger zerolog.Logger) *DesktopNotifier {
	return &DesktopNotifier{
		appName: appName,
		goos:    runtime.GOOS,
		run: func(ctx context.Context, name string, args ...string) error {
			// #nosec G204 -- fixed binaries, arguments are message text
			return exec.CommandContext(ctx, name, args...).Run()
		},
		logger: logger.With().Str("component", "alert_desktop").Logger(),
	}
}

func (n *DesktopNotifier) Notify(ctx context.Context, note Notification) error {
	name, args, err := n.command(note)
	if err != nil {
		return err
	}
	if err := n.run(ctx, name, args...); err != nil {
		return fmt.Errorf("desktop notification via %s: %w", name, err)
	}
	n.logger.Debug().Str("title", note.Title).Msg("desktop notification shown")
	return nil
}

func (n *DesktopNotifier) command(note Notification) (string, []string, error) {
	switch n.goos {
	case "linux", "freebsd", "openbsd":
		return "notify-send", []string{"--app-name", n.appName, "--expire-time", "30000", note.Title, note.Body}, nil
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s subtitle %s",
			strconv.Quote(note.Body), strconv.Quote(note.Title), strconv.Quote(n.appName))
		return "osascript", []string{"-e", script}, nil
	default:
		return "", nil, fmt.Errorf("desktop notifications unsupported on %s", n.goos)
	}
}

var _ Notifier = (*DesktopNotifier)(nil)
