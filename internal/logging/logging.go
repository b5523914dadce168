// Package logging configures logrus for the signavatar commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Options describes logger construction parameters.
type Options struct {
	// Level is a logrus level name; empty means info.
	Level string
	// Format is "text", "json" or "auto". Auto picks colored text on a
	// terminal and JSON otherwise.
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// New builds a logger from opts.
func New(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()
	if err := Configure(logger, opts); err != nil {
		return nil, err
	}
	return logger, nil
}

// Setup configures the standard logrus logger.
func Setup(opts Options) error {
	return Configure(logrus.StandardLogger(), opts)
}

// Configure applies opts to logger.
func Configure(logger *logrus.Logger, opts Options) error {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	levelName := strings.TrimSpace(opts.Level)
	if levelName == "" {
		levelName = "info"
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "auto"
	}
	tty := isTerminal(out)

	var formatter logrus.Formatter
	switch format {
	case "json":
		formatter = &logrus.JSONFormatter{}
	case "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true, ForceColors: tty, DisableColors: !tty}
	case "auto":
		if tty {
			formatter = &logrus.TextFormatter{FullTimestamp: true, ForceColors: true}
		} else {
			formatter = &logrus.JSONFormatter{}
		}
	default:
		return fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	logger.SetOutput(out)
	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	return nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
