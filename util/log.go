package util

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewLogger writes to stdout and appends to logPath when it is set.
// The returned closer must be closed on exit.
func NewLogger(component string, logPath string, level string) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl := logrus.InfoLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "parse log level %q", level)
		}
		lvl = parsed
	}
	logger.SetLevel(lvl)

	var closer io.Closer = nopCloser{}
	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "open log file %s", logPath)
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, logFile))
		closer = logFile
	}

	logger.AddHook(componentHook(component))
	return logger, closer, nil
}

type componentHook string

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["component"]; !ok {
		e.Data["component"] = string(h)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
