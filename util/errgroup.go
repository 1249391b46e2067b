package util

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrorGroup is an errgroup.Group that turns a panicking goroutine into
// an error returned from Wait instead of crashing the host.
type ErrorGroup struct {
	*errgroup.Group
	logger logrus.FieldLogger
}

func NewErrorGroup(logger logrus.FieldLogger) *ErrorGroup {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ErrorGroup{Group: new(errgroup.Group), logger: logger}
}

func (eg *ErrorGroup) Go(f func() error) {
	eg.Group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				eg.logger.WithField("panic", r).Errorf("recovered from panic\n%s", debug.Stack())
				err = fmt.Errorf("panic occurred: %v", r)
			}
		}()
		return f()
	})
}
