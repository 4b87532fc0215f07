// Package async runs background work with panic recovery.
package async

import (
	"fmt"
	"runtime/debug"

	"subsidypay/internal/logging"
)

// PanicError is returned by Run when fn panicked.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("goroutine panic [%s]: %v", e.Name, e.Value)
}

// Run runs fn in a goroutine and delivers its result on the returned
// channel, which has capacity one. A panic is delivered as *PanicError.
func Run(logger logging.Logger, name string, fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := &PanicError{Name: name, Value: r, Stack: debug.Stack()}
				logging.OrNop(logger).Error("%v, stack: %s", err, err.Stack)
				done <- err
			}
		}()
		done <- fn()
	}()
	return done
}
