package async

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	mu     sync.Mutex
	errors []string
}

func (c *captureLogger) Debug(string, ...any) {}
func (c *captureLogger) Info(string, ...any)  {}
func (c *captureLogger) Warn(string, ...any)  {}
func (c *captureLogger) Error(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *captureLogger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors)
}

func TestRunDeliversResult(t *testing.T) {
	want := errors.New("listener closed")
	err := <-Run(nil, "serve", func() error { return want })
	assert.ErrorIs(t, err, want)
}

func TestRunConvertsPanic(t *testing.T) {
	logger := &captureLogger{}
	err := <-Run(logger, "serve", func() error { panic("boom") })

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "serve", panicErr.Name)
	assert.Equal(t, "boom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
	assert.Equal(t, 1, logger.count())
}
