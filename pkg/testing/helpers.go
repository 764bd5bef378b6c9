package testing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wms-platform/channel-sync-service/pkg/logging"
)

// AssertEventually asserts that a condition becomes true within a timeout
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		<-ticker.C
		if time.Now().After(deadline) {
			t.Fatalf("Condition not met within timeout: %s", message)
			return
		}
	}
}

// CreateTestContext creates a context with a timeout for tests
func CreateTestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// LogCapture collects JSON log output from a logging.Logger.
// It is safe for concurrent writes.
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer
func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// NewCapturedLogger returns a debug-level logger writing into a LogCapture
func NewCapturedLogger(serviceName string) (*logging.Logger, *LogCapture) {
	capture := &LogCapture{}
	logger := logging.New(&logging.Config{
		Level:       logging.LevelDebug,
		ServiceName: serviceName,
		Environment: "test",
		Version:     "test",
		Output:      capture,
	})
	return logger, capture
}

// Entries decodes every captured line
func (c *LogCapture) Entries(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var entries []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry), "log line is not JSON: %s", line)
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())
	return entries
}

// EntriesAtLevel returns the captured entries logged at level ("DEBUG", "INFO", "WARN", "ERROR")
func (c *LogCapture) EntriesAtLevel(t *testing.T, level string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range c.Entries(t) {
		if e["level"] == level {
			out = append(out, e)
		}
	}
	return out
}

// EntriesWithMessage returns the captured entries whose msg equals message
func (c *LogCapture) EntriesWithMessage(t *testing.T, message string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range c.Entries(t) {
		if e["msg"] == message {
			out = append(out, e)
		}
	}
	return out
}
