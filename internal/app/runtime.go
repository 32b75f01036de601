package app

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

// TestModeEnv disables network side effects in binaries started from tests.
const TestModeEnv = "STOREKEEP_TEST_MODE"

// InTestMode reports whether binaries should exit before dialing any backend.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
