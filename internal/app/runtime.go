package app

import (
	"log/slog"
	"os"
	"sync"
)

// TestModeEnv makes binaries return before opening any connection.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeOnce sync.Once
	testMode     bool
)

// InTestMode reports whether the process runs under test. The flag is read once.
func InTestMode() bool {
	testModeOnce.Do(func() {
		testMode = os.Getenv(TestModeEnv) == "1"
	})
	return testMode
}

// SkipStartup reports whether binary should exit before wiring anything.
func SkipStartup(binary string) bool {
	if !InTestMode() {
		return false
	}
	slog.Default().Info("test mode detected, skipping startup", slog.String("binary", binary))
	return true
}
