package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// testModeEnv makes the binaries exit before opening connections, so packages
// that import them can be tested without Postgres or Redis.
const testModeEnv = "HASLEDGER_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeInit sync.Once
)

func readTestMode() {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(on)
}

// InTestMode reports whether HASLEDGER_TEST_MODE is set to a true value.
func InTestMode() bool {
	testModeInit.Do(readTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads the environment, for tests that toggle it.
func RefreshTestMode() {
	testModeInit.Do(func() {})
	readTestMode()
}
