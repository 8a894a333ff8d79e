package app

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

const testModeEnv = "PANTRY_TEST_MODE"

// InTestMode reports whether binaries should skip startup side effects such
// as opening connections. The flag is read once per process.
var InTestMode = sync.OnceValue(func() bool {
	return testModeEnabled(os.Getenv(testModeEnv))
})

func testModeEnabled(raw string) bool {
	on, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && on
}
