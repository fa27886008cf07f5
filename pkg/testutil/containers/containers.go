//go:build integration

// Package containers starts throwaway backing services for integration tests.
// Tests skip unless GO_TEST_INTEGRATION is set.
package containers

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// SkipUnlessIntegration skips t when integration tests are disabled.
func SkipUnlessIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}
}

// repoRoot resolves the module root from this file so migrations are found
// regardless of the test's working directory.
func repoRoot() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", "..", ".."))
}
