package nodemanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckDiskSpaceRejectsNonexistentPath(t *testing.T) {
	err := CheckDiskSpace(context.Background(), "/nonexistent/path/for/nodemanager/tests")
	require.Error(t, err)
}

func TestCheckDiskSpaceOnTempDirDoesNotPanic(t *testing.T) {
	// Free space on the test machine is unknown, so this only exercises
	// the gopsutil call path rather than asserting a pass/fail outcome.
	_ = CheckDiskSpace(context.Background(), t.TempDir())
}
