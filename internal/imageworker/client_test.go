package imageworker

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestClientProcessRoundTripsThroughEchoWorker exercises the framing and
// process-management plumbing against /bin/cat acting as a stand-in
// worker that echoes every frame back unchanged. It does not exercise
// real image-processing semantics (out of scope, spec.md §1), only that
// a request frame written to the subprocess's stdin comes back out as a
// well-formed frame on stdout.
func TestClientProcessRoundTripsThroughEchoWorker(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available on this system")
	}

	c := New("cat", nil, nil)
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.Process(context.Background(), Request{Input: "/tmp/a.jpg", Output: "/tmp/b.jpg"})
	require.NoError(t, err)
}

func TestClientProcessIsSerializedAcrossConcurrentCallers(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available on this system")
	}

	c := New("cat", nil, nil)
	t.Cleanup(func() { _ = c.Close() })

	done := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, err := c.Process(context.Background(), Request{Input: "/tmp/a.jpg", Output: "/tmp/b.jpg"})
			done <- err
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, <-done)
	}
}
