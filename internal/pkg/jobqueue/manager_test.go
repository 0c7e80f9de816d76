package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManagerStopTerminates(t *testing.T) {
	m := GetManager()
	m.Start()
	assert.True(t, m.IsRunning())

	// Stop must wait for the background workers and return; a worker that
	// re-enters its select after shutdown began still has to observe the
	// closed stop channel.
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("Stop did not terminate background workers")
	}
	assert.False(t, m.IsRunning())

	// Repeated Stop on a stopped manager is a no-op.
	m.Stop()
	assert.False(t, m.IsRunning())
}
