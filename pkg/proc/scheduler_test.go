package proc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunOnlyAllowsOneTaskAtATime(t *testing.T) {
	v := NewViper(1, "init", nil, nil)
	sched := NewScheduler()

	var concurrent int32
	var maxConcurrent int32
	work := func(ctx context.Context) error {
		n := atomic.AddInt32(&concurrent, 1)
		if n > atomic.LoadInt32(&maxConcurrent) {
			atomic.StoreInt32(&maxConcurrent, n)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	}

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		task, err := v.SpawnTask("worker")
		require.NoError(t, err)
		go func(task *Task) {
			_ = sched.Run(context.Background(), task, work)
			done <- struct{}{}
		}(task)
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxConcurrent))
}

func TestSchedulerSpawnRunsAsynchronously(t *testing.T) {
	v := NewViper(1, "init", nil, nil)
	sched := NewScheduler()

	ran := make(chan struct{})
	task, err := sched.Spawn(v, "async", func(ctx context.Context, t *Task) {
		close(ran)
	})
	require.NoError(t, err)
	require.NotNil(t, task)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("spawned task never ran")
	}
}
