package executor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OmGuptaIND/rekordr/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRetriesUntilSuccess(t *testing.T) {
	w := executor.NewWorkerExecutor(context.Background(), &executor.WorkerExecutorOptions{
		WorkerCount:  2,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})
	w.Start()

	var calls atomic.Int32
	done := make(chan error, 1)

	w.Enqueue(executor.Job{
		Id:  "flaky",
		Ctx: context.Background(),
		JobFunc: func() error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
		OnSuccess: func() { done <- nil },
		OnError:   func(err error) { done <- err },
	})

	require.NoError(t, <-done)
	assert.Equal(t, int32(3), calls.Load())

	w.Stop()
	w.Wait()
}

func TestExecutorGivesUpAfterMaxRetries(t *testing.T) {
	w := executor.NewWorkerExecutor(context.Background(), &executor.WorkerExecutorOptions{
		WorkerCount: 1,
		MaxRetries:  2,
	})
	w.Start()

	var calls atomic.Int32
	done := make(chan error, 1)

	w.Enqueue(executor.Job{
		Id:  "broken",
		Ctx: context.Background(),
		JobFunc: func() error {
			calls.Add(1)
			return errors.New("permanent")
		},
		OnSuccess: func() { done <- nil },
		OnError:   func(err error) { done <- err },
	})

	assert.EqualError(t, <-done, "permanent")
	assert.Equal(t, int32(3), calls.Load())

	w.Stop()
	w.Wait()
}

func TestExecutorRunsJobsConcurrently(t *testing.T) {
	w := executor.NewWorkerExecutor(context.Background(), &executor.WorkerExecutorOptions{WorkerCount: 4})
	w.Start()

	var wg sync.WaitGroup
	var succeeded atomic.Int32

	onSuccess := func() {
		succeeded.Add(1)
		wg.Done()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		w.Enqueue(executor.Job{
			Ctx:       context.Background(),
			JobFunc:   func() error { return nil },
			OnSuccess: onSuccess,
			OnError:   func(error) { wg.Done() },
		})
	}

	wg.Wait()
	assert.Equal(t, int32(10), succeeded.Load())

	w.Stop()
	w.Stop()
	w.Wait()
}

func TestExecutorFailsCancelledJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := executor.NewWorkerExecutor(context.Background(), &executor.WorkerExecutorOptions{WorkerCount: 1})
	w.Start()

	done := make(chan error, 1)

	w.Enqueue(executor.Job{
		Ctx:       ctx,
		JobFunc:   func() error { return nil },
		OnSuccess: func() { done <- nil },
		OnError:   func(err error) { done <- err },
	})

	assert.ErrorIs(t, <-done, context.Canceled)

	w.Stop()
	w.Wait()
}
