package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingWorker runs until its context is cancelled and reports that it
// started through the given channel.
func blockingWorker(started chan<- struct{}) func(context.Context) error {
	return func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		return nil
	}
}

func TestSupervisor_StartsEveryWorker(t *testing.T) {
	s := NewSupervisor()
	started := make(chan struct{}, 3)

	s.Add("netmon", blockingWorker(started), nil)
	s.Add("api", blockingWorker(started), nil)
	s.Add("janitor", blockingWorker(started), nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	for i := 0; i < 3; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatalf("worker %d never started", i)
		}
	}

	cancel()
	assert.NoError(t, s.Wait(ctx))
}

func TestSupervisor_ClosesInReverseOrder(t *testing.T) {
	s := NewSupervisor()
	started := make(chan struct{}, 3)

	var mu sync.Mutex
	var closed []string
	closeFn := func(name string) func() error {
		return func() error {
			mu.Lock()
			closed = append(closed, name)
			mu.Unlock()
			return nil
		}
	}

	s.Add("netmon", blockingWorker(started), closeFn("netmon"))
	s.Add("api", blockingWorker(started), closeFn("api"))
	s.Add("janitor", blockingWorker(started), closeFn("janitor"))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	for i := 0; i < 3; i++ {
		<-started
	}

	cancel()
	require.NoError(t, s.Wait(ctx))

	assert.Equal(t, []string{"janitor", "api", "netmon"}, closed)
}

func TestSupervisor_FirstWorkerErrorWins(t *testing.T) {
	s := NewSupervisor()

	firstErr := errors.New("netmon failed")
	secondErr := errors.New("api failed")
	firstDone := make(chan struct{})

	s.Add("netmon", func(ctx context.Context) error {
		defer close(firstDone)
		return firstErr
	}, nil)
	s.Add("api", func(ctx context.Context) error {
		<-firstDone
		time.Sleep(10 * time.Millisecond)
		return secondErr
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	<-firstDone
	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.Equal(t, firstErr, s.Wait(ctx))
}

func TestSupervisor_CloseErrorDoesNotMaskWorkerError(t *testing.T) {
	s := NewSupervisor()
	workerErr := errors.New("worker failed")

	s.Add("netmon", func(ctx context.Context) error {
		<-ctx.Done()
		return workerErr
	}, func() error {
		return errors.New("close failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	// The close error is logged and dropped; the worker error is returned.
	assert.Equal(t, workerErr, s.Wait(ctx))
}

func TestSupervisor_CloseErrorAloneIsNotFailure(t *testing.T) {
	s := NewSupervisor()
	started := make(chan struct{}, 1)

	s.Add("netmon", blockingWorker(started), func() error {
		return errors.New("close failed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	<-started
	cancel()

	assert.NoError(t, s.Wait(ctx))
}

func TestSupervisor_NilCloseFunc(t *testing.T) {
	s := NewSupervisor()
	started := make(chan struct{}, 1)

	s.Add("netmon", blockingWorker(started), nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	<-started
	cancel()

	require.NotPanics(t, func() {
		assert.NoError(t, s.Wait(ctx))
	})
}

func TestSupervisor_NoWorkers(t *testing.T) {
	s := NewSupervisor()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.NoError(t, s.Wait(ctx))
}

func TestSupervisor_WorkersSeeCancellation(t *testing.T) {
	s := NewSupervisor()
	started := make(chan struct{}, 1)
	sawCancel := make(chan struct{}, 1)

	s.Add("netmon", func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		sawCancel <- struct{}{}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	<-started
	cancel()
	require.NoError(t, s.Wait(ctx))

	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Fatal("worker never observed cancellation")
	}
}
