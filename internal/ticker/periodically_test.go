package ticker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPeriodicallyKeepsGoingAfterErrors(t *testing.T) {
	assert := assert.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Periodically(ctx, "test", time.Millisecond, func(ctx context.Context) error {
			if runs.Add(1) >= 3 {
				cancel()
			}
			return errors.New("cleanup failed")
		})
	}()

	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("Periodically did not return")
	}
	assert.GreaterOrEqual(runs.Load(), int32(3))
}

func TestPeriodicallyRunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	err := Periodically(ctx, "test", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		cancel()
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, int32(1), runs.Load())
}
