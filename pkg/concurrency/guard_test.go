package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyGuard_RejectsSecondTask(t *testing.T) {
	guard := NewConcurrencyGuard()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- guard.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.True(t, guard.Busy())

	err := guard.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, guard.Busy())
}

func TestConcurrencyGuard_PropagatesTaskError(t *testing.T) {
	guard := NewConcurrencyGuard()
	boom := errors.New("boom")

	err := guard.Execute(func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, guard.Busy(), "guard must be released after a failing task")
}

func TestConcurrencyGuard_ExecuteWithContext(t *testing.T) {
	guard := NewConcurrencyGuard()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := guard.ExecuteWithContext(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	err = guard.ExecuteWithContext(context.Background(), func(ctx context.Context) error {
		assert.NoError(t, ctx.Err())
		return nil
	})
	assert.NoError(t, err)
}

func TestMailbox_PreservesOrder(t *testing.T) {
	mb := NewMailbox[int]()

	var got []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mb.Drain(func(v int) { got = append(got, v) })
	}()

	for i := 0; i < 1000; i++ {
		require.True(t, mb.Put(i))
	}
	mb.Close()
	wg.Wait()

	require.Len(t, got, 1000)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestMailbox_PutAfterClose(t *testing.T) {
	mb := NewMailbox[string]()
	require.True(t, mb.Put("a"))
	mb.Close()
	assert.False(t, mb.Put("b"))
	assert.Equal(t, 1, mb.Len())

	var got []string
	mb.Drain(func(v string) { got = append(got, v) })
	assert.Equal(t, []string{"a"}, got)
}
