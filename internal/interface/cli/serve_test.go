package cli

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer は ctx がキャンセルされるまで動き続けるサーバ
type fakeServer struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (s *fakeServer) Run(ctx context.Context) error {
	s.started.Store(true)
	<-ctx.Done()
	s.stopped.Store(true)
	return nil
}

func TestServeWhileInitializing_ServerStartsBeforeInitCompletes(t *testing.T) {
	server := &fakeServer{}
	release := make(chan struct{})
	var sawServerDuringInit atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveWhileInitializing(ctx, server.Run, func(context.Context) error {
			for !server.started.Load() {
				time.Sleep(time.Millisecond)
			}
			sawServerDuringInit.Store(true)
			<-release
			return nil
		})
	}()

	require.Eventually(t, sawServerDuringInit.Load, time.Second, time.Millisecond)
	close(release)

	// 初期化成功後もサーバは動き続ける
	time.Sleep(20 * time.Millisecond)
	assert.False(t, server.stopped.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("serve did not return after cancellation")
	}
	assert.True(t, server.stopped.Load())
}

func TestServeWhileInitializing_InitFailureStopsServer(t *testing.T) {
	server := &fakeServer{}
	initErr := errors.New("embedder unavailable")

	err := serveWhileInitializing(context.Background(), server.Run, func(context.Context) error {
		return initErr
	})

	assert.ErrorIs(t, err, initErr)
	assert.True(t, server.stopped.Load())
}

func TestServeWhileInitializing_ServerFailureCancelsInit(t *testing.T) {
	listenErr := errors.New("address already in use")
	var initCancelled atomic.Bool

	err := serveWhileInitializing(context.Background(),
		func(context.Context) error { return listenErr },
		func(ctx context.Context) error {
			<-ctx.Done()
			initCancelled.Store(true)
			return ctx.Err()
		},
	)

	assert.ErrorIs(t, err, listenErr)
	assert.True(t, initCancelled.Load())
}
