package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type fakeServer struct {
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
	done     chan struct{}
}

func newFake(err error) *fakeServer { return &fakeServer{startErr: err, done: make(chan struct{})} }

func (f *fakeServer) Start(ctx context.Context) error {
	f.started.Store(true)
	if f.startErr != nil {
		return f.startErr
	}
	select {
	case <-ctx.Done():
	case <-f.done:
	}
	return nil
}

func (f *fakeServer) Stop(context.Context) error {
	if f.stopped.CompareAndSwap(false, true) {
		close(f.done)
	}
	return nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRun_StopsEveryServerOnCancel(t *testing.T) {
	a, b := newFake(nil), newFake(nil)
	app := New(quiet(), a, b)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- app.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !(a.started.Load() && b.started.Load()) {
		if time.Now().After(deadline) {
			t.Fatal("servers never started")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !a.stopped.Load() || !b.stopped.Load() {
		t.Error("expected both servers to be stopped")
	}
}

func TestRun_ServerFailureShutsDownTheRest(t *testing.T) {
	boom := errors.New("listen: address in use")
	ok, bad := newFake(nil), newFake(boom)
	app := New(quiet(), ok, bad)

	errc := make(chan error, 1)
	go func() { errc <- app.Run(context.Background()) }()

	select {
	case err := <-errc:
		if !errors.Is(err, boom) {
			t.Fatalf("expected %v, got %v", boom, err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after a server failed")
	}
	if !ok.stopped.Load() {
		t.Error("healthy server was not stopped")
	}
}
