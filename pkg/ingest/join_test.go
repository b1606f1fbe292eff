package ingest

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestJoinFiresAtTarget(t *testing.T) {
	j := NewJoin(2)
	j.Arrive()

	select {
	case <-j.done:
		t.Fatal("join fired before the target count")
	default:
	}

	j.Arrive()
	if err := j.Wait(context.Background()); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
}

func TestJoinFirstFailureWins(t *testing.T) {
	j := NewJoin(2)
	first := errors.New("disk write failed")
	second := errors.New("scan failed")

	j.Fail(first)
	j.Fail(second)
	j.Arrive()

	if err := j.Wait(context.Background()); !errors.Is(err, first) {
		t.Errorf("Wait = %v, want the first failure", err)
	}
}

func TestJoinNilFailIgnored(t *testing.T) {
	j := NewJoin(1)
	j.Fail(nil)
	j.Arrive()
	if err := j.Wait(context.Background()); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
}

func TestJoinCancellation(t *testing.T) {
	j := NewJoin(2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- j.Wait(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Wait = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}

	// Late arrivals find the join settled and do not panic.
	j.Arrive()
	j.Arrive()
}

func TestJoinConcurrentArrivals(t *testing.T) {
	j := NewJoin(8)
	for i := 0; i < 8; i++ {
		go j.Arrive()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.Wait(ctx); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
}
