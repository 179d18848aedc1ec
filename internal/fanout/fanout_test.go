package fanout

import (
	"context"
	"errors"
	"testing"
	"time"
)

func receive[T any](t *testing.T, a *Attachment[T]) T {
	t.Helper()
	select {
	case v, ok := <-a.C():
		if !ok {
			t.Fatal("attachment closed early")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for item")
	}
	var zero T
	return zero
}

func waitClosed[T any](t *testing.T, a *Attachment[T]) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-a.C():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("attachment was not closed")
		}
	}
}

func TestFanout_Multicast(t *testing.T) {
	f := New[int]("test", nil)
	a := f.Attach()
	b := f.Attach()

	pipe := NewPipe[int](8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx, pipe)

	for i := 1; i <= 5; i++ {
		if err := pipe.Emit(ctx, i); err != nil {
			t.Fatalf("Emit() error = %v", err)
		}
	}

	for _, att := range []*Attachment[int]{a, b} {
		for want := 1; want <= 5; want++ {
			if got := receive(t, att); got != want {
				t.Errorf("attachment %d: got %d, want %d", att.ID(), got, want)
			}
		}
	}
}

func TestFanout_DetachRestoresCount(t *testing.T) {
	f := New[int]("test", nil)
	a := f.Attach()
	b := f.Attach()

	if got := f.Attached(); got != 2 {
		t.Fatalf("Attached() = %d, want 2", got)
	}

	a.Detach()
	a.Detach()
	if got := f.Attached(); got != 1 {
		t.Errorf("Attached() after detach = %d, want 1", got)
	}
	waitClosed(t, a)

	b.Detach()
	if got := f.Attached(); got != 0 {
		t.Errorf("Attached() = %d, want 0", got)
	}
}

func TestFanout_FatalErrorClosesAll(t *testing.T) {
	f := New[int]("test", nil)
	a := f.Attach()
	b := f.Attach()

	boom := errors.New("schema drift")
	pipe := NewPipe[int](1)
	pipe.Finish(boom)

	if err := f.Run(context.Background(), pipe); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}

	for _, att := range []*Attachment[int]{a, b} {
		waitClosed(t, att)
		if !errors.Is(att.Err(), boom) {
			t.Errorf("attachment Err() = %v, want %v", att.Err(), boom)
		}
	}

	select {
	case <-f.Done():
	default:
		t.Error("Done() not closed after termination")
	}
	if f.Attached() != 0 {
		t.Errorf("Attached() = %d, want 0", f.Attached())
	}
}

func TestFanout_QueuedItemsDrainBeforeClose(t *testing.T) {
	f := New[int]("test", nil)
	a := f.Attach()

	pipe := NewPipe[int](3)
	ctx := context.Background()
	pipe.Emit(ctx, 1)
	pipe.Emit(ctx, 2)
	pipe.Finish(nil)

	if err := f.Run(ctx, pipe); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := receive(t, a); got != 1 {
		t.Errorf("first = %d, want 1", got)
	}
	if got := receive(t, a); got != 2 {
		t.Errorf("second = %d, want 2", got)
	}
	waitClosed(t, a)
	if a.Err() != nil {
		t.Errorf("Err() = %v, want nil", a.Err())
	}
}

func TestFanout_AttachAfterTermination(t *testing.T) {
	f := New[int]("test", nil)
	f.Close()

	a := f.Attach()
	waitClosed(t, a)
	if !errors.Is(a.Err(), ErrClosed) {
		t.Errorf("Err() = %v, want ErrClosed", a.Err())
	}
	if f.Attached() != 0 {
		t.Errorf("Attached() = %d, want 0", f.Attached())
	}
}

func TestFanout_SlowConsumerDoesNotBlockOthers(t *testing.T) {
	f := New[int]("test", nil)
	slow := f.Attach()
	fast := f.Attach()

	pipe := NewPipe[int](0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx, pipe)

	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			pipe.Emit(ctx, i)
		}
	}()

	for want := 0; want < n; want++ {
		if got := receive(t, fast); got != want {
			t.Fatalf("fast got %d, want %d", got, want)
		}
	}

	// slow's pump holds at most one item; the rest stays queued.
	if pending, peak := f.Backlog(); pending < n-1 || peak < pending {
		t.Errorf("Backlog() = %d, %d, want pending >= %d and peak >= pending", pending, peak, n-1)
	}

	// slow has not read anything yet but still holds every item in order.
	for want := 0; want < n; want++ {
		if got := receive(t, slow); got != want {
			t.Fatalf("slow got %d, want %d", got, want)
		}
	}

	if pending, peak := f.Backlog(); pending != 0 || peak < n-1 {
		t.Errorf("Backlog() after drain = %d, %d, want 0 and peak >= %d", pending, peak, n-1)
	}
	if st := slow.Stats(); st.Delivered != n {
		t.Errorf("slow Delivered = %d, want %d", st.Delivered, n)
	}
}

func TestFanout_NoReplayForLateAttach(t *testing.T) {
	f := New[int]("test", nil)
	early := f.Attach()

	pipe := NewPipe[int](0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx, pipe)

	pipe.Emit(ctx, 1)
	if got := receive(t, early); got != 1 {
		t.Fatalf("early got %d, want 1", got)
	}

	late := f.Attach()
	pipe.Emit(ctx, 2)

	if got := receive(t, late); got != 2 {
		t.Errorf("late got %d, want 2", got)
	}
	if got := receive(t, early); got != 2 {
		t.Errorf("early got %d, want 2", got)
	}
}

func TestFanout_ContextCancel(t *testing.T) {
	f := New[int]("test", nil)
	a := f.Attach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, NewPipe[int](0)) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	waitClosed(t, a)
}
