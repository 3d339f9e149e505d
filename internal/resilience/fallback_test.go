package resilience

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func newTestGroup(names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup[string](FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
		Logger:         slog.New(slog.DiscardHandler),
	})
	for _, n := range names {
		fg.Add(n, n)
	}
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()
	fg := newTestGroup("primary", "secondary")

	var called []string
	err := fg.Execute(context.Background(), func(_ context.Context, name, v string) error {
		called = append(called, name)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "primary" {
		t.Fatalf("called = %v, want [primary]", called)
	}
}

func TestFallbackGroup_FailoverInOrder(t *testing.T) {
	t.Parallel()
	fg := newTestGroup("a", "b", "c")

	var called []string
	got, err := ExecuteWithResult(context.Background(), fg, func(_ context.Context, name, v string) (string, error) {
		called = append(called, name)
		if v != "c" {
			return "", errTest
		}
		return "answer from " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "answer from c" {
		t.Fatalf("got %q", got)
	}
	want := []string{"a", "b", "c"}
	if len(called) != len(want) {
		t.Fatalf("called = %v, want %v", called, want)
	}
	for i := range want {
		if called[i] != want[i] {
			t.Fatalf("called = %v, want %v", called, want)
		}
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()
	fg := newTestGroup("primary", "secondary")

	err := fg.Execute(context.Background(), func(context.Context, string, string) error {
		return errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want it to wrap the entry errors", err)
	}
}

func TestFallbackGroup_Empty(t *testing.T) {
	t.Parallel()
	fg := newTestGroup()
	_, err := ExecuteWithResult(context.Background(), fg, func(context.Context, string, string) (int, error) {
		t.Fatal("fn called on empty group")
		return 0, nil
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := newTestGroup("primary", "secondary")

	failPrimary := func(_ context.Context, name, _ string) error {
		if name == "primary" {
			return errTest
		}
		return nil
	}
	for range 2 {
		_ = fg.Execute(context.Background(), failPrimary)
	}

	status := fg.Status()
	if len(status) != 2 || status[0].State != StateOpen || status[1].State != StateClosed {
		t.Fatalf("Status() = %+v, want primary open and secondary closed", status)
	}

	var called []string
	err := fg.Execute(context.Background(), func(_ context.Context, name, _ string) error {
		called = append(called, name)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want only secondary", called)
	}
}

func TestFallbackGroup_RetryOpenTriesSkippedEntriesLast(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[string](FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		RetryOpen:      true,
		Logger:         slog.New(slog.DiscardHandler),
	})
	fg.Add("primary", "primary")
	fg.Add("secondary", "secondary")

	_ = fg.Execute(context.Background(), func(context.Context, string, string) error { return errTest })
	for _, st := range fg.Status() {
		if st.State != StateOpen {
			t.Fatalf("Status() = %+v, want both open", fg.Status())
		}
	}

	var called []string
	err := fg.Execute(context.Background(), func(_ context.Context, name, _ string) error {
		called = append(called, name)
		if name == "primary" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 2 || called[0] != "primary" || called[1] != "secondary" {
		t.Fatalf("called = %v, want [primary secondary]", called)
	}
	status := fg.Status()
	if status[0].State != StateOpen || status[1].State != StateClosed {
		t.Fatalf("Status() = %+v, want primary open and secondary closed", status)
	}
}

func TestFallbackGroup_RetryOpenAllFail(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup[string](FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		RetryOpen:      true,
		Logger:         slog.New(slog.DiscardHandler),
	})
	fg.Add("only", "only")

	calls := 0
	failing := func(context.Context, string, string) error { calls++; return errTest }
	if err := fg.Execute(context.Background(), failing); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("first Execute = %v, want ErrAllFailed", err)
	}
	if err := fg.Execute(context.Background(), failing); !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("second Execute = %v, want ErrAllFailed wrapping errTest", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2: the open entry is still tried once", calls)
	}
}

func TestFallbackGroup_CancelledContextStops(t *testing.T) {
	t.Parallel()
	fg := newTestGroup("a", "b")
	ctx, cancel := context.WithCancel(context.Background())

	var called []string
	err := fg.Execute(ctx, func(_ context.Context, name, _ string) error {
		called = append(called, name)
		cancel()
		return errTest
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(called) != 1 {
		t.Fatalf("called = %v, want only the first entry", called)
	}
}

func TestFallbackGroup_Len(t *testing.T) {
	t.Parallel()
	if got := newTestGroup("a", "b", "c").Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
}
