package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}

	e := Err[int](errors.New("fail"))
	if !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestFromPair(t *testing.T) {
	if v, err := FromPair(3, nil).Unwrap(); v != 3 || err != nil {
		t.Fatalf("expected 3, got %d %v", v, err)
	}
	if !FromPair(3, errors.New("x")).IsErr() {
		t.Fatal("pair with error should fail")
	}
}

func TestThenShortCircuits(t *testing.T) {
	called := false
	fail := Stage[int, int](func(_ context.Context, _ int) Result[int] {
		return Err[int](errors.New("first"))
	})
	second := Stage[int, string](func(_ context.Context, v int) Result[string] {
		called = true
		return Ok(strconv.Itoa(v))
	})
	r := Then(fail, second)(context.Background(), 1)
	if !r.IsErr() || called {
		t.Fatal("second stage must not run after a failure")
	}
}

func TestThenComposes(t *testing.T) {
	double := MapStage(func(v int) int { return v * 2 })
	str := MapStage(strconv.Itoa)
	v, err := Then(double, str)(context.Background(), 21).Unwrap()
	if err != nil || v != "42" {
		t.Fatalf("got %q, %v", v, err)
	}
}

func TestTryStage(t *testing.T) {
	parse := TryStage(strconv.Atoi)
	if v, err := parse(context.Background(), "7").Unwrap(); err != nil || v != 7 {
		t.Fatalf("got %d, %v", v, err)
	}
	if !parse(context.Background(), "x").IsErr() {
		t.Fatal("expected parse failure")
	}
}

func TestTapStage(t *testing.T) {
	var seen int
	tap := TapStage(func(_ context.Context, v int) { seen = v })
	v, _ := tap(context.Background(), 5).Unwrap()
	if v != 5 || seen != 5 {
		t.Fatalf("tap should pass through and observe, v=%d seen=%d", v, seen)
	}
}

func TestTracedStagePassesResult(t *testing.T) {
	st := TracedStage("double", MapStage(func(v int) int { return v * 2 }))
	if v, _ := st(context.Background(), 4).Unwrap(); v != 8 {
		t.Fatalf("expected 8, got %d", v)
	}
	failing := TracedStage("fail", TryStage(func(int) (int, error) { return 0, errors.New("x") }))
	if !failing(context.Background(), 1).IsErr() {
		t.Fatal("traced failure should stay a failure")
	}
}

func TestParMapPreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	out := ParMap(items, 2, func(v int) int {
		time.Sleep(time.Duration(v) * time.Millisecond)
		return v * 10
	})
	for i, v := range items {
		if out[i] != v*10 {
			t.Fatalf("index %d: expected %d, got %d", i, v*10, out[i])
		}
	}
}

func TestParMapBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	ParMap(make([]int, 20), 3, func(int) int {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return 0
	})
	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 workers, saw %d", peak.Load())
	}
}

func TestParMapEmpty(t *testing.T) {
	if out := ParMap[int, int](nil, 4, func(v int) int { return v }); len(out) != 0 {
		t.Fatalf("expected empty output, got %v", out)
	}
}
