package listener

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/frymanofer/enginehub/pkg/metrics"
)

func quietHub() *Hub {
	return New(Config{
		Metrics: metrics.New(nil),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestDispatchWithoutListener(t *testing.T) {
	h := quietHub()
	if h.Dispatch(Detection{Key: "k"}) {
		t.Fatal("delivered without a listener")
	}
	var zero Hub
	if zero.Dispatch(Detection{Key: "k"}) {
		t.Fatal("zero Hub delivered")
	}
}

func TestDispatchSameGoroutine(t *testing.T) {
	h := quietHub()
	var got Detection
	calls := 0
	h.Set(ListenerFunc(func(d Detection) {
		got = d
		calls++
	}))

	// Non-atomic writes above would race if the listener ran elsewhere;
	// reading them right after Dispatch returns checks synchronous delivery.
	emit := h.Emitter("kitchen")
	emit("hey_computer", 0.93)
	if calls != 1 || got.Key != "kitchen" || got.Phrase != "hey_computer" || got.Score != 0.93 {
		t.Fatalf("got %+v after %d calls", got, calls)
	}
	if got.At.IsZero() {
		t.Error("At not stamped")
	}
}

func TestSetReplaceAndClear(t *testing.T) {
	h := quietHub()
	var a, b int
	h.Set(ListenerFunc(func(Detection) { a++ }))
	h.Dispatch(Detection{})
	h.Set(ListenerFunc(func(Detection) { b++ }))
	h.Dispatch(Detection{})
	h.Set(nil)
	h.Dispatch(Detection{})
	if a != 1 || b != 1 {
		t.Fatalf("a=%d b=%d", a, b)
	}
	var nilFunc ListenerFunc
	h.Set(nilFunc)
	if h.Current() != nil {
		t.Fatal("nil ListenerFunc installed")
	}
}

func TestPanickingListener(t *testing.T) {
	h := quietHub()
	h.Set(ListenerFunc(func(Detection) { panic("ui thread gone") }))
	if h.Dispatch(Detection{Key: "k"}) {
		t.Fatal("panicking delivery reported as delivered")
	}
	if got := testutil.ToFloat64(h.cfg.Metrics.ListenerPanics); got != 1 {
		t.Fatalf("listener panics = %v", got)
	}
}

func TestConcurrentSetAndDispatch(t *testing.T) {
	h := quietHub()
	var n atomic.Int64
	l := ListenerFunc(func(Detection) { n.Add(1) })

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 100 {
				if i%2 == 0 {
					h.Set(l)
				} else {
					h.Set(nil)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for range 100 {
				h.Dispatch(Detection{Key: "k"})
			}
		}()
	}
	wg.Wait()

	h.Set(l)
	before := n.Load()
	h.Dispatch(Detection{})
	if n.Load() != before+1 {
		t.Fatal("last Set not effective")
	}
}
