// Package listener fans detections out to the process-wide listener.
//
// There is at most one listener. Engines deliver detections through
// Hub.Dispatch on their own goroutine, and the listener runs synchronously
// on that goroutine. Dispatch never takes a registry token, so a listener
// may call back into the hub, even for the detecting key.
package listener

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/frymanofer/enginehub/pkg/metrics"
)

// Detection is one keyword detection of an instance.
type Detection struct {
	Key    string    `json:"key" yaml:"key"`
	Phrase string    `json:"phrase" yaml:"phrase"`
	Score  float32   `json:"score" yaml:"score"`
	At     time.Time `json:"at" yaml:"at"`
}

// Listener receives detections.
type Listener interface {
	OnDetection(d Detection)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(d Detection)

func (f ListenerFunc) OnDetection(d Detection) { f(d) }

// Config configures a Hub.
type Config struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Hub holds the current listener. The zero value is ready to use.
type Hub struct {
	cfg  Config
	slot atomic.Pointer[holder]
}

type holder struct{ l Listener }

// New creates a Hub.
func New(cfg Config) *Hub {
	return &Hub{cfg: cfg}
}

func (h *Hub) logger() *slog.Logger {
	if h.cfg.Logger != nil {
		return h.cfg.Logger
	}
	return slog.Default()
}

// Set installs l as the listener, replacing any previous one. Set(nil)
// clears it. Concurrent Sets resolve to the last write.
func (h *Hub) Set(l Listener) {
	if l == nil {
		h.slot.Store(nil)
		return
	}
	if f, ok := l.(ListenerFunc); ok && f == nil {
		h.slot.Store(nil)
		return
	}
	h.slot.Store(&holder{l: l})
}

// Current returns the installed listener, or nil.
func (h *Hub) Current() Listener {
	if p := h.slot.Load(); p != nil {
		return p.l
	}
	return nil
}

// Dispatch delivers d to the current listener on the calling goroutine and
// reports whether a listener received it. A zero At is filled with the
// current time. A panicking listener is recovered and logged.
func (h *Hub) Dispatch(d Detection) (delivered bool) {
	p := h.slot.Load()
	if p == nil {
		return false
	}
	if d.At.IsZero() {
		d.At = time.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			h.cfg.Metrics.ListenerPanicked()
			h.logger().Error("listener: panic in listener",
				"key", d.Key,
				"phrase", d.Phrase,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			delivered = false
		}
	}()
	p.l.OnDetection(d)
	h.cfg.Metrics.Detected()
	return true
}

// Emitter returns a callback that dispatches detections for key. It is the
// emit hook handed to engines.
func (h *Hub) Emitter(key string) func(phrase string, score float32) {
	return func(phrase string, score float32) {
		h.Dispatch(Detection{Key: key, Phrase: phrase, Score: score})
	}
}
