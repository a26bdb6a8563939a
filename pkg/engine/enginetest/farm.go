package enginetest

import (
	"context"
	"sync"

	"github.com/frymanofer/enginehub/pkg/engine"
)

// Farm is an engine.Factory that builds Fakes and remembers them.
type Farm struct {
	// Setup, if set, adjusts each Fake before it is returned.
	Setup func(*Fake)

	// Fail, if set, can reject a construction.
	Fail func(spec engine.Spec) error

	mu    sync.Mutex
	built map[string][]*Fake
	count int
}

// Factory satisfies engine.Factory.
func (f *Farm) Factory(_ context.Context, spec engine.Spec) (engine.Engine, error) {
	if f.Fail != nil {
		if err := f.Fail(spec); err != nil {
			return nil, err
		}
	}
	fake := NewFake(spec)
	if f.Setup != nil {
		f.Setup(fake)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.built == nil {
		f.built = make(map[string][]*Fake)
	}
	f.built[spec.Key] = append(f.built[spec.Key], fake)
	f.count++
	return fake, nil
}

// Last returns the most recent Fake built for key, or nil.
func (f *Farm) Last(key string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.built[key]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Built returns every Fake built for key, oldest first.
func (f *Farm) Built(key string) []*Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Fake(nil), f.built[key]...)
}

// Count returns the number of successful constructions.
func (f *Farm) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
