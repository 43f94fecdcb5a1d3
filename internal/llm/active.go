package llm

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

type backendRef struct {
	backend Backend
}

// Active holds the process-wide backend. Readers take one immutable
// reference per request; switches build a complete replacement under a lock
// and publish it atomically, so in-flight requests finish on the old backend.
type Active struct {
	mu      sync.Mutex
	opts    Options
	current atomic.Pointer[backendRef]
}

// NewActive selects the initial backend from opts.
func NewActive(opts Options) (*Active, error) {
	b, err := SelectBackend(opts)
	if err != nil {
		return nil, err
	}
	return NewActiveWithBackend(opts, b), nil
}

// NewActiveWithBackend publishes an already built backend.
func NewActiveWithBackend(opts Options, b Backend) *Active {
	a := &Active{opts: opts}
	a.current.Store(&backendRef{backend: b})
	return a
}

// Backend returns the currently published backend.
func (a *Active) Backend() Backend {
	return a.current.Load().backend
}

// Switch rebuilds the backend for the requested mode. A local request that
// cannot be satisfied returns a ConfigurationError and keeps the current backend.
func (a *Active) Switch(useLocal bool) (Backend, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		next Backend
		err  error
	)
	if useLocal {
		next, err = a.buildLocal()
	} else {
		next, err = NewRemoteBackend(a.opts.Remote)
	}
	if err != nil {
		return a.Backend(), err
	}

	prev := a.current.Swap(&backendRef{backend: next})
	a.opts.UseLocal = useLocal
	log.Printf("llm backend switched: %s -> %s", prev.backend.Mode(), next.Mode())
	return next, nil
}

func (a *Active) buildLocal() (Backend, error) {
	if a.opts.Local.ModelPath == "" {
		return nil, &ConfigurationError{Backend: ModeLocal, Reason: "model path is empty"}
	}
	local, err := NewLocalBackend(a.opts.Local)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, &ConfigurationError{Backend: ModeLocal, Reason: "initialize local backend", Err: err}
	}
	return local, nil
}
