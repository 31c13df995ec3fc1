package bridge

import (
	"fmt"
	"sync"
)

// ResolutionError wraps a host resolver failure. Err is the host's error, unchanged.
type ResolutionError struct {
	Request  string
	Importer string
	Err      error
}

func (e *ResolutionError) Error() string {
	if e.Importer == "" {
		return fmt.Sprintf("failed to resolve %q: %v", e.Request, e.Err)
	}
	return fmt.Sprintf("failed to resolve %q from %q: %v", e.Request, e.Importer, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// LoadError wraps a host module load failure.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %q: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// failure keeps the first error reported by any bridge callback.
type failure struct {
	mu  sync.Mutex
	err error
}

func (f *failure) set(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
}

func (f *failure) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
