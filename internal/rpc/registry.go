package rpc

import (
	"errors"
	"sync"
)

// ErrUnknownFunc is returned when no handler is registered for a
// frame's function id.
var ErrUnknownFunc = errors.New("rpc: no handler registered for function id")

// Handler processes one request payload and returns a response payload
// plus the status to report.
type Handler func(senderID uint16, req []byte) (resp []byte, status Status)

// Registry maps function ids to handlers. Lookup is read-locked;
// registration is exclusive (spec §4.7: "registration is exclusive per
// id; re-registration replaces").
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint8]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint8]Handler)}
}

// Register installs fn as the handler for funcID, replacing any prior
// registration.
func (r *Registry) Register(funcID uint8, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[funcID] = fn
}

// Unregister removes funcID's handler, if any.
func (r *Registry) Unregister(funcID uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, funcID)
}

// Dispatch looks up funcID and invokes it, or reports
// StatusUnknownFunc/ErrUnknownFunc if nothing is registered.
func (r *Registry) Dispatch(funcID uint8, senderID uint16, req []byte) ([]byte, Status, error) {
	r.mu.RLock()
	fn, ok := r.handlers[funcID]
	r.mu.RUnlock()

	if !ok {
		return nil, StatusUnknownFunc, ErrUnknownFunc
	}

	resp, status := fn(senderID, req)
	return resp, status, nil
}
