// Package registry implements the message type-code registry: a mapping
// from a 16-bit type code to a constructor and an optional worker.
package registry

import (
	"errors"
	"sync"

	"github.com/kaspeak/kaspeak-go/pkg/message"
)

// MaxTypeCode is the largest valid type code; type codes occupy the
// full unsigned 16-bit range.
const MaxTypeCode = 0xFFFF

var (
	ErrTypeCodeOutOfRange = errors.New("registry: type code out of range")
	ErrUnknownMessageType = errors.New("registry: unknown message type")
)

// Constructor builds a fresh, default-valued instance of a registered
// message type; the pipeline hydrates it from the decoded plain object.
type Constructor func() message.Message

// Worker is an optional per-type hook the ingestion engine schedules on
// the next task-queue turn after emitting message-received. Worker
// errors and panics are logged, never propagated.
type Worker func(header *message.Header, data []byte) error

type entry struct {
	constructor Constructor
	worker      Worker
}

// Registry is a concurrency-safe type-code table. The zero value is not
// usable; construct with New.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint16]entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[uint16]entry)}
}

// Register installs a constructor (and optional worker, which may be
// nil) for typeCode. The last registration for a given type code wins
// silently. typeCode is an int rather than uint16 so out-of-range
// values, including negative ones, are rejected instead of silently
// wrapping.
func (r *Registry) Register(typeCode int, constructor Constructor, worker Worker) error {
	if typeCode < 0 || typeCode > MaxTypeCode {
		return ErrTypeCodeOutOfRange
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[uint16(typeCode)] = entry{constructor: constructor, worker: worker}
	return nil
}

// Unregister removes any registration for typeCode. It is not an error
// to unregister a type code that was never registered.
func (r *Registry) Unregister(typeCode uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, typeCode)
}

// Create instantiates a default value of the type registered for
// typeCode, or fails with ErrUnknownMessageType.
func (r *Registry) Create(typeCode uint16) (message.Message, error) {
	r.mu.RLock()
	e, ok := r.entries[typeCode]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownMessageType
	}
	return e.constructor(), nil
}

// GetWorker returns the worker registered for typeCode, which may be
// nil even when the type itself is registered.
func (r *Registry) GetWorker(typeCode uint16) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typeCode]
	if !ok {
		return nil, false
	}
	return e.worker, e.worker != nil
}

// GetCtor returns the constructor registered for typeCode.
func (r *Registry) GetCtor(typeCode uint16) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typeCode]
	if !ok {
		return nil, false
	}
	return e.constructor, true
}

// Len reports the number of currently registered type codes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
