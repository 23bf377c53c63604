package rpc

import (
	"fmt"
	"reflect"
	"sync"
)

type serviceEntry struct {
	id      int32
	newReq  func() Request
	newRes  func() Response
	reqType reflect.Type
	resType reflect.Type
}

// Registry is the process-scoped service table: service id -> request and
// response constructors. It is built during initialization, passed to
// server and client constructors, and must be identical across all RPC
// participants for a given service id. Registration after the first
// send/receive is a programming error.
type Registry struct {
	mu        sync.RWMutex
	services  map[int32]*serviceEntry
	byReqType map[reflect.Type]int32
}

func NewRegistry() *Registry {
	return &Registry{
		services:  make(map[int32]*serviceEntry),
		byReqType: make(map[reflect.Type]int32),
	}
}

// Register binds a service id to a request/response type pair. Registering
// the same pair twice is a no-op; a different pair under an existing id
// fails with ErrDuplicateService.
func (r *Registry) Register(serviceID int32, newReq func() Request, newRes func() Response) error {
	if serviceID <= 0 {
		return fmt.Errorf("rpc: service id must be positive, got %d", serviceID)
	}
	reqType := reflect.TypeOf(newReq())
	resType := reflect.TypeOf(newRes())
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.services[serviceID]; ok {
		if e.reqType == reqType && e.resType == resType {
			return nil
		}
		return fmt.Errorf("%w: id %d bound to (%v, %v), cannot rebind to (%v, %v)",
			ErrDuplicateService, serviceID, e.reqType, e.resType, reqType, resType)
	}
	r.services[serviceID] = &serviceEntry{
		id: serviceID, newReq: newReq, newRes: newRes, reqType: reqType, resType: resType,
	}
	r.byReqType[reqType] = serviceID
	return nil
}

func (r *Registry) lookup(serviceID int32) (*serviceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[serviceID]
	return e, ok
}

// serviceOf resolves the registered service id of a request value.
func (r *Registry) serviceOf(req Request) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byReqType[reflect.TypeOf(req)]
	return id, ok
}
