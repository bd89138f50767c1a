// Package object defines the ObjectDispatcher collaborator interface (§6):
// the boundary between the protocol stack and whatever holds device object
// data (the BACnet object model itself is out of scope). It also provides
// an in-memory reference implementation used by tests and by simple
// deployments that only need a handful of static objects.
package object

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownObject      = errors.New("object: no such object instance")
	ErrUnknownProperty    = errors.New("object: no such property")
	ErrWriteAccessDenied  = errors.New("object: property is read-only")
	ErrObjectAlreadyExist = errors.New("object: instance already exists")
)

// Type is a BACnet object type (Clause 12.1's enumeration; only the
// identifier is modeled here, not per-type semantics — those are the
// application layer's concern, not the protocol stack's).
type Type uint16

// Property identifies a property within an object (Clause 12's enumeration).
type Property uint32

// ObjectDispatcher is the stack's only dependency on device object data: it
// is how ReadProperty/WriteProperty/CreateObject/DeleteObject confirmed
// requests reach application state. arrayIndex of -1 means "not an array
// access".
type ObjectDispatcher interface {
	ReadProperty(objectType Type, instance uint32, property Property, arrayIndex int32) ([]byte, error)
	WriteProperty(objectType Type, instance uint32, property Property, arrayIndex int32, value []byte, priority uint8) error
	CreateObject(objectType Type, instance uint32) error
	DeleteObject(objectType Type, instance uint32) error
}

type key struct {
	objectType Type
	instance   uint32
}

type propertyValue struct {
	value    []byte
	writable bool
}

// Store is a minimal in-memory ObjectDispatcher: a map of object instances,
// each holding a map of property values, generalized from the teacher's
// `pkg/od` index/sub-index entry table (itself a map keyed by object
// index) to BACnet's (type, instance, property) addressing.
type Store struct {
	mu      sync.Mutex
	objects map[key]map[Property]*propertyValue
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{objects: make(map[key]map[Property]*propertyValue)}
}

// Seed sets a property's initial value on objectType/instance, creating the
// object if it does not yet exist. Intended for test and static-config
// setup, not for runtime use (it bypasses Property writability checks).
func (s *Store) Seed(objectType Type, instance uint32, property Property, value []byte, writable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{objectType, instance}
	props, ok := s.objects[k]
	if !ok {
		props = make(map[Property]*propertyValue)
		s.objects[k] = props
	}
	props[property] = &propertyValue{value: append([]byte{}, value...), writable: writable}
}

func (s *Store) ReadProperty(objectType Type, instance uint32, property Property, arrayIndex int32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	props, ok := s.objects[key{objectType, instance}]
	if !ok {
		return nil, fmt.Errorf("%w: type %d instance %d", ErrUnknownObject, objectType, instance)
	}
	pv, ok := props[property]
	if !ok {
		return nil, fmt.Errorf("%w: property %d", ErrUnknownProperty, property)
	}
	return append([]byte{}, pv.value...), nil
}

func (s *Store) WriteProperty(objectType Type, instance uint32, property Property, arrayIndex int32, value []byte, priority uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	props, ok := s.objects[key{objectType, instance}]
	if !ok {
		return fmt.Errorf("%w: type %d instance %d", ErrUnknownObject, objectType, instance)
	}
	pv, ok := props[property]
	if !ok {
		return fmt.Errorf("%w: property %d", ErrUnknownProperty, property)
	}
	if !pv.writable {
		return fmt.Errorf("%w: property %d", ErrWriteAccessDenied, property)
	}
	pv.value = append([]byte{}, value...)
	return nil
}

func (s *Store) CreateObject(objectType Type, instance uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{objectType, instance}
	if _, ok := s.objects[k]; ok {
		return fmt.Errorf("%w: type %d instance %d", ErrObjectAlreadyExist, objectType, instance)
	}
	s.objects[k] = make(map[Property]*propertyValue)
	return nil
}

func (s *Store) DeleteObject(objectType Type, instance uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{objectType, instance}
	if _, ok := s.objects[k]; !ok {
		return fmt.Errorf("%w: type %d instance %d", ErrUnknownObject, objectType, instance)
	}
	delete(s.objects, k)
	return nil
}
