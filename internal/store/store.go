// Package store persists typed per-entity key/value records.
//
// A Record holds every key an entity owns. Save replaces the whole record so
// removed keys disappear from the backend too.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// DataType identifies the type of a stored value.
type DataType uint8

const (
	TypeBool DataType = iota + 1
	TypeFloat
)

// String returns the type name.
func (t DataType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Value is a single typed value.
type Value struct {
	Type  DataType
	Bool  bool
	Float float64
}

// BoolValue wraps a bool.
func BoolValue(b bool) Value {
	return Value{Type: TypeBool, Bool: b}
}

// FloatValue wraps a float.
func FloatValue(f float64) Value {
	return Value{Type: TypeFloat, Float: f}
}

// Record maps namespaced keys ("shield:radius") to values.
type Record map[string]Value

// Clone returns a copy that shares nothing with r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Store loads and saves entity records.
type Store interface {
	// Load returns the record for id. Unknown ids yield an empty record.
	Load(ctx context.Context, id uuid.UUID) (Record, error)
	// Save replaces the stored record for id.
	Save(ctx context.Context, id uuid.UUID, rec Record) error
	Close() error
}
