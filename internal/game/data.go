package game

import (
	"fmt"
	"strings"

	"bunger-shield/internal/store"
)

// Key is a namespaced data key, e.g. "shield:radius". Plugins use their own
// namespace so keys never collide.
type Key struct {
	Namespace string
	Name      string
}

// NewKey builds a key. Both parts are lower-cased.
func NewKey(namespace, name string) Key {
	return Key{
		Namespace: strings.ToLower(namespace),
		Name:      strings.ToLower(name),
	}
}

// String returns "namespace:name".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Namespace, k.Name)
}

// DataContainer is an entity's persistent typed key/value data.
// A value stored with a different type than requested reads as absent.
//
// Not safe for concurrent use; accessed from the server loop only.
type DataContainer struct {
	values store.Record
	dirty  bool
}

// NewDataContainer wraps a loaded record. A nil record starts empty.
func NewDataContainer(rec store.Record) *DataContainer {
	if rec == nil {
		rec = store.Record{}
	}
	return &DataContainer{values: rec}
}

// Has reports whether key holds a value of any type.
func (d *DataContainer) Has(key Key) bool {
	_, ok := d.values[key.String()]
	return ok
}

// Bool returns the bool at key.
func (d *DataContainer) Bool(key Key) (bool, bool) {
	v, ok := d.values[key.String()]
	if !ok || v.Type != store.TypeBool {
		return false, false
	}
	return v.Bool, true
}

// BoolOr returns the bool at key or def when absent.
func (d *DataContainer) BoolOr(key Key, def bool) bool {
	if v, ok := d.Bool(key); ok {
		return v
	}
	return def
}

// Float returns the float at key.
func (d *DataContainer) Float(key Key) (float64, bool) {
	v, ok := d.values[key.String()]
	if !ok || v.Type != store.TypeFloat {
		return 0, false
	}
	return v.Float, true
}

// FloatOr returns the float at key or def when absent.
func (d *DataContainer) FloatOr(key Key, def float64) float64 {
	if v, ok := d.Float(key); ok {
		return v
	}
	return def
}

// SetBool stores a bool.
func (d *DataContainer) SetBool(key Key, v bool) {
	d.values[key.String()] = store.BoolValue(v)
	d.dirty = true
}

// SetFloat stores a float.
func (d *DataContainer) SetFloat(key Key, v float64) {
	d.values[key.String()] = store.FloatValue(v)
	d.dirty = true
}

// Remove deletes key. Removing an absent key is a no-op.
func (d *DataContainer) Remove(key Key) {
	k := key.String()
	if _, ok := d.values[k]; !ok {
		return
	}
	delete(d.values, k)
	d.dirty = true
}

// Dirty reports whether the container changed since the last MarkClean.
func (d *DataContainer) Dirty() bool {
	return d.dirty
}

// MarkClean clears the dirty flag after a successful save.
func (d *DataContainer) MarkClean() {
	d.dirty = false
}

// Snapshot returns a copy of the record for saving.
func (d *DataContainer) Snapshot() store.Record {
	return d.values.Clone()
}
