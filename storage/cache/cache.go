// Package cache implements the quota-limited local cache: one JSON-encoded
// document per fixed key, capped at a configurable number of bytes.
//
// The contract favors availability over strict fidelity: writes over capacity
// report false and leave the previous value untouched, reads of missing keys
// yield the empty collection, and a corrupt payload reads as empty instead of
// failing the caller.
package cache

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
)

// Store is the local cache contract. Set never panics or errors into the
// caller; capacity failures come back as false so the caller can log and
// continue operating purely in memory.
type Store interface {
	Get(key string, v interface{}) error
	Set(key string, v interface{}) bool
}

// quota does the byte accounting shared by the store implementations.
// It tracks the serialized size per key so overwrites credit the space the
// old value releases.
type quota struct {
	max   int64
	total int64
	sizes map[string]int64
}

func newQuota(max int64) *quota {
	return &quota{max: max, sizes: make(map[string]int64)}
}

// admit reports whether a value of size n may be stored under key, and
// reserves the space if so.
func (q *quota) admit(key string, n int64) bool {
	if q.max > 0 && q.total-q.sizes[key]+n > q.max {
		return false
	}
	q.total += n - q.sizes[key]
	q.sizes[key] = n
	return true
}

// seed records the size of a value already present in the backing store.
func (q *quota) seed(key string, n int64) {
	q.total += n - q.sizes[key]
	q.sizes[key] = n
}

func capacityMsg(key string, n, max int64) string {
	return fmt.Sprintf("cache: write of %d bytes under %q exceeds the %d byte quota, keeping previous value", n, key, max)
}

func marshal(key string, v interface{}, logger core.Logger) ([]byte, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error(fmt.Sprintf("cache: serializing %q: %v", key, err))
		return nil, false
	}
	return data, true
}

// unmarshal treats a corrupt payload as an empty collection: v is left
// untouched and no error reaches the caller.
func unmarshal(key string, data []byte, v interface{}, logger core.Logger) {
	if len(data) == 0 {
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Warn(fmt.Sprintf("cache: corrupt payload under %q, treating as empty: %v", key, err))
		// Unmarshal may leave a partial fill behind; reset to the zero value.
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr && rv.Elem().CanSet() {
			rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
		}
	}
}
