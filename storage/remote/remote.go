// Package remote implements the hosted document store clients: a Redis
// backing, a Postgres backing and an always-unavailable stand-in for
// cache-only operation. Each exposes collection-scoped fetch, write and
// real-time subscription primitives behind the track.RemoteCollection
// contract.
package remote

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/track"
)

// ErrUnavailable is the non-fatal condition every caller must tolerate: the
// remote endpoint is unreachable or unconfigured and operation degrades to
// cache-only. Check with errors.Cause(err) == ErrUnavailable.
var ErrUnavailable = errors.New("remote store unavailable")

// unavailable wraps a transport failure so callers see the taxonomy error
// while logs keep the detail.
func unavailable(err error) error {
	return errors.WithMessage(ErrUnavailable, err.Error())
}

// Unavailable is the cache-only stand-in: every operation reports
// ErrUnavailable and nothing is ever delivered to subscribers.
type Unavailable struct{}

var _ track.Remote = Unavailable{}

func NewUnavailable() Unavailable { return Unavailable{} }

func (Unavailable) Collection(string) track.RemoteCollection { return unavailableCollection{} }

type unavailableCollection struct{}

func (unavailableCollection) FetchAll(context.Context) ([]json.RawMessage, error) {
	return nil, ErrUnavailable
}

func (unavailableCollection) FetchWhere(context.Context, string, string) ([]json.RawMessage, error) {
	return nil, ErrUnavailable
}

func (unavailableCollection) WriteOne(context.Context, string, interface{}) error {
	return ErrUnavailable
}

func (unavailableCollection) Subscribe(context.Context, func([]json.RawMessage, bool)) (func(), error) {
	return nil, ErrUnavailable
}

// fieldMatches applies the FetchWhere contract on a raw document: a missing
// or null field matches the empty value, so unscoped records can be selected
// with value "".
func fieldMatches(doc json.RawMessage, field, value string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return false
	}
	raw, ok := m[field]
	if !ok || string(raw) == "null" {
		return value == ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return s == value
}
