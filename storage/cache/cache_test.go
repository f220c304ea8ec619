package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string `json:"id"`
	Notes string `json:"notes"`
}

type testLogger struct{}

func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Fatal(string, ...interface{}) {}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory(1<<20, testLogger{})

	want := []record{{ID: "a1", Notes: "first"}, {ID: "a2"}}
	require.True(t, m.Set("attendance", want))

	var got []record
	require.NoError(t, m.Get("attendance", &got))
	assert.Equal(t, want, got)
}

func TestMemoryMissingKeyReadsEmpty(t *testing.T) {
	m := NewMemory(1<<20, testLogger{})

	got := []record{}
	require.NoError(t, m.Get("students", &got))
	assert.Empty(t, got)
}

func TestMemoryCorruptPayloadReadsEmpty(t *testing.T) {
	m := NewMemory(1<<20, testLogger{})
	m.data["students"] = []byte(`[{"id":"a1"},{"id":`)

	var got []record
	require.NoError(t, m.Get("students", &got))
	assert.Empty(t, got, "a corrupt payload must not surface a partial fill")
}

func TestMemoryCapacityKeepsPreviousValue(t *testing.T) {
	// a store an eighth of the size of the oversized write, mirroring a 5MB
	// quota refusing an 8MB payload
	m := NewMemory(64, testLogger{})

	small := []record{{ID: "a1"}}
	require.True(t, m.Set("assessments", small))

	big := []record{{ID: "a2", Notes: strings.Repeat("x", 512)}}
	assert.False(t, m.Set("assessments", big))

	var got []record
	require.NoError(t, m.Get("assessments", &got))
	assert.Equal(t, small, got, "a failed write must leave the previous value")
}

func TestMemoryOverwriteCreditsQuota(t *testing.T) {
	m := NewMemory(64, testLogger{})

	require.True(t, m.Set("groups", []record{{ID: "g1", Notes: "take most of the room"}}))
	// same key, similar size: the old value's space must be credited back
	require.True(t, m.Set("groups", []record{{ID: "g2", Notes: "take most of the spot"}}))
	// a second key cannot claim space the first already holds
	assert.False(t, m.Set("students", []record{{ID: "s1", Notes: "does not fit anymore"}}))
}

func TestBadgerRoundTrip(t *testing.T) {
	dir := t.TempDir()

	b, err := NewBadger(dir, 1<<20, testLogger{})
	require.NoError(t, err)

	want := []record{{ID: "a1", Notes: "persisted"}}
	require.True(t, b.Set("attendance", want))

	var got []record
	require.NoError(t, b.Get("attendance", &got))
	assert.Equal(t, want, got)
	require.NoError(t, b.Close())

	// the quota is seeded from disk on reopen
	b, err = NewBadger(dir, 1<<20, testLogger{})
	require.NoError(t, err)
	defer b.Close()

	got = nil
	require.NoError(t, b.Get("attendance", &got))
	assert.Equal(t, want, got)
	assert.Equal(t, b.quota.total, b.quota.sizes["attendance"])
}

func TestBadgerCapacityKeepsPreviousValue(t *testing.T) {
	b, err := NewBadger(t.TempDir(), 64, testLogger{})
	require.NoError(t, err)
	defer b.Close()

	small := []record{{ID: "a1"}}
	require.True(t, b.Set("assessments", small))
	assert.False(t, b.Set("assessments", []record{{ID: "a2", Notes: strings.Repeat("x", 512)}}))

	var got []record
	require.NoError(t, b.Get("assessments", &got))
	assert.Equal(t, small, got)
}
