package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func att(id string, ts int64, status AttendanceStatus, synced bool) AttendanceRecord {
	return AttendanceRecord{
		ID:        id,
		StudentID: "st1",
		Date:      "2026-02-10",
		Status:    status,
		Sync:      Sync{Timestamp: ts, Synced: synced},
	}
}

func TestMergeByID(t *testing.T) {
	tests := []struct {
		name   string
		local  []AttendanceRecord
		remote []AttendanceRecord
		want   []AttendanceRecord
	}{
		{
			name:   "remote newer wins",
			local:  []AttendanceRecord{att("a1", 100, StatusPresent, true)},
			remote: []AttendanceRecord{att("a1", 200, StatusAbsent, true)},
			want:   []AttendanceRecord{att("a1", 200, StatusAbsent, true)},
		},
		{
			name:   "local newer wins",
			local:  []AttendanceRecord{att("a1", 300, StatusLate, false)},
			remote: []AttendanceRecord{att("a1", 200, StatusAbsent, true)},
			want:   []AttendanceRecord{att("a1", 300, StatusLate, false)},
		},
		{
			name:   "equal timestamps favor remote",
			local:  []AttendanceRecord{att("a1", 200, StatusPresent, false)},
			remote: []AttendanceRecord{att("a1", 200, StatusAbsent, true)},
			want:   []AttendanceRecord{att("a1", 200, StatusAbsent, true)},
		},
		{
			name:   "local-only unsynced record is preserved",
			local:  []AttendanceRecord{att("a1", 100, StatusPresent, false)},
			remote: nil,
			want:   []AttendanceRecord{att("a1", 100, StatusPresent, false)},
		},
		{
			name:   "remote-only record is adopted",
			local:  nil,
			remote: []AttendanceRecord{att("a2", 100, StatusExcused, true)},
			want:   []AttendanceRecord{att("a2", 100, StatusExcused, true)},
		},
		{
			name: "disjoint ids are concatenated",
			local: []AttendanceRecord{
				att("a1", 100, StatusPresent, false),
			},
			remote: []AttendanceRecord{
				att("a2", 50, StatusAbsent, true),
			},
			want: []AttendanceRecord{
				att("a1", 100, StatusPresent, false),
				att("a2", 50, StatusAbsent, true),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeByID(tt.local, tt.remote))
		})
	}
}

func TestMergeByIDTombstone(t *testing.T) {
	dead := att("a1", 500, StatusPresent, false)
	dead.Deleted = true

	// a stale remote copy must not resurrect a newer local tombstone
	merged := mergeByID([]AttendanceRecord{dead}, []AttendanceRecord{att("a1", 200, StatusPresent, true)})
	assert.Equal(t, []AttendanceRecord{dead}, merged)
	assert.Empty(t, live(merged))
}

func TestLiveFiltersTombstones(t *testing.T) {
	dead := att("a2", 100, StatusAbsent, true)
	dead.Deleted = true
	recs := []AttendanceRecord{att("a1", 100, StatusPresent, true), dead}

	got := live(recs)
	assert.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
}

func TestUnsynced(t *testing.T) {
	recs := []AttendanceRecord{
		att("a1", 100, StatusPresent, true),
		att("a2", 100, StatusAbsent, false),
		att("a3", 100, StatusLate, false),
	}

	got := unsynced(recs)
	assert.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID)
	assert.Equal(t, "a3", got[1].ID)
}

func TestCollectionStates(t *testing.T) {
	cs := newCollectionStates(ColStudents, ColGroups)
	assert.Equal(t, StateEmpty, cs.get(ColStudents))

	cs.set(ColStudents, StateLocalLoaded)
	cs.set(ColStudents, StateMerging)
	cs.set(ColStudents, StateReady)
	assert.Equal(t, StateReady, cs.get(ColStudents))
	assert.Equal(t, StateEmpty, cs.get(ColGroups))
	assert.Equal(t, "ready", StateReady.String())
}
