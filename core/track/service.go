package track

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
)

var ErrNotFound = errors.New("record not found")

// backfillMarkerKey guards the one-time backfill of Year/GroupID on historical
// attendance records. Checked once at startup, never reset.
const backfillMarkerKey = "attendanceGroupBackfill"

type (
	// Cache is the quota-limited local store holding one JSON-encoded
	// collection per fixed key. Set reports capacity failures as false and
	// never returns an error; Get of a missing key leaves v untouched.
	Cache interface {
		Get(key string, v interface{}) error
		Set(key string, v interface{}) bool
	}

	// RemoteCollection is one named collection of the hosted document store.
	// All methods degrade with remote.ErrUnavailable when the endpoint is
	// unreachable or unconfigured; callers fall back to cache-only operation.
	RemoteCollection interface {
		FetchAll(ctx context.Context) ([]json.RawMessage, error)
		FetchWhere(ctx context.Context, field, value string) ([]json.RawMessage, error)
		WriteOne(ctx context.Context, id string, doc interface{}) error
		// Subscribe delivers full-or-delta snapshots until the returned
		// unsubscribe func is called.
		Subscribe(ctx context.Context, fn func(docs []json.RawMessage, full bool)) (func(), error)
	}

	Remote interface {
		Collection(name string) RemoteCollection
	}

	// Service is the data access facade: the single API surface consumers use.
	// It is the sole writer of the in-memory collection state; the cache and
	// the remote client only persist and retrieve snapshots. One instance per
	// application session, injected into consumers.
	Service struct {
		cache   Cache
		remote  Remote // nil in cache-only mode
		logger  core.Logger
		timeout time.Duration

		mu          sync.RWMutex
		students    []Student
		groups      []Group
		attendance  []AttendanceRecord
		assessments []AssessmentRecord

		states *collectionStates

		subMu  sync.Mutex
		unsubs []func()
	}
)

func NewService(cache Cache, remote Remote, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		cache:   cache,
		remote:  remote,
		logger:  logger,
		timeout: conf.Remote.Timeout,
		states:  newCollectionStates(ColStudents, ColGroups, ColAttendance, ColAssessments),
	}
}

// RemoteEnabled reports whether a remote store is configured. Remote-only
// actions (explicit retry) fail fast without one; everything else degrades to
// cache-only silently.
func (svc *Service) RemoteEnabled() bool {
	return svc.remote != nil
}

// State reports where a collection is in its reconciliation cycle.
func (svc *Service) State(collection string) CollectionState {
	return svc.states.get(collection)
}

// Start hydrates in-memory state from the local cache, reconciles against the
// remote store (best-effort), runs pending migrations and subscribes to remote
// pushes. It never fails on remote unavailability.
func (svc *Service) Start(ctx context.Context) error {
	svc.loadLocal()
	svc.refresh(ctx, true /* full */)
	svc.runBackfill(false)
	svc.subscribeAll(ctx)
	return nil
}

// Stop tears down remote subscriptions. In-flight remote writes are not
// cancelled; they complete or fail silently.
func (svc *Service) Stop() {
	svc.subMu.Lock()
	defer svc.subMu.Unlock()
	for _, unsub := range svc.unsubs {
		unsub()
	}
	svc.unsubs = nil
}

// Refresh runs the default reconciliation pass: students and groups in full,
// attendance and assessments scoped to the groups' current units.
func (svc *Service) Refresh(ctx context.Context) {
	svc.refresh(ctx, false)
}

// LoadFullData forces an unfiltered full reconciliation pass, for reporting
// views that need historical data beyond the default scoped load.
func (svc *Service) LoadFullData(ctx context.Context) {
	svc.refresh(ctx, true)
}

// Students

func (svc *Service) AddStudent(ns NewStudent) (Student, error) {
	grp, err := svc.GroupByID(ns.GroupID)
	if err != nil {
		return Student{}, core.NewValidationError(err, core.FieldError{Field: "groupId", Error: "group not found"})
	}
	if grp.Year != ns.Year {
		return Student{}, core.NewValidationError(nil, core.FieldError{Field: "year", Error: "year does not match the group's year"})
	}

	now := time.Now().UTC()
	st := Student{
		ID:        uuid.New().String(),
		Name:      ns.Name,
		StudentID: ns.StudentID,
		Year:      ns.Year,
		GroupID:   ns.GroupID,
		Phone:     ns.Phone,
		Email:     ns.Email,
		CreatedAt: now,
		UpdatedAt: now,
		Sync:      Sync{Timestamp: core.NowMillis()},
	}

	svc.mu.Lock()
	svc.students = append(svc.students, st)
	svc.writeCache(ColStudents)
	svc.mu.Unlock()

	svc.writeRemote(ColStudents, st.ID, st, st.Timestamp)
	return st, nil
}

func (svc *Service) UpdateStudent(id string, su StudentUpdate) (Student, error) {
	svc.mu.Lock()
	i := indexByID(svc.students, id)
	if i < 0 {
		svc.mu.Unlock()
		return Student{}, ErrNotFound
	}
	st := &svc.students[i]
	if su.Name != "" {
		st.Name = su.Name
	}
	if su.Year != 0 {
		st.Year = su.Year
	}
	if su.GroupID != "" {
		st.GroupID = su.GroupID
	}
	if su.Phone != "" {
		st.Phone = su.Phone
	}
	if su.Email != "" {
		st.Email = su.Email
	}
	st.UpdatedAt = time.Now().UTC()
	st.Timestamp = core.NowMillis()
	st.Synced = false
	out := *st
	svc.writeCache(ColStudents)
	svc.mu.Unlock()

	svc.writeRemote(ColStudents, out.ID, out, out.Timestamp)
	return out, nil
}

// DeleteStudent writes a tombstone; the record stays in the collection so the
// deletion propagates through merges instead of being resurrected.
func (svc *Service) DeleteStudent(id string) error {
	return svc.tombstone(ColStudents, id)
}

func (svc *Service) Students() []Student {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return live(svc.students)
}

func (svc *Service) StudentByID(id string) (Student, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	if i := indexByID(svc.students, id); i >= 0 && !svc.students[i].Deleted {
		return svc.students[i], nil
	}
	return Student{}, ErrNotFound
}

func (svc *Service) StudentsByGroup(groupID string) []Student {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	out := make([]Student, 0)
	for _, st := range svc.students {
		if st.GroupID == groupID && !st.Deleted {
			out = append(out, st)
		}
	}
	return out
}

func (svc *Service) StudentsByYear(year Year) []Student {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	out := make([]Student, 0)
	for _, st := range svc.students {
		if st.Year == year && !st.Deleted {
			out = append(out, st)
		}
	}
	return out
}

// Groups

func (svc *Service) AddGroup(ng NewGroup) (Group, error) {
	unit := Unscoped()
	if ng.CurrentUnit != "" {
		if !ng.Year.HasUnits() {
			return Group{}, core.NewValidationError(nil, core.FieldError{Field: "currentUnit", Error: "year has no unit structure"})
		}
		unit = UnitScoped(ng.CurrentUnit)
	}

	now := time.Now().UTC()
	grp := Group{
		ID:          uuid.New().String(),
		Year:        ng.Year,
		CurrentUnit: unit,
		CreatedAt:   now,
		UpdatedAt:   now,
		Sync:        Sync{Timestamp: core.NowMillis()},
	}

	svc.mu.Lock()
	svc.groups = append(svc.groups, grp)
	svc.writeCache(ColGroups)
	svc.mu.Unlock()

	svc.writeRemote(ColGroups, grp.ID, grp, grp.Timestamp)
	return grp, nil
}

func (svc *Service) UpdateGroup(id string, gu GroupUpdate) (Group, error) {
	svc.mu.Lock()
	i := indexByID(svc.groups, id)
	if i < 0 {
		svc.mu.Unlock()
		return Group{}, ErrNotFound
	}
	grp := &svc.groups[i]
	if !grp.Year.HasUnits() {
		svc.mu.Unlock()
		return Group{}, core.NewValidationError(nil, core.FieldError{Field: "currentUnit", Error: "year has no unit structure"})
	}
	if gu.CurrentUnit == "" {
		grp.CurrentUnit = Unscoped()
	} else {
		grp.CurrentUnit = UnitScoped(gu.CurrentUnit)
	}
	grp.UpdatedAt = time.Now().UTC()
	grp.Timestamp = core.NowMillis()
	grp.Synced = false
	out := *grp
	svc.writeCache(ColGroups)
	svc.mu.Unlock()

	svc.writeRemote(ColGroups, out.ID, out, out.Timestamp)
	return out, nil
}

func (svc *Service) DeleteGroup(id string) error {
	return svc.tombstone(ColGroups, id)
}

func (svc *Service) Groups() []Group {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return live(svc.groups)
}

func (svc *Service) GroupByID(id string) (Group, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	if i := indexByID(svc.groups, id); i >= 0 && !svc.groups[i].Deleted {
		return svc.groups[i], nil
	}
	return Group{}, ErrNotFound
}

func (svc *Service) GroupsByYear(year Year) []Group {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	out := make([]Group, 0)
	for _, grp := range svc.groups {
		if grp.Year == year && !grp.Deleted {
			out = append(out, grp)
		}
	}
	return out
}

// Attendance

func (svc *Service) RecordAttendance(na NewAttendance) (AttendanceRecord, error) {
	st, err := svc.StudentByID(na.StudentID)
	if err != nil {
		return AttendanceRecord{}, core.NewValidationError(err, core.FieldError{Field: "studentId", Error: "student not found"})
	}
	unit, err := svc.resolveUnit(st, na.Unit)
	if err != nil {
		return AttendanceRecord{}, err
	}

	rec := AttendanceRecord{
		ID:        uuid.New().String(),
		StudentID: st.ID,
		Date:      na.Date,
		Status:    na.Status,
		TrainerID: na.TrainerID,
		Year:      st.Year,
		GroupID:   st.GroupID,
		Unit:      unit,
		Notes:     na.Notes,
		Sync:      Sync{Timestamp: core.NowMillis()},
	}

	svc.mu.Lock()
	svc.attendance = append(svc.attendance, rec)
	svc.writeCache(ColAttendance)
	svc.mu.Unlock()

	svc.writeRemote(ColAttendance, rec.ID, rec, rec.Timestamp)
	return rec, nil
}

func (svc *Service) UpdateAttendance(id string, au AttendanceUpdate) (AttendanceRecord, error) {
	svc.mu.Lock()
	i := indexByID(svc.attendance, id)
	if i < 0 {
		svc.mu.Unlock()
		return AttendanceRecord{}, ErrNotFound
	}
	rec := &svc.attendance[i]
	if au.Status != "" {
		rec.Status = au.Status
	}
	if au.Notes != nil {
		rec.Notes = *au.Notes
	}
	rec.Timestamp = core.NowMillis()
	rec.Synced = false
	out := *rec
	svc.writeCache(ColAttendance)
	svc.mu.Unlock()

	svc.writeRemote(ColAttendance, out.ID, out, out.Timestamp)
	return out, nil
}

func (svc *Service) Attendance() []AttendanceRecord {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return live(svc.attendance)
}

func (svc *Service) AttendanceByStudent(studentID string) []AttendanceRecord {
	return svc.filterAttendance(func(rec AttendanceRecord) bool { return rec.StudentID == studentID })
}

func (svc *Service) AttendanceByDate(date string) []AttendanceRecord {
	return svc.filterAttendance(func(rec AttendanceRecord) bool { return rec.Date == date })
}

func (svc *Service) AttendanceByGroup(groupID string) []AttendanceRecord {
	return svc.filterAttendance(func(rec AttendanceRecord) bool { return rec.GroupID == groupID })
}

// UnsyncedAttendance lists attendance records still awaiting remote
// acknowledgement; they stay enumerable here until a retry succeeds.
func (svc *Service) UnsyncedAttendance() []AttendanceRecord {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return unsynced(svc.attendance)
}

func (svc *Service) filterAttendance(keep func(AttendanceRecord) bool) []AttendanceRecord {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	out := make([]AttendanceRecord, 0)
	for _, rec := range svc.attendance {
		if !rec.Deleted && keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Assessments

func (svc *Service) RecordAssessment(na NewAssessment) (AssessmentRecord, error) {
	st, err := svc.StudentByID(na.StudentID)
	if err != nil {
		return AssessmentRecord{}, core.NewValidationError(err, core.FieldError{Field: "studentId", Error: "student not found"})
	}
	unit, err := svc.resolveUnit(st, na.Unit)
	if err != nil {
		return AssessmentRecord{}, err
	}

	rec := AssessmentRecord{
		ID:        uuid.New().String(),
		StudentID: st.ID,
		Date:      na.Date,
		Score:     na.Score,
		MaxScore:  na.MaxScore,
		Week:      na.Week,
		Unit:      unit,
		TrainerID: na.TrainerID,
		GroupID:   st.GroupID,
		IsExcused: na.IsExcused,
		Sync:      Sync{Timestamp: core.NowMillis()},
	}

	svc.mu.Lock()
	svc.assessments = append(svc.assessments, rec)
	svc.writeCache(ColAssessments)
	svc.mu.Unlock()

	svc.writeRemote(ColAssessments, rec.ID, rec, rec.Timestamp)
	return rec, nil
}

func (svc *Service) UpdateAssessment(id string, au AssessmentUpdate) (AssessmentRecord, error) {
	svc.mu.Lock()
	i := indexByID(svc.assessments, id)
	if i < 0 {
		svc.mu.Unlock()
		return AssessmentRecord{}, ErrNotFound
	}
	rec := &svc.assessments[i]
	if au.Score != nil {
		if *au.Score > rec.MaxScore {
			svc.mu.Unlock()
			return AssessmentRecord{}, core.NewValidationError(nil, core.FieldError{Field: "score", Error: "score exceeds maxScore"})
		}
		rec.Score = *au.Score
	}
	if au.IsExcused != nil {
		rec.IsExcused = *au.IsExcused
	}
	rec.Timestamp = core.NowMillis()
	rec.Synced = false
	out := *rec
	svc.writeCache(ColAssessments)
	svc.mu.Unlock()

	svc.writeRemote(ColAssessments, out.ID, out, out.Timestamp)
	return out, nil
}

func (svc *Service) Assessments() []AssessmentRecord {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return live(svc.assessments)
}

func (svc *Service) AssessmentsByStudent(studentID string) []AssessmentRecord {
	return svc.filterAssessments(func(rec AssessmentRecord) bool { return rec.StudentID == studentID })
}

func (svc *Service) AssessmentsByWeek(week int) []AssessmentRecord {
	return svc.filterAssessments(func(rec AssessmentRecord) bool { return rec.Week == week })
}

func (svc *Service) AssessmentsByGroup(groupID string) []AssessmentRecord {
	return svc.filterAssessments(func(rec AssessmentRecord) bool { return rec.GroupID == groupID })
}

func (svc *Service) UnsyncedAssessments() []AssessmentRecord {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	return unsynced(svc.assessments)
}

func (svc *Service) filterAssessments(keep func(AssessmentRecord) bool) []AssessmentRecord {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	out := make([]AssessmentRecord, 0)
	for _, rec := range svc.assessments {
		if !rec.Deleted && keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// RetryUnsynced synchronously re-attempts the remote write for every record
// still flagged unsynced and returns how many were acknowledged. Failures are
// logged and the records stay queued for the next attempt.
func (svc *Service) RetryUnsynced(ctx context.Context) int {
	if svc.remote == nil {
		return 0
	}

	svc.mu.RLock()
	students := unsynced(svc.students)
	groups := unsynced(svc.groups)
	attendance := unsynced(svc.attendance)
	assessments := unsynced(svc.assessments)
	svc.mu.RUnlock()

	var n int
	for _, rec := range students {
		n += svc.retryOne(ctx, ColStudents, rec.ID, rec, rec.Timestamp)
	}
	for _, rec := range groups {
		n += svc.retryOne(ctx, ColGroups, rec.ID, rec, rec.Timestamp)
	}
	for _, rec := range attendance {
		n += svc.retryOne(ctx, ColAttendance, rec.ID, rec, rec.Timestamp)
	}
	for _, rec := range assessments {
		n += svc.retryOne(ctx, ColAssessments, rec.ID, rec, rec.Timestamp)
	}
	return n
}

func (svc *Service) retryOne(ctx context.Context, col, id string, doc interface{}, ts int64) int {
	if err := svc.remote.Collection(col).WriteOne(ctx, id, doc); err != nil {
		svc.logger.Warn(fmt.Sprintf("%s: retry write %s failed: %v", col, id, err))
		return 0
	}
	svc.markSynced(col, id, ts)
	return 1
}

// Backfill forces the one-time Year/GroupID backfill on historical attendance
// records regardless of the migration marker.
func (svc *Service) Backfill() {
	svc.runBackfill(true)
}

// internals

// resolveUnit applies the unit invariant: years without unit structure are
// always unscoped; years 2/3 take the explicit unit or default to the owning
// group's current unit.
func (svc *Service) resolveUnit(st Student, input string) (UnitScope, error) {
	if !st.Year.HasUnits() {
		return Unscoped(), nil
	}
	if unit := strings.ToUpper(core.CleanString(input)); unit != "" {
		return UnitScoped(unit), nil
	}
	if grp, err := svc.GroupByID(st.GroupID); err == nil {
		if unit, ok := grp.CurrentUnit.Unit(); ok {
			return UnitScoped(unit), nil
		}
	}
	return Unscoped(), core.NewValidationError(nil,
		core.FieldError{Field: "unit", Error: "unit is required for years with unit structure"})
}

func indexByID[T Record](recs []T, id string) int {
	for i, rec := range recs {
		if rec.RecordID() == id {
			return i
		}
	}
	return -1
}

// tombstone marks a record deleted and pushes the tombstone like any write.
func (svc *Service) tombstone(col, id string) error {
	svc.mu.Lock()
	var (
		doc interface{}
		ts  int64
	)
	switch col {
	case ColStudents:
		if i := indexByID(svc.students, id); i >= 0 {
			svc.students[i].Deleted = true
			svc.students[i].Synced = false
			svc.students[i].Timestamp = core.NowMillis()
			doc, ts = svc.students[i], svc.students[i].Timestamp
		}
	case ColGroups:
		if i := indexByID(svc.groups, id); i >= 0 {
			svc.groups[i].Deleted = true
			svc.groups[i].Synced = false
			svc.groups[i].Timestamp = core.NowMillis()
			doc, ts = svc.groups[i], svc.groups[i].Timestamp
		}
	}
	if doc == nil {
		svc.mu.Unlock()
		return ErrNotFound
	}
	svc.writeCache(col)
	svc.mu.Unlock()

	svc.writeRemote(col, id, doc, ts)
	return nil
}

// writeCache persists one collection back into the local cache. Capacity
// failures are logged and swallowed; the operation continues in-memory-only.
// Callers must hold svc.mu.
func (svc *Service) writeCache(col string) {
	var ok bool
	switch col {
	case ColStudents:
		ok = svc.cache.Set(col, svc.students)
	case ColGroups:
		ok = svc.cache.Set(col, svc.groups)
	case ColAttendance:
		ok = svc.cache.Set(col, svc.attendance)
	case ColAssessments:
		ok = svc.cache.Set(col, svc.assessments)
	}
	if !ok {
		svc.logger.Warn(fmt.Sprintf("%s: local cache write skipped (capacity exceeded), continuing in memory", col))
	}
}

// writeRemote pushes one record to the remote store in the background and
// flips its synced flag on acknowledgement. The caller never blocks on it;
// in-flight writes are not cancellable and simply complete or fail silently.
func (svc *Service) writeRemote(col, id string, doc interface{}, ts int64) {
	if svc.remote == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), svc.timeout)
		defer cancel()
		if err := svc.remote.Collection(col).WriteOne(ctx, id, doc); err != nil {
			svc.logger.Warn(fmt.Sprintf("%s: remote write %s failed: %v", col, id, err))
			return
		}
		svc.markSynced(col, id, ts)
	}()
}

// markSynced acknowledges a remote write, but only if the record has not been
// rewritten since the write was issued.
func (svc *Service) markSynced(col, id string, ts int64) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	switch col {
	case ColStudents:
		if i := indexByID(svc.students, id); i >= 0 && svc.students[i].Timestamp == ts {
			svc.students[i].Synced = true
		}
	case ColGroups:
		if i := indexByID(svc.groups, id); i >= 0 && svc.groups[i].Timestamp == ts {
			svc.groups[i].Synced = true
		}
	case ColAttendance:
		if i := indexByID(svc.attendance, id); i >= 0 && svc.attendance[i].Timestamp == ts {
			svc.attendance[i].Synced = true
		}
	case ColAssessments:
		if i := indexByID(svc.assessments, id); i >= 0 && svc.assessments[i].Timestamp == ts {
			svc.assessments[i].Synced = true
		}
	}
	svc.writeCache(col)
}

// loadLocal hydrates every collection from the local cache. A missing key or
// corrupt payload reads as an empty collection, never as an error.
func (svc *Service) loadLocal() {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	_ = svc.cache.Get(ColStudents, &svc.students)
	_ = svc.cache.Get(ColGroups, &svc.groups)
	_ = svc.cache.Get(ColAttendance, &svc.attendance)
	_ = svc.cache.Get(ColAssessments, &svc.assessments)
	for _, col := range []string{ColStudents, ColGroups, ColAttendance, ColAssessments} {
		svc.states.set(col, StateLocalLoaded)
	}
}

// refresh reconciles all collections against the remote store. Unavailability
// is non-fatal: the collection keeps serving the local snapshot as ready.
func (svc *Service) refresh(ctx context.Context, full bool) {
	if svc.remote == nil {
		for _, col := range []string{ColStudents, ColGroups, ColAttendance, ColAssessments} {
			svc.states.set(col, StateReady)
		}
		return
	}

	svc.mergeCollection(ColStudents, func(docs []json.RawMessage) {
		recs := decode[Student](docs, ColStudents, svc.logger)
		svc.mu.Lock()
		svc.students = mergeByID(svc.students, recs)
		svc.writeCache(ColStudents)
		svc.mu.Unlock()
	}, func(c RemoteCollection) ([]json.RawMessage, error) {
		return c.FetchAll(ctx)
	})

	svc.mergeCollection(ColGroups, func(docs []json.RawMessage) {
		recs := decode[Group](docs, ColGroups, svc.logger)
		svc.mu.Lock()
		svc.groups = mergeByID(svc.groups, recs)
		svc.writeCache(ColGroups)
		svc.mu.Unlock()
	}, func(c RemoteCollection) ([]json.RawMessage, error) {
		return c.FetchAll(ctx)
	})

	fetchScoped := func(c RemoteCollection) ([]json.RawMessage, error) {
		if full {
			return c.FetchAll(ctx)
		}
		return svc.fetchCurrentUnits(ctx, c)
	}

	svc.mergeCollection(ColAttendance, func(docs []json.RawMessage) {
		recs := decode[AttendanceRecord](docs, ColAttendance, svc.logger)
		svc.mu.Lock()
		svc.attendance = mergeByID(svc.attendance, recs)
		svc.writeCache(ColAttendance)
		svc.mu.Unlock()
	}, fetchScoped)

	svc.mergeCollection(ColAssessments, func(docs []json.RawMessage) {
		recs := decode[AssessmentRecord](docs, ColAssessments, svc.logger)
		svc.mu.Lock()
		svc.assessments = mergeByID(svc.assessments, recs)
		svc.writeCache(ColAssessments)
		svc.mu.Unlock()
	}, fetchScoped)
}

func (svc *Service) mergeCollection(
	col string,
	apply func(docs []json.RawMessage),
	fetch func(c RemoteCollection) ([]json.RawMessage, error),
) {
	svc.states.set(col, StateMerging)
	docs, err := fetch(svc.remote.Collection(col))
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("%s: remote fetch failed, serving local snapshot: %v", col, err))
		svc.states.set(col, StateReady)
		return
	}
	apply(docs)
	svc.states.set(col, StateReady)
}

// fetchCurrentUnits performs the default scoped load: one FetchWhere per
// distinct current unit across the groups, plus the unscoped records of the
// years without unit structure.
func (svc *Service) fetchCurrentUnits(ctx context.Context, c RemoteCollection) ([]json.RawMessage, error) {
	svc.mu.RLock()
	units := make(map[string]struct{})
	for _, grp := range svc.groups {
		if unit, ok := grp.CurrentUnit.Unit(); ok && !grp.Deleted {
			units[unit] = struct{}{}
		}
	}
	svc.mu.RUnlock()

	docs, err := c.FetchWhere(ctx, "unit", "")
	if err != nil {
		return nil, err
	}
	for unit := range units {
		more, err := c.FetchWhere(ctx, "unit", unit)
		if err != nil {
			return nil, err
		}
		docs = append(docs, more...)
	}
	return docs, nil
}

// subscribeAll wires remote push updates into the reconciler. A failed
// subscription is logged and skipped; the collection still reconciles on
// Refresh.
func (svc *Service) subscribeAll(ctx context.Context) {
	if svc.remote == nil {
		return
	}
	apply := map[string]func(docs []json.RawMessage){
		ColStudents: func(docs []json.RawMessage) {
			recs := decode[Student](docs, ColStudents, svc.logger)
			svc.mu.Lock()
			svc.students = mergeByID(svc.students, recs)
			svc.writeCache(ColStudents)
			svc.mu.Unlock()
		},
		ColGroups: func(docs []json.RawMessage) {
			recs := decode[Group](docs, ColGroups, svc.logger)
			svc.mu.Lock()
			svc.groups = mergeByID(svc.groups, recs)
			svc.writeCache(ColGroups)
			svc.mu.Unlock()
		},
		ColAttendance: func(docs []json.RawMessage) {
			recs := decode[AttendanceRecord](docs, ColAttendance, svc.logger)
			svc.mu.Lock()
			svc.attendance = mergeByID(svc.attendance, recs)
			svc.writeCache(ColAttendance)
			svc.mu.Unlock()
		},
		ColAssessments: func(docs []json.RawMessage) {
			recs := decode[AssessmentRecord](docs, ColAssessments, svc.logger)
			svc.mu.Lock()
			svc.assessments = mergeByID(svc.assessments, recs)
			svc.writeCache(ColAssessments)
			svc.mu.Unlock()
		},
	}

	for col, fn := range apply {
		col, fn := col, fn
		unsub, err := svc.remote.Collection(col).Subscribe(ctx, func(docs []json.RawMessage, full bool) {
			svc.states.set(col, StateMerging)
			fn(docs)
			svc.states.set(col, StateReady)
		})
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("%s: subscribe failed: %v", col, err))
			continue
		}
		svc.subMu.Lock()
		svc.unsubs = append(svc.unsubs, unsub)
		svc.subMu.Unlock()
	}
}

// runBackfill fills Year/GroupID on attendance records written before those
// fields existed, sourcing them from the owning student.
func (svc *Service) runBackfill(force bool) {
	if !force {
		var done bool
		_ = svc.cache.Get(backfillMarkerKey, &done)
		if done {
			return
		}
	}

	svc.mu.Lock()
	byID := make(map[string]Student, len(svc.students))
	for _, st := range svc.students {
		byID[st.ID] = st
	}
	var filled int
	for i := range svc.attendance {
		rec := &svc.attendance[i]
		if rec.GroupID != "" && rec.Year != 0 {
			continue
		}
		st, ok := byID[rec.StudentID]
		if !ok {
			continue
		}
		rec.GroupID = st.GroupID
		rec.Year = st.Year
		rec.Timestamp = core.NowMillis()
		rec.Synced = false
		filled++
	}
	if filled > 0 {
		svc.writeCache(ColAttendance)
	}
	svc.mu.Unlock()

	if filled > 0 {
		svc.logger.Info(fmt.Sprintf("attendance backfill: filled year/group on %d records", filled))
	}
	if !svc.cache.Set(backfillMarkerKey, true) {
		svc.logger.Warn("attendance backfill: could not persist migration marker")
	}
}

// decode unmarshals remote documents into records, skipping malformed ones.
// A document's presence in the remote store is its acknowledgement, so every
// decoded record is marked synced before merging.
func decode[T any, P interface {
	*T
	markSynced()
}](docs []json.RawMessage, col string, logger core.Logger) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var rec T
		if err := json.Unmarshal(doc, &rec); err != nil {
			logger.Warn(fmt.Sprintf("%s: skipping malformed remote document: %v", col, err))
			continue
		}
		P(&rec).markSynced()
		out = append(out, rec)
	}
	return out
}
