package track

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
)

// Collection keys, shared by the local cache and the remote store.
const (
	ColStudents    = "students"
	ColGroups      = "groups"
	ColAttendance  = "attendance"
	ColAssessments = "assessments"
)

// Year is a study year, 1 through 6.
type Year int

// HasUnits reports whether the year's curriculum is segmented into units.
// Only years 2 and 3 carry unit-scoped attendance and assessments.
func (y Year) HasUnits() bool {
	return y == 2 || y == 3
}

// UnitScope is the explicit two-case variant replacing "absent unit means
// not unit-scoped": a record is either Unscoped or UnitScoped(unit).
type UnitScope struct {
	unit   string
	scoped bool
}

func Unscoped() UnitScope {
	return UnitScope{}
}

func UnitScoped(unit string) UnitScope {
	return UnitScope{unit: unit, scoped: true}
}

func (s UnitScope) IsScoped() bool {
	return s.scoped
}

// Unit returns the curriculum unit tag (e.g. "MSK", "GIT") and whether the
// scope carries one.
func (s UnitScope) Unit() (string, bool) {
	return s.unit, s.scoped
}

func (s UnitScope) String() string {
	if !s.scoped {
		return ""
	}
	return s.unit
}

var jsonNull = []byte("null")

// MarshalJSON encodes an unscoped value as null so the wire format stays
// compatible with documents written before the variant was introduced.
func (s UnitScope) MarshalJSON() ([]byte, error) {
	if !s.scoped {
		return jsonNull, nil
	}
	return json.Marshal(s.unit)
}

func (s *UnitScope) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, jsonNull) {
		*s = Unscoped()
		return nil
	}
	var unit string
	if err := json.Unmarshal(data, &unit); err != nil {
		return err
	}
	if unit == "" {
		*s = Unscoped()
	} else {
		*s = UnitScoped(unit)
	}
	return nil
}

// Sync is the reconciliation bookkeeping embedded in every tracked record.
// Timestamp (Unix ms) drives last-write-wins merging; Synced flips true only
// once the remote store has acknowledged the write; Deleted marks a tombstone
// so deletions survive the merge instead of being resurrected.
type Sync struct {
	Timestamp int64 `json:"timestamp"`
	Synced    bool  `json:"synced"`
	Deleted   bool  `json:"deleted,omitempty"`
}

func (s Sync) LastWrite() int64 { return s.Timestamp }
func (s Sync) IsSynced() bool   { return s.Synced }
func (s Sync) IsDeleted() bool  { return s.Deleted }

// markSynced is used when adopting documents fetched from the remote store:
// their presence there is the acknowledgement.
func (s *Sync) markSynced() { s.Synced = true }

// Record is what the reconciler needs from every collection entry.
type Record interface {
	RecordID() string
	LastWrite() int64
	IsSynced() bool
	IsDeleted() bool
}

type Student struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StudentID string    `json:"studentId"` // external/university id
	Year      Year      `json:"year"`
	GroupID   string    `json:"groupId"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"` // UTC
	UpdatedAt time.Time `json:"updatedAt"` // UTC
	Sync
}

func (s Student) RecordID() string { return s.ID }

type Group struct {
	ID          string    `json:"id"`
	Year        Year      `json:"year"`
	CurrentUnit UnitScope `json:"currentUnit"` // only meaningful for years 2/3
	CreatedAt   time.Time `json:"createdAt"`   // UTC
	UpdatedAt   time.Time `json:"updatedAt"`   // UTC
	Sync
}

func (g Group) RecordID() string { return g.ID }

// AttendanceStatus enumerates the recordable attendance states.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusLate    AttendanceStatus = "late"
	StatusExcused AttendanceStatus = "excused"
)

type AttendanceRecord struct {
	ID        string           `json:"id"`
	StudentID string           `json:"studentId"`
	Date      string           `json:"date"` // ISO YYYY-MM-DD
	Status    AttendanceStatus `json:"status"`
	TrainerID string           `json:"trainerId"`
	Year      Year             `json:"year"`
	GroupID   string           `json:"groupId"`
	Unit      UnitScope        `json:"unit"`
	Notes     string           `json:"notes,omitempty"`
	Sync
}

func (a AttendanceRecord) RecordID() string { return a.ID }

type AssessmentRecord struct {
	ID        string    `json:"id"`
	StudentID string    `json:"studentId"`
	Date      string    `json:"date"` // ISO YYYY-MM-DD
	Score     float64   `json:"score"`
	MaxScore  float64   `json:"maxScore"`
	Week      int       `json:"week"`
	Unit      UnitScope `json:"unit"`
	TrainerID string    `json:"trainerId"`
	GroupID   string    `json:"groupId"`
	IsExcused bool      `json:"isExcused"`
	Sync
}

func (a AssessmentRecord) RecordID() string { return a.ID }

// Inputs

// NewStudent contains information needed to register a new Student.
type NewStudent struct {
	Name      string `json:"name" validate:"required"`
	StudentID string `json:"studentId" validate:"required,alphanum_"`
	Year      Year   `json:"year" validate:"required,min=1,max=6"`
	GroupID   string `json:"groupId" validate:"required"`
	Phone     string `json:"phone"`
	Email     string `json:"email" validate:"omitempty,email"`
}

func (ns *NewStudent) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.StudentID = core.CleanString(ns.StudentID)
	return validate.Struct(ns)
}

// StudentUpdate defines what may be modified on an existing Student.
// Zero values leave the original field untouched.
type StudentUpdate struct {
	Name    string `json:"name"`
	Year    Year   `json:"year" validate:"omitempty,min=1,max=6"`
	GroupID string `json:"groupId"`
	Phone   string `json:"phone"`
	Email   string `json:"email" validate:"omitempty,email"`
}

func (su *StudentUpdate) Validate(validate *validator.Validate) error {
	su.Name = core.CleanString(su.Name)
	return validate.Struct(su)
}

// NewGroup contains information needed to create a new Group.
type NewGroup struct {
	Year        Year   `json:"year" validate:"required,min=1,max=6"`
	CurrentUnit string `json:"currentUnit"`
}

func (ng *NewGroup) Validate(validate *validator.Validate) error {
	ng.CurrentUnit = strings.ToUpper(core.CleanString(ng.CurrentUnit))
	return validate.Struct(ng)
}

// GroupUpdate rotates a group's current curriculum unit.
type GroupUpdate struct {
	CurrentUnit string `json:"currentUnit"`
}

func (gu *GroupUpdate) Validate(validate *validator.Validate) error {
	gu.CurrentUnit = strings.ToUpper(core.CleanString(gu.CurrentUnit))
	return validate.Struct(gu)
}

// NewAttendance contains information needed to record attendance.
type NewAttendance struct {
	StudentID string           `json:"studentId" validate:"required"`
	Date      string           `json:"date" validate:"required,isodate"`
	Status    AttendanceStatus `json:"status" validate:"required,oneof=present absent late excused"`
	TrainerID string           `json:"trainerId" validate:"required"`
	Unit      string           `json:"unit"`
	Notes     string           `json:"notes"`
}

func (na *NewAttendance) Validate(validate *validator.Validate) error {
	na.Notes = core.CleanString(na.Notes)
	return validate.Struct(na)
}

// NewAssessment contains information needed to record a weekly assessment.
type NewAssessment struct {
	StudentID string  `json:"studentId" validate:"required"`
	Date      string  `json:"date" validate:"required,isodate"`
	Score     float64 `json:"score" validate:"min=0"`
	MaxScore  float64 `json:"maxScore" validate:"required,gt=0,gtefield=Score"`
	Week      int     `json:"week" validate:"required,min=1"`
	Unit      string  `json:"unit"`
	TrainerID string  `json:"trainerId" validate:"required"`
	IsExcused bool    `json:"isExcused"`
}

func (na *NewAssessment) Validate(validate *validator.Validate) error {
	return validate.Struct(na)
}

// AttendanceUpdate is a controlled update of an existing attendance record;
// applying one re-flips the record's synced flag pending re-sync.
type AttendanceUpdate struct {
	Status AttendanceStatus `json:"status" validate:"omitempty,oneof=present absent late excused"`
	Notes  *string          `json:"notes"`
}

func (au *AttendanceUpdate) Validate(validate *validator.Validate) error {
	return validate.Struct(au)
}

// AssessmentUpdate is a controlled update of an existing assessment record.
type AssessmentUpdate struct {
	Score     *float64 `json:"score" validate:"omitempty,min=0"`
	IsExcused *bool    `json:"isExcused"`
}

func (au *AssessmentUpdate) Validate(validate *validator.Validate) error {
	return validate.Struct(au)
}
