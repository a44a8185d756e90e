package models

import "time"

// AttendanceStatus represents the recorded status for a session.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
	AttendanceStatusExcused AttendanceStatus = "EXCUSED"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// ReportStatusNotRecorded marks students with no attendance row for the
// reported date. It never appears in storage, only in report output.
const ReportStatusNotRecorded = "NOT_RECORDED"

// Attendance is a (student, class, date) record. The triple is unique;
// re-recording overwrites the status.
type Attendance struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	ClassID   string           `db:"class_id" json:"class_id"`
	Date      time.Time        `db:"date" json:"date"`
	Status    AttendanceStatus `db:"status" json:"status"`
	Notes     *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceEntry is one roster line in a batch recording call.
type AttendanceEntry struct {
	StudentID string           `json:"student_id" validate:"required"`
	Status    AttendanceStatus `json:"status" validate:"required"`
	Notes     *string          `json:"notes,omitempty"`
}

// AttendanceReportRow reports one active enrollment for a class/date.
// Status is an AttendanceStatus or ReportStatusNotRecorded.
type AttendanceReportRow struct {
	StudentID        string  `db:"student_id" json:"student_id"`
	StudentName      string  `db:"student_name" json:"student_name"`
	StudentMatricula string  `db:"student_matricula" json:"student_matricula"`
	Status           string  `db:"status" json:"status"`
	Notes            *string `db:"notes" json:"notes,omitempty"`
}

// AttendanceStats aggregates a student's attendance within a class.
type AttendanceStats struct {
	Present int     `db:"present" json:"present"`
	Absent  int     `db:"absent" json:"absent"`
	Excused int     `db:"excused" json:"excused"`
	Total   int     `db:"total" json:"total"`
	Percent float64 `json:"percent"`
}

// AttendanceFilter scopes listing queries.
type AttendanceFilter struct {
	ClassID   string
	StudentID string
	Status    *AttendanceStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
