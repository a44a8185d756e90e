package models

import "time"

// ClassStatus represents the lifecycle state of a class offering.
type ClassStatus string

const (
	ClassStatusPlanned   ClassStatus = "PLANNED"
	ClassStatusActive    ClassStatus = "ACTIVE"
	ClassStatusEnded     ClassStatus = "ENDED"
	ClassStatusCancelled ClassStatus = "CANCELLED"
)

// Valid returns true when the status is a supported value.
func (s ClassStatus) Valid() bool {
	switch s {
	case ClassStatusPlanned, ClassStatusActive, ClassStatusEnded, ClassStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition. ENDED is terminal; a CANCELLED class may be
// reactivated.
func (s ClassStatus) CanTransitionTo(next ClassStatus) bool {
	switch s {
	case ClassStatusPlanned:
		return next == ClassStatusActive
	case ClassStatusActive:
		return next == ClassStatusEnded || next == ClassStatusCancelled
	case ClassStatusCancelled:
		return next == ClassStatusActive
	case ClassStatusEnded:
		return false
	default:
		return false
	}
}

// Class represents a scheduled offering of a course with a seat cap.
// Enrolled is maintained transactionally and must satisfy
// 0 <= Enrolled <= Vagas at all times.
type Class struct {
	ID        string      `db:"id" json:"id"`
	CourseID  string      `db:"course_id" json:"course_id"`
	Name      string      `db:"name" json:"name"`
	Shift     string      `db:"shift" json:"shift"`
	StartDate *time.Time  `db:"start_date" json:"start_date,omitempty"`
	EndDate   *time.Time  `db:"end_date" json:"end_date,omitempty"`
	Vagas     int         `db:"vagas" json:"vagas"`
	Enrolled  int         `db:"enrolled" json:"enrolled"`
	Status    ClassStatus `db:"status" json:"status"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// SeatsRemaining returns the number of open seats.
func (c Class) SeatsRemaining() int {
	remaining := c.Vagas - c.Enrolled
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ClassDetail extends Class with course context.
type ClassDetail struct {
	Class
	CourseName string `db:"course_name" json:"course_name"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	CourseID  string
	Status    ClassStatus
	Shift     string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
