package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// Enrollment is the active link between a student and a class. At most
// one ACTIVE enrollment exists per (student, class) pair.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	ClassID     string           `db:"class_id" json:"class_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt  time.Time        `db:"enrolled_at" json:"enrolled_at"`
	CancelledAt *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and class info.
type EnrollmentDetail struct {
	Enrollment
	StudentName      string `db:"student_name" json:"student_name"`
	StudentMatricula string `db:"student_matricula" json:"student_matricula"`
	StudentEmail     string `db:"student_email" json:"student_email"`
	ClassName        string `db:"class_name" json:"class_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	ClassID   string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
