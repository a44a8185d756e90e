package models

import "time"

// Instructor teaches one or more classes.
type Instructor struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone"`
	Specialty string    `db:"specialty" json:"specialty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ClassInstructor links a class to an instructor (N-M join).
type ClassInstructor struct {
	ID           string    `db:"id" json:"id"`
	ClassID      string    `db:"class_id" json:"class_id"`
	InstructorID string    `db:"instructor_id" json:"instructor_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// InstructorFilter defines filter criteria for listing instructors.
type InstructorFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
