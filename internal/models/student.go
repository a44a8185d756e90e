package models

import "time"

// Student represents a converted, enrolled learner. Students are created
// as the terminal artifact of candidate approval or through the staff
// direct-creation path; both allocate a matricula code.
type Student struct {
	ID        string    `db:"id" json:"id"`
	Matricula string    `db:"matricula" json:"matricula"`
	CPF       string    `db:"cpf" json:"cpf"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone"`
	ClassID   *string   `db:"class_id" json:"class_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassID   string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StudentDetail contains student information with enrollment context.
type StudentDetail struct {
	Student
	CurrentClassName *string `db:"current_class_name" json:"current_class_name,omitempty"`
	EnrollmentStatus *string `db:"enrollment_status" json:"enrollment_status,omitempty"`
}
