package models

import "time"

// CandidateStatus represents the lifecycle of a public applicant. The
// stored vocabulary matches the legacy database and must not change.
type CandidateStatus string

const (
	CandidateStatusPending  CandidateStatus = "PENDENTE"
	CandidateStatusApproved CandidateStatus = "APROVADO"
	CandidateStatusRejected CandidateStatus = "REPROVADO"
)

// Valid returns true when the status is a supported value.
func (s CandidateStatus) Valid() bool {
	switch s {
	case CandidateStatusPending, CandidateStatusApproved, CandidateStatusRejected:
		return true
	default:
		return false
	}
}

// Candidate is a public applicant not yet enrolled. Once approved it is
// linked to the student it was converted into and becomes immutable
// except for contact fields.
type Candidate struct {
	ID           string          `db:"id" json:"id"`
	CPF          string          `db:"cpf" json:"cpf"`
	FullName     string          `db:"full_name" json:"full_name"`
	Email        string          `db:"email" json:"email"`
	Phone        string          `db:"phone" json:"phone"`
	ClassID      *string         `db:"class_id" json:"class_id,omitempty"`
	Status       CandidateStatus `db:"status" json:"status"`
	RejectReason *string         `db:"reject_reason" json:"reject_reason,omitempty"`
	StudentID    *string         `db:"student_id" json:"student_id,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// CandidateFilter provides filters for listing candidates.
type CandidateFilter struct {
	Status    CandidateStatus
	ClassID   string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// CandidateDetail enriches Candidate with the desired class name.
type CandidateDetail struct {
	Candidate
	ClassName *string `db:"class_name" json:"class_name,omitempty"`
}
