package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/cursolab/gestao-api/internal/models"
	"github.com/cursolab/gestao-api/pkg/cpf"
	appErrors "github.com/cursolab/gestao-api/pkg/errors"
)

type candidateRepository interface {
	List(ctx context.Context, filter models.CandidateFilter) ([]models.CandidateDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Candidate, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Candidate, error)
	ExistsByCPF(ctx context.Context, cpf, excludeID string) (bool, error)
	Create(ctx context.Context, candidate *models.Candidate) error
	UpdateContact(ctx context.Context, candidate *models.Candidate) error
	MarkApproved(ctx context.Context, exec sqlx.ExtContext, id, studentID string) error
	MarkRejected(ctx context.Context, id, reason string) error
	Delete(ctx context.Context, id string) error
}

type candidateStudentRepository interface {
	ExistsByCPF(ctx context.Context, cpf, excludeID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	NextMatricula(ctx context.Context, exec sqlx.ExtContext, year int) (string, error)
}

type candidateClassRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Class, error)
	ReserveSeat(ctx context.Context, exec sqlx.ExtContext, classID string) (bool, error)
}

type candidateEnrollmentRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// CreateCandidateRequest describes a candidate submission.
type CreateCandidateRequest struct {
	CPF      string  `json:"cpf" validate:"required"`
	FullName string  `json:"full_name" validate:"required"`
	Email    string  `json:"email" validate:"required,email"`
	Phone    string  `json:"phone" validate:"required"`
	ClassID  *string `json:"class_id,omitempty"`
}

// UpdateCandidateRequest updates contact fields only.
type UpdateCandidateRequest struct {
	FullName string  `json:"full_name" validate:"required"`
	Email    string  `json:"email" validate:"required,email"`
	Phone    string  `json:"phone" validate:"required"`
	ClassID  *string `json:"class_id,omitempty"`
}

// RejectCandidateRequest carries the rejection reason kept for audit.
type RejectCandidateRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ApprovalResult is the outcome of a successful candidate approval.
type ApprovalResult struct {
	Candidate  *models.Candidate  `json:"candidate"`
	Student    *models.Student    `json:"student"`
	Enrollment *models.Enrollment `json:"enrollment"`
}

// CandidateService owns the candidate lifecycle, including the
// candidate-to-student conversion.
type CandidateService struct {
	repo        candidateRepository
	students    candidateStudentRepository
	classes     candidateClassRepository
	enrollments candidateEnrollmentRepository
	tx          txProvider
	audit       *AuditService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	clock       func() time.Time
}

// NewCandidateService constructs CandidateService.
func NewCandidateService(
	repo candidateRepository,
	students candidateStudentRepository,
	classes candidateClassRepository,
	enrollments candidateEnrollmentRepository,
	tx txProvider,
	audit *AuditService,
	validate *validator.Validate,
	logger *zap.Logger,
) *CandidateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CandidateService{
		repo:        repo,
		students:    students,
		classes:     classes,
		enrollments: enrollments,
		tx:          tx,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, used by tests.
func (s *CandidateService) WithClock(clock func() time.Time) *CandidateService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// WithMetrics enables seat rejection instrumentation.
func (s *CandidateService) WithMetrics(m *MetricsService) *CandidateService {
	s.metrics = m
	return s
}

// List returns candidates with pagination metadata.
func (s *CandidateService) List(ctx context.Context, filter models.CandidateFilter) ([]models.CandidateDetail, *models.Pagination, error) {
	candidates, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list candidates")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return candidates, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a candidate by ID.
func (s *CandidateService) Get(ctx context.Context, id string) (*models.Candidate, error) {
	candidate, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrCandidateNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidate")
	}
	return candidate, nil
}

// Create registers a new PENDENTE candidate after identity validation
// and cross-table uniqueness checks.
func (s *CandidateService) Create(ctx context.Context, req CreateCandidateRequest, meta models.RequestMeta) (*models.Candidate, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionCreate,
		Entity: "candidate",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		candidate, err := s.create(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return candidate, candidate.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Candidate), nil
}

func (s *CandidateService) create(ctx context.Context, req CreateCandidateRequest) (*models.Candidate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid candidate payload")
	}
	normalized, err := cpf.Normalize(req.CPF)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUniqueCPF(ctx, normalized); err != nil {
		return nil, err
	}
	if req.ClassID != nil {
		if _, err := s.classes.FindByID(ctx, *req.ClassID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.ErrClassNotFound
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
		}
	}

	candidate := &models.Candidate{
		CPF:      normalized,
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		ClassID:  req.ClassID,
		Status:   models.CandidateStatusPending,
	}
	if err := s.repo.Create(ctx, candidate); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create candidate")
	}
	return candidate, nil
}

// Update changes contact fields. Status never changes through here, and
// approved candidates only accept contact corrections.
func (s *CandidateService) Update(ctx context.Context, id string, req UpdateCandidateRequest, meta models.RequestMeta) (*models.Candidate, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionUpdate,
		Entity: "candidate",
		Meta:   meta,
		Before: func(ctx context.Context) (interface{}, error) { return s.repo.FindByID(ctx, id) },
	}, func(ctx context.Context) (interface{}, string, error) {
		candidate, err := s.update(ctx, id, req)
		if err != nil {
			return nil, "", err
		}
		return candidate, candidate.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Candidate), nil
}

func (s *CandidateService) update(ctx context.Context, id string, req UpdateCandidateRequest) (*models.Candidate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid candidate payload")
	}
	candidate, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	candidate.FullName = req.FullName
	candidate.Email = req.Email
	candidate.Phone = req.Phone
	if candidate.Status != models.CandidateStatusApproved {
		// the desired class is frozen once conversion happened
		if req.ClassID != nil {
			if _, err := s.classes.FindByID(ctx, *req.ClassID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, appErrors.ErrClassNotFound
				}
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
			}
		}
		candidate.ClassID = req.ClassID
	}
	if err := s.repo.UpdateContact(ctx, candidate); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update candidate")
	}
	return candidate, nil
}

// Approve converts a candidate into a student. Seat reservation,
// matricula allocation, student and enrollment creation and the status
// flip all commit or roll back as one transaction.
func (s *CandidateService) Approve(ctx context.Context, id string, meta models.RequestMeta) (*ApprovalResult, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionApprove,
		Entity: "candidate",
		Meta:   meta,
		Before: func(ctx context.Context) (interface{}, error) { return s.repo.FindByID(ctx, id) },
	}, func(ctx context.Context) (interface{}, string, error) {
		approval, err := s.approve(ctx, id)
		if err != nil {
			return nil, "", err
		}
		return approval, id, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*ApprovalResult), nil
}

func (s *CandidateService) approve(ctx context.Context, id string) (result *ApprovalResult, err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin approval transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	candidate, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.ErrCandidateNotFound
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock candidate")
		return nil, err
	}
	if candidate.Status == models.CandidateStatusApproved {
		// re-approving would double-consume a seat, so it is rejected
		// rather than treated as a no-op
		err = appErrors.ErrAlreadyApproved
		return nil, err
	}
	if candidate.ClassID == nil {
		err = appErrors.Clone(appErrors.ErrValidation, "candidate has no desired class")
		return nil, err
	}

	class, err := s.classes.FindByIDForUpdate(ctx, tx, *candidate.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.ErrClassNotFound
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock class")
		return nil, err
	}
	if class.Status == models.ClassStatusEnded || class.Status == models.ClassStatusCancelled {
		err = appErrors.Clone(appErrors.ErrValidation, "class is not open for enrollment")
		return nil, err
	}

	reserved, err := s.classes.ReserveSeat(ctx, tx, class.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.ErrClassNotFound
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
		return nil, err
	}
	if !reserved {
		if s.metrics != nil {
			s.metrics.SeatRejection()
		}
		err = appErrors.ErrNoSeatsAvailable
		return nil, err
	}

	matricula, err := s.students.NextMatricula(ctx, tx, s.clock().Year())
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate matricula")
		return nil, err
	}

	student := &models.Student{
		Matricula: matricula,
		CPF:       candidate.CPF,
		FullName:  candidate.FullName,
		Email:     candidate.Email,
		Phone:     candidate.Phone,
		ClassID:   candidate.ClassID,
	}
	if err = s.students.Create(ctx, tx, student); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		return nil, err
	}

	enrollment := &models.Enrollment{
		StudentID:  student.ID,
		ClassID:    class.ID,
		Status:     models.EnrollmentStatusActive,
		EnrolledAt: s.clock(),
	}
	if err = s.enrollments.Create(ctx, tx, enrollment); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
		return nil, err
	}

	if err = s.repo.MarkApproved(ctx, tx, candidate.ID, student.ID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark candidate approved")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit approval")
		return nil, err
	}

	candidate.Status = models.CandidateStatusApproved
	candidate.StudentID = &student.ID
	s.logger.Info("candidate approved",
		zap.String("candidate_id", candidate.ID),
		zap.String("student_id", student.ID),
		zap.String("matricula", matricula),
		zap.String("class_id", class.ID))
	return &ApprovalResult{Candidate: candidate, Student: student, Enrollment: enrollment}, nil
}

// Reject marks a candidate REPROVADO storing the reason. Re-rejecting an
// already rejected candidate is allowed; rejecting an approved one is not.
func (s *CandidateService) Reject(ctx context.Context, id string, req RejectCandidateRequest, meta models.RequestMeta) (*models.Candidate, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionReject,
		Entity: "candidate",
		Meta:   meta,
		Before: func(ctx context.Context) (interface{}, error) { return s.repo.FindByID(ctx, id) },
	}, func(ctx context.Context) (interface{}, string, error) {
		candidate, err := s.reject(ctx, id, req)
		if err != nil {
			return nil, "", err
		}
		return candidate, candidate.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Candidate), nil
}

func (s *CandidateService) reject(ctx context.Context, id string, req RejectCandidateRequest) (*models.Candidate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}
	candidate, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if candidate.Status == models.CandidateStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrAlreadyApproved, "approved candidates cannot be rejected")
	}
	if err := s.repo.MarkRejected(ctx, id, req.Reason); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject candidate")
	}
	candidate.Status = models.CandidateStatusRejected
	candidate.RejectReason = &req.Reason
	return candidate, nil
}

// Delete removes a candidate unless it was approved, which would orphan
// the converted student.
func (s *CandidateService) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	_, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionDelete,
		Entity: "candidate",
		Meta:   meta,
		Before: func(ctx context.Context) (interface{}, error) { return s.repo.FindByID(ctx, id) },
	}, func(ctx context.Context) (interface{}, string, error) {
		candidate, err := s.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if candidate.Status == models.CandidateStatusApproved {
			return nil, "", appErrors.ErrCannotDeleteApproved
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete candidate")
		}
		return struct{}{}, id, nil
	})
	return err
}

func (s *CandidateService) ensureUniqueCPF(ctx context.Context, normalized string) error {
	if exists, err := s.repo.ExistsByCPF(ctx, normalized, ""); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check candidate identity")
	} else if exists {
		return appErrors.Clone(appErrors.ErrDuplicateIdentity, "identity document already used by a candidate")
	}
	if exists, err := s.students.ExistsByCPF(ctx, normalized, ""); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student identity")
	} else if exists {
		return appErrors.Clone(appErrors.ErrDuplicateIdentity, "identity document already used by a student")
	}
	return nil
}
