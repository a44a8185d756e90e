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

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByCPF(ctx context.Context, cpf, excludeID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	NextMatricula(ctx context.Context, exec sqlx.ExtContext, year int) (string, error)
}

type studentCandidateRepository interface {
	ExistsByCPF(ctx context.Context, cpf, excludeID string) (bool, error)
}

// CreateStudentRequest registers a student directly, bypassing the
// candidate funnel. An optional class enrolls the student immediately.
type CreateStudentRequest struct {
	CPF      string  `json:"cpf" validate:"required"`
	FullName string  `json:"full_name" validate:"required"`
	Email    string  `json:"email" validate:"required,email"`
	Phone    string  `json:"phone" validate:"required"`
	ClassID  *string `json:"class_id,omitempty"`
}

// UpdateStudentRequest updates contact fields only.
type UpdateStudentRequest struct {
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required"`
}

// StudentService manages student records.
type StudentService struct {
	repo        studentRepository
	candidates  studentCandidateRepository
	classes     candidateClassRepository
	enrollments candidateEnrollmentRepository
	tx          txProvider
	audit       *AuditService
	validator   *validator.Validate
	logger      *zap.Logger
	clock       func() time.Time
}

// NewStudentService constructs StudentService.
func NewStudentService(
	repo studentRepository,
	candidates studentCandidateRepository,
	classes candidateClassRepository,
	enrollments candidateEnrollmentRepository,
	tx txProvider,
	audit *AuditService,
	validate *validator.Validate,
	logger *zap.Logger,
) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{
		repo:        repo,
		candidates:  candidates,
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
func (s *StudentService) WithClock(clock func() time.Time) *StudentService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// List returns students with pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a student by ID.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Create registers a student directly. When a class is given, the seat
// reservation, matricula allocation and enrollment commit together.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest, meta models.RequestMeta) (*models.Student, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionCreate,
		Entity: "student",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		student, err := s.create(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return student, student.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Student), nil
}

func (s *StudentService) create(ctx context.Context, req CreateStudentRequest) (result *models.Student, err error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	normalized, err := cpf.Normalize(req.CPF)
	if err != nil {
		return nil, err
	}
	if exists, err := s.repo.ExistsByCPF(ctx, normalized, ""); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student identity")
	} else if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateIdentity, "identity document already used by a student")
	}
	if exists, err := s.candidates.ExistsByCPF(ctx, normalized, ""); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check candidate identity")
	} else if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateIdentity, "identity document already used by a candidate")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin student transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if req.ClassID != nil {
		class, cerr := s.classes.FindByIDForUpdate(ctx, tx, *req.ClassID)
		if cerr != nil {
			if errors.Is(cerr, sql.ErrNoRows) {
				err = appErrors.ErrClassNotFound
				return nil, err
			}
			err = appErrors.Wrap(cerr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock class")
			return nil, err
		}
		if class.Status == models.ClassStatusEnded || class.Status == models.ClassStatusCancelled {
			err = appErrors.Clone(appErrors.ErrValidation, "class is not open for enrollment")
			return nil, err
		}
		reserved, rerr := s.classes.ReserveSeat(ctx, tx, class.ID)
		if rerr != nil {
			err = appErrors.Wrap(rerr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
			return nil, err
		}
		if !reserved {
			err = appErrors.ErrNoSeatsAvailable
			return nil, err
		}
	}

	matricula, err := s.repo.NextMatricula(ctx, tx, s.clock().Year())
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate matricula")
		return nil, err
	}

	student := &models.Student{
		Matricula: matricula,
		CPF:       normalized,
		FullName:  req.FullName,
		Email:     req.Email,
		Phone:     req.Phone,
		ClassID:   req.ClassID,
	}
	if err = s.repo.Create(ctx, tx, student); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		return nil, err
	}

	if req.ClassID != nil {
		enrollment := &models.Enrollment{
			StudentID:  student.ID,
			ClassID:    *req.ClassID,
			Status:     models.EnrollmentStatusActive,
			EnrolledAt: s.clock(),
		}
		if err = s.enrollments.Create(ctx, tx, enrollment); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit student creation")
		return nil, err
	}

	s.logger.Info("student created",
		zap.String("student_id", student.ID),
		zap.String("matricula", matricula))
	return student, nil
}

// Update changes contact fields. Matricula and CPF are immutable once a
// student exists.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest, meta models.RequestMeta) (*models.Student, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionUpdate,
		Entity: "student",
		Meta:   meta,
		Before: func(ctx context.Context) (interface{}, error) { return s.repo.FindByID(ctx, id) },
	}, func(ctx context.Context) (interface{}, string, error) {
		if err := s.validator.Struct(req); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
		}
		student, err := s.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}
		student.FullName = req.FullName
		student.Email = req.Email
		student.Phone = req.Phone
		if err := s.repo.Update(ctx, student); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
		}
		return student, student.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Student), nil
}
