package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/cursolab/gestao-api/internal/models"
	appErrors "github.com/cursolab/gestao-api/pkg/errors"
)

type instructorRepository interface {
	List(ctx context.Context, filter models.InstructorFilter) ([]models.Instructor, int, error)
	FindByID(ctx context.Context, id string) (*models.Instructor, error)
	Create(ctx context.Context, instructor *models.Instructor) error
	Update(ctx context.Context, instructor *models.Instructor) error
	AssignToClass(ctx context.Context, classID, instructorID string) error
	UnassignFromClass(ctx context.Context, classID, instructorID string) error
	ListByClass(ctx context.Context, classID string) ([]models.Instructor, error)
}

// InstructorRequest creates or updates an instructor.
type InstructorRequest struct {
	FullName  string `json:"full_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required"`
	Specialty string `json:"specialty"`
	Active    *bool  `json:"active,omitempty"`
}

// InstructorService manages instructors and their class assignments.
type InstructorService struct {
	repo      instructorRepository
	classes   classRepository
	audit     *AuditService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewInstructorService(repo instructorRepository, classes classRepository, audit *AuditService, validate *validator.Validate, logger *zap.Logger) *InstructorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstructorService{repo: repo, classes: classes, audit: audit, validator: validate, logger: logger}
}

func (s *InstructorService) List(ctx context.Context, filter models.InstructorFilter) ([]models.Instructor, *models.Pagination, error) {
	instructors, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list instructors")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return instructors, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *InstructorService) Get(ctx context.Context, id string) (*models.Instructor, error) {
	instructor, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	return instructor, nil
}

func (s *InstructorService) Create(ctx context.Context, req InstructorRequest, meta models.RequestMeta) (*models.Instructor, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionCreate,
		Entity: "instructor",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		if err := s.validator.Struct(req); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid instructor payload")
		}
		instructor := &models.Instructor{
			FullName:  req.FullName,
			Email:     req.Email,
			Phone:     req.Phone,
			Specialty: req.Specialty,
			Active:    true,
		}
		if req.Active != nil {
			instructor.Active = *req.Active
		}
		if err := s.repo.Create(ctx, instructor); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create instructor")
		}
		return instructor, instructor.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Instructor), nil
}

func (s *InstructorService) Update(ctx context.Context, id string, req InstructorRequest, meta models.RequestMeta) (*models.Instructor, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionUpdate,
		Entity: "instructor",
		Meta:   meta,
		Before: func(ctx context.Context) (interface{}, error) { return s.repo.FindByID(ctx, id) },
	}, func(ctx context.Context) (interface{}, string, error) {
		if err := s.validator.Struct(req); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid instructor payload")
		}
		instructor, err := s.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}
		instructor.FullName = req.FullName
		instructor.Email = req.Email
		instructor.Phone = req.Phone
		instructor.Specialty = req.Specialty
		if req.Active != nil {
			instructor.Active = *req.Active
		}
		if err := s.repo.Update(ctx, instructor); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update instructor")
		}
		return instructor, instructor.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Instructor), nil
}

// Assign links an instructor to a class. Assigning twice is a no-op.
func (s *InstructorService) Assign(ctx context.Context, classID, instructorID string, meta models.RequestMeta) error {
	_, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionUpdate,
		Entity: "class_instructor",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		if _, err := s.classes.FindByID(ctx, classID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, "", appErrors.ErrClassNotFound
			}
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
		}
		if _, err := s.Get(ctx, instructorID); err != nil {
			return nil, "", err
		}
		if err := s.repo.AssignToClass(ctx, classID, instructorID); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign instructor")
		}
		return struct{}{}, classID, nil
	})
	return err
}

// Unassign removes an instructor from a class.
func (s *InstructorService) Unassign(ctx context.Context, classID, instructorID string, meta models.RequestMeta) error {
	_, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionDelete,
		Entity: "class_instructor",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		if err := s.repo.UnassignFromClass(ctx, classID, instructorID); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unassign instructor")
		}
		return struct{}{}, classID, nil
	})
	return err
}

// ListByClass returns the instructors assigned to a class.
func (s *InstructorService) ListByClass(ctx context.Context, classID string) ([]models.Instructor, error) {
	if _, err := s.classes.FindByID(ctx, classID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	instructors, err := s.repo.ListByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class instructors")
	}
	return instructors, nil
}
