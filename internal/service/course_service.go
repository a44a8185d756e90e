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

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ExistsByName(ctx context.Context, name, excludeID string) (bool, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
}

// CourseRequest creates or updates a course.
type CourseRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	WorkloadHrs int    `json:"workload_hours" validate:"required,min=1"`
}

// CourseService manages the course catalog.
type CourseService struct {
	repo      courseRepository
	audit     *AuditService
	validator *validator.Validate
	logger    *zap.Logger
}

func NewCourseService(repo courseRepository, audit *AuditService, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, audit: audit, validator: validate, logger: logger}
}

func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *CourseService) Create(ctx context.Context, req CourseRequest, meta models.RequestMeta) (*models.Course, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionCreate,
		Entity: "course",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		if err := s.validator.Struct(req); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
		}
		if exists, err := s.repo.ExistsByName(ctx, req.Name, ""); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course name")
		} else if exists {
			return nil, "", appErrors.Clone(appErrors.ErrConflict, "a course with this name already exists")
		}
		course := &models.Course{
			Name:        req.Name,
			Description: req.Description,
			WorkloadHrs: req.WorkloadHrs,
		}
		if err := s.repo.Create(ctx, course); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
		}
		return course, course.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Course), nil
}

func (s *CourseService) Update(ctx context.Context, id string, req CourseRequest, meta models.RequestMeta) (*models.Course, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionUpdate,
		Entity: "course",
		Meta:   meta,
		Before: func(ctx context.Context) (interface{}, error) { return s.repo.FindByID(ctx, id) },
	}, func(ctx context.Context) (interface{}, string, error) {
		if err := s.validator.Struct(req); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
		}
		course, err := s.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if exists, err := s.repo.ExistsByName(ctx, req.Name, id); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course name")
		} else if exists {
			return nil, "", appErrors.Clone(appErrors.ErrConflict, "a course with this name already exists")
		}
		course.Name = req.Name
		course.Description = req.Description
		course.WorkloadHrs = req.WorkloadHrs
		if err := s.repo.Update(ctx, course); err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
		}
		return course, course.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Course), nil
}
