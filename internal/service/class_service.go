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
	appErrors "github.com/cursolab/gestao-api/pkg/errors"
)

type classRepository interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Class, error)
	ExistsByName(ctx context.Context, name, excludeID string) (bool, error)
	Create(ctx context.Context, class *models.Class) error
	Update(ctx context.Context, class *models.Class) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.ClassStatus) error
	ReleaseSeats(ctx context.Context, exec sqlx.ExtContext, classID string, n int) (int, error)
}

type classCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type classEnrollmentRepository interface {
	ListActiveByClass(ctx context.Context, exec sqlx.ExtContext, classID string) ([]models.EnrollmentDetail, error)
	UpdateStatusByClass(ctx context.Context, exec sqlx.ExtContext, classID string, status models.EnrollmentStatus, at time.Time) (int, error)
}

type classNotifier interface {
	ClassEnded(class *models.Class, recipients []models.EnrollmentDetail)
	ClassCancelled(class *models.Class, recipients []models.EnrollmentDetail)
}

// CreateClassRequest creates a class in PLANNED status.
type CreateClassRequest struct {
	CourseID  string     `json:"course_id" validate:"required"`
	Name      string     `json:"name" validate:"required"`
	Shift     string     `json:"shift" validate:"required,oneof=MORNING AFTERNOON EVENING"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Vagas     int        `json:"vagas" validate:"required,min=1"`
}

// UpdateClassRequest changes descriptive fields. Capacity may only grow
// above the current enrolled count.
type UpdateClassRequest struct {
	Name      string     `json:"name" validate:"required"`
	Shift     string     `json:"shift" validate:"required,oneof=MORNING AFTERNOON EVENING"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Vagas     int        `json:"vagas" validate:"required,min=1"`
}

// TransitionClassRequest requests a status change.
type TransitionClassRequest struct {
	Status models.ClassStatus `json:"status" validate:"required"`
}

// ClassService owns class CRUD and the status state machine.
type ClassService struct {
	repo        classRepository
	courses     classCourseRepository
	enrollments classEnrollmentRepository
	tx          txProvider
	audit       *AuditService
	notifier    classNotifier
	validator   *validator.Validate
	logger      *zap.Logger
	clock       func() time.Time
}

// NewClassService constructs ClassService. notifier may be nil.
func NewClassService(
	repo classRepository,
	courses classCourseRepository,
	enrollments classEnrollmentRepository,
	tx txProvider,
	audit *AuditService,
	notifier classNotifier,
	validate *validator.Validate,
	logger *zap.Logger,
) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{
		repo:        repo,
		courses:     courses,
		enrollments: enrollments,
		tx:          tx,
		audit:       audit,
		notifier:    notifier,
		validator:   validate,
		logger:      logger,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, used by tests.
func (s *ClassService) WithClock(clock func() time.Time) *ClassService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// List returns classes with pagination metadata.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter) ([]models.ClassDetail, *models.Pagination, error) {
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return classes, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a class by ID.
func (s *ClassService) Get(ctx context.Context, id string) (*models.Class, error) {
	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return class, nil
}

// Create registers a new class. New classes always start PLANNED with
// zero enrolled.
func (s *ClassService) Create(ctx context.Context, req CreateClassRequest, meta models.RequestMeta) (*models.Class, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionCreate,
		Entity: "class",
		Meta:   meta,
	}, func(ctx context.Context) (interface{}, string, error) {
		class, err := s.create(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return class, class.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Class), nil
}

func (s *ClassService) create(ctx context.Context, req CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if exists, err := s.repo.ExistsByName(ctx, req.Name, ""); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class name")
	} else if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a class with this name already exists")
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date precedes start date")
	}

	class := &models.Class{
		CourseID:  req.CourseID,
		Name:      req.Name,
		Shift:     req.Shift,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Vagas:     req.Vagas,
		Status:    models.ClassStatusPlanned,
	}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	return class, nil
}

// Update changes descriptive fields. Shrinking vagas below the current
// enrolled count is refused, since it would strand enrollments.
func (s *ClassService) Update(ctx context.Context, id string, req UpdateClassRequest, meta models.RequestMeta) (*models.Class, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionUpdate,
		Entity: "class",
		Meta:   meta,
		Before: func(ctx context.Context) (interface{}, error) { return s.repo.FindByID(ctx, id) },
	}, func(ctx context.Context) (interface{}, string, error) {
		class, err := s.update(ctx, id, req)
		if err != nil {
			return nil, "", err
		}
		return class, class.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Class), nil
}

func (s *ClassService) update(ctx context.Context, id string, req UpdateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	class, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exists, err := s.repo.ExistsByName(ctx, req.Name, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class name")
	} else if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a class with this name already exists")
	}
	if req.Vagas < class.Enrolled {
		return nil, appErrors.Clone(appErrors.ErrValidation, "vagas cannot drop below the current enrolled count")
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(*req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date precedes start date")
	}

	class.Name = req.Name
	class.Shift = req.Shift
	class.StartDate = req.StartDate
	class.EndDate = req.EndDate
	class.Vagas = req.Vagas
	if err := s.repo.Update(ctx, class); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}
	return class, nil
}

// Transition moves a class through its status machine. ENDED completes
// all active enrollments; CANCELLED cancels them and releases their
// seats. Both run in one transaction with the status flip.
func (s *ClassService) Transition(ctx context.Context, id string, req TransitionClassRequest, meta models.RequestMeta) (*models.Class, error) {
	result, err := s.audit.Intercept(ctx, Mutation{
		Action: models.AuditActionUpdate,
		Entity: "class",
		Meta:   meta,
		Before: func(ctx context.Context) (interface{}, error) { return s.repo.FindByID(ctx, id) },
	}, func(ctx context.Context) (interface{}, string, error) {
		class, err := s.transition(ctx, id, req.Status)
		if err != nil {
			return nil, "", err
		}
		return class, class.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Class), nil
}

func (s *ClassService) transition(ctx context.Context, id string, next models.ClassStatus) (result *models.Class, err error) {
	if !next.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown class status")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transition transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	class, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = appErrors.ErrClassNotFound
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock class")
		return nil, err
	}
	if !class.Status.CanTransitionTo(next) {
		err = appErrors.Clone(appErrors.ErrIllegalTransition,
			"cannot transition class from "+string(class.Status)+" to "+string(next))
		return nil, err
	}

	var recipients []models.EnrollmentDetail
	now := s.clock()

	switch next {
	case models.ClassStatusEnded:
		recipients, err = s.enrollments.ListActiveByClass(ctx, tx, id)
		if err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active enrollments")
			return nil, err
		}
		if _, err = s.enrollments.UpdateStatusByClass(ctx, tx, id, models.EnrollmentStatusCompleted, now); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete enrollments")
			return nil, err
		}
	case models.ClassStatusCancelled:
		recipients, err = s.enrollments.ListActiveByClass(ctx, tx, id)
		if err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active enrollments")
			return nil, err
		}
		cancelled, uerr := s.enrollments.UpdateStatusByClass(ctx, tx, id, models.EnrollmentStatusCancelled, now)
		if uerr != nil {
			err = appErrors.Wrap(uerr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollments")
			return nil, err
		}
		if cancelled > 0 {
			released, rerr := s.repo.ReleaseSeats(ctx, tx, id, cancelled)
			if rerr != nil {
				err = appErrors.Wrap(rerr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release seats")
				return nil, err
			}
			if released < cancelled {
				s.logger.Warn("seat counter drifted below cancelled enrollments, floored at zero",
					zap.String("class_id", id),
					zap.Int("cancelled", cancelled),
					zap.Int("released", released))
			}
			class.Enrolled -= released
			if class.Enrolled < 0 {
				class.Enrolled = 0
			}
		}
	}

	if err = s.repo.UpdateStatus(ctx, tx, id, next); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class status")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transition")
		return nil, err
	}

	prev := class.Status
	class.Status = next
	s.logger.Info("class status changed",
		zap.String("class_id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(next)))

	// notifications go out only after the commit landed
	if s.notifier != nil && len(recipients) > 0 {
		switch next {
		case models.ClassStatusEnded:
			s.notifier.ClassEnded(class, recipients)
		case models.ClassStatusCancelled:
			s.notifier.ClassCancelled(class, recipients)
		}
	}
	return class, nil
}
