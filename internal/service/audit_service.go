package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cursolab/gestao-api/internal/models"
)

type auditSink interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, int, error)
}

// AuditService wraps mutating operations with audit trail recording.
// Recording is best-effort: a failed audit write is logged and swallowed,
// never surfaced to the caller of the primary operation.
type AuditService struct {
	sink    auditSink
	metrics *MetricsService
	logger  *zap.Logger
}

// NewAuditService constructs the AuditService.
func NewAuditService(sink auditSink, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{sink: sink, logger: logger}
}

// WithMetrics enables dropped-write instrumentation.
func (s *AuditService) WithMetrics(m *MetricsService) *AuditService {
	s.metrics = m
	return s
}

// BeforeStateFunc loads the prior state of the entity being mutated.
type BeforeStateFunc func(ctx context.Context) (interface{}, error)

// OperationFunc is the wrapped business operation. The returned string
// is the entity ID, which for creations is only known afterwards.
type OperationFunc func(ctx context.Context) (result interface{}, entityID string, err error)

// Mutation describes an operation to be audited.
type Mutation struct {
	Action string
	Entity string
	Meta   models.RequestMeta
	// Before is set for UPDATE/DELETE-like actions; it runs ahead of
	// the operation to snapshot prior state.
	Before BeforeStateFunc
}

// Intercept runs op and records one audit row on success. The audit row
// sits outside the operation's transaction boundary: op's own commit or
// rollback is never affected by audit failures.
func (s *AuditService) Intercept(ctx context.Context, m Mutation, op OperationFunc) (interface{}, error) {
	var before interface{}
	if m.Before != nil {
		b, err := m.Before(ctx)
		if err != nil {
			s.logger.Warn("audit before-state read failed",
				zap.String("entity", m.Entity), zap.String("action", m.Action), zap.Error(err))
		} else {
			before = b
		}
	}

	result, entityID, err := op(ctx)
	if err != nil {
		return nil, err
	}

	s.record(ctx, m, entityID, before, result)
	return result, nil
}

// List returns audit entries with pagination metadata. The trail is
// append-only; there is no update or delete path.
func (s *AuditService) List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, *models.Pagination, error) {
	entries, total, err := s.sink.List(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *AuditService) record(ctx context.Context, m Mutation, entityID string, before, after interface{}) {
	if s.sink == nil {
		return
	}
	entry := &models.AuditLog{
		ActorID:   m.Meta.ActorID,
		Action:    m.Action,
		Entity:    m.Entity,
		IPAddress: m.Meta.IP,
		UserAgent: m.Meta.UserAgent,
	}
	if entityID != "" {
		entry.EntityID = &entityID
	}
	entry.OldValues = marshalSnapshot(s.logger, m.Entity, before)
	entry.NewValues = marshalSnapshot(s.logger, m.Entity, after)

	if err := s.sink.Create(ctx, entry); err != nil {
		if s.metrics != nil {
			s.metrics.AuditWriteFailure()
		}
		s.logger.Warn("audit write failed",
			zap.String("entity", m.Entity), zap.String("action", m.Action),
			zap.String("entity_id", entityID), zap.Error(err))
	}
}

func marshalSnapshot(logger *zap.Logger, entity string, v interface{}) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn("audit snapshot marshal failed", zap.String("entity", entity), zap.Error(err))
		return nil
	}
	return data
}
