package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cursolab/gestao-api/internal/models"
)

func TestAuditServiceInterceptRecordsSnapshot(t *testing.T) {
	sink := &auditSinkStub{}
	service := NewAuditService(sink, zap.NewNop())
	actor := "u1"

	result, err := service.Intercept(context.Background(), Mutation{
		Action: models.AuditActionUpdate,
		Entity: "class",
		Meta:   models.RequestMeta{ActorID: &actor, IP: "10.0.0.1", UserAgent: "curl"},
		Before: func(ctx context.Context) (interface{}, error) {
			return map[string]string{"status": "PLANNED"}, nil
		},
	}, func(ctx context.Context) (interface{}, string, error) {
		return map[string]string{"status": "ACTIVE"}, "c1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"status": "ACTIVE"}, result)

	require.Len(t, sink.entries, 1)
	entry := sink.entries[0]
	assert.Equal(t, models.AuditActionUpdate, entry.Action)
	assert.Equal(t, "class", entry.Entity)
	require.NotNil(t, entry.EntityID)
	assert.Equal(t, "c1", *entry.EntityID)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "u1", *entry.ActorID)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)

	var before, after map[string]string
	require.NoError(t, json.Unmarshal(entry.OldValues, &before))
	require.NoError(t, json.Unmarshal(entry.NewValues, &after))
	assert.Equal(t, "PLANNED", before["status"])
	assert.Equal(t, "ACTIVE", after["status"])
}

func TestAuditServiceInterceptOperationError(t *testing.T) {
	sink := &auditSinkStub{}
	service := NewAuditService(sink, zap.NewNop())
	boom := errors.New("boom")

	_, err := service.Intercept(context.Background(), Mutation{
		Action: models.AuditActionDelete,
		Entity: "candidate",
	}, func(ctx context.Context) (interface{}, string, error) {
		return nil, "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sink.entries, "failed operations are not audited")
}

func TestAuditServiceInterceptSinkFailureIsSwallowed(t *testing.T) {
	sink := &auditSinkStub{err: errors.New("audit db down")}
	service := NewAuditService(sink, zap.NewNop())

	result, err := service.Intercept(context.Background(), Mutation{
		Action: models.AuditActionCreate,
		Entity: "course",
	}, func(ctx context.Context) (interface{}, string, error) {
		return "created", "co1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "created", result)
}

func TestAuditServiceInterceptBeforeFailureIsSwallowed(t *testing.T) {
	sink := &auditSinkStub{}
	service := NewAuditService(sink, zap.NewNop())

	_, err := service.Intercept(context.Background(), Mutation{
		Action: models.AuditActionUpdate,
		Entity: "class",
		Before: func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("snapshot failed")
		},
	}, func(ctx context.Context) (interface{}, string, error) {
		return "ok", "c1", nil
	})
	require.NoError(t, err)
	require.Len(t, sink.entries, 1)
	assert.Nil(t, sink.entries[0].OldValues)
}
