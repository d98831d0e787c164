package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/trustwork/escrow-engine/internal/models"
)

type mockNotificationRepo struct {
	mock.Mock
}

func (m *mockNotificationRepo) Create(ctx context.Context, notification *models.Notification) error {
	args := m.Called(ctx, notification)
	return args.Error(0)
}

func (m *mockNotificationRepo) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	args := m.Called(ctx, userID, limit, offset, unreadOnly)
	return args.Get(0).([]models.Notification), args.Error(1)
}

func (m *mockNotificationRepo) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockNotificationRepo) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func TestNotificationService_Notify_BuildsPayload(t *testing.T) {
	repo := new(mockNotificationRepo)
	svc := NewNotificationService(repo)
	ctx := context.Background()

	userID := uuid.New()
	var created *models.Notification
	repo.On("Create", ctx, mock.AnythingOfType("*models.Notification")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*models.Notification)
		}).Return(nil)

	err := svc.Notify(ctx, userID, models.EventEscrowReleased, map[string]interface{}{"amount": 500})

	assert.NoError(t, err)
	if assert.NotNil(t, created) {
		assert.Equal(t, userID, created.UserID)
		assert.False(t, created.IsRead)

		var payload map[string]interface{}
		assert.NoError(t, json.Unmarshal(created.Payload, &payload))
		assert.Equal(t, models.EventEscrowReleased, payload["event"])
	}
}

func TestNotificationService_ListNotifications_ClampsLimit(t *testing.T) {
	repo := new(mockNotificationRepo)
	svc := NewNotificationService(repo)
	ctx := context.Background()

	userID := uuid.New()
	repo.On("List", ctx, userID, 20, 0, false).Return([]models.Notification{}, nil)

	_, err := svc.ListNotifications(ctx, userID, 1000, -5, false)

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}
