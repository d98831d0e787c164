package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/trustwork/escrow-engine/internal/goroutine"
	"github.com/trustwork/escrow-engine/internal/logger"
	"github.com/trustwork/escrow-engine/internal/models"
)

// Notifier - точка эмиссии событий ядра. Доставка и форматирование живут во
// внешнем слое; ядро лишь фиксирует факт события. Ошибка эмиссии никогда не
// валит породивший её переход.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) error
}

// NotificationRepository описывает взаимодействие сервиса с хранилищем уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// NotificationService содержит бизнес-логику работы с уведомлениями.
type NotificationService struct {
	repo NotificationRepository
}

// NewNotificationService создаёт новый сервис уведомлений.
func NewNotificationService(repo NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

// Notify создаёт уведомление о событии жизненного цикла.
func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) error {
	payload := map[string]interface{}{
		"event": event,
		"data":  data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notification service: marshal payload %w", err)
	}

	notification := &models.Notification{
		UserID:  userID,
		Payload: payloadBytes,
		IsRead:  false,
	}

	return s.repo.Create(ctx, notification)
}

// ListNotifications возвращает список уведомлений пользователя.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead отмечает уведомление как прочитанное.
func (s *NotificationService) MarkAsRead(ctx context.Context, id uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, id)
}

// CountUnread возвращает количество непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// emitAsync шлёт уведомление в фоне, не блокируя и не проваливая переход.
func emitAsync(notifier Notifier, userID uuid.UUID, event string, data interface{}) {
	if notifier == nil {
		return
	}
	goroutine.SafeGo(func() {
		if err := notifier.Notify(context.Background(), userID, event, data); err != nil {
			if logger.Log != nil {
				logger.Log.WithError(err).WithField("event", event).Warn("не удалось создать уведомление")
			}
		}
	})
}
