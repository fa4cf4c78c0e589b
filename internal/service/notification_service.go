package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/license-service/internal/config"
	"github.com/spec-kit/license-service/internal/events"
)

// NotificationService handles emitting notifications for license events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventLicenseCreated, n.handleLifecycleEvent)
	n.dispatcher.Subscribe(events.EventLicenseActivated, n.handleLifecycleEvent)
	n.dispatcher.Subscribe(events.EventLicenseExpired, n.handleLifecycleEvent)
	n.dispatcher.Subscribe(events.EventLicenseRevoked, n.handleLifecycleEvent)
	n.dispatcher.Subscribe(events.EventLicenseHWIDReset, n.handleLifecycleEvent)
}

func (n *NotificationService) handleLifecycleEvent(ctx context.Context, event events.Event) error {
	n.logger.Info("license event",
		zap.String("event_type", string(event.Type)),
		zap.String("license_key", event.LicenseKey),
		zap.String("actor_id", event.Actor.UserID),
		zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("license_key", event.LicenseKey),
		zap.String("event_type", string(event.Type)))
}
