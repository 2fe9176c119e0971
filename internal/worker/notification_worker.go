package worker

import (
	"context"

	"github.com/opsdesk/support-desk/internal/service"
)

// StartNotificationWorker begins consuming queue events for outbound
// notifications. Returns the error from subscription setup.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService) error {
	if notificationService == nil {
		return nil
	}
	return notificationService.Start(ctx)
}
