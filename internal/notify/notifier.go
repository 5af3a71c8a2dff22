package notify

import (
	"context"

	"github.com/statuswatch/statuswatch/internal/observations"
)

// Notifier delivers incident alerts to external systems. Delivery is
// best-effort: the scheduler logs failures and moves on.
type Notifier interface {
	Notify(ctx context.Context, incidents []observations.Incident) error
}
