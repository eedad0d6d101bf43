package port

import (
	"context"

	"eshop-ordering/internal/service/ordering/domain"
)

// EventPublisher 是集成事件的出站端口，至少一次投递
type EventPublisher interface {
	Publish(ctx context.Context, event domain.IntegrationEvent) error
}
