package core

import (
	"context"

	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
)

// MessageSend is spec.md §6's message_send(...).
func (c *Core) MessageSend(ctx context.Context, msg *model.Message) (idgen.ID, error) {
	return c.Messages.Send(ctx, msg)
}

// MessageAck is spec.md §6's message_ack(...): mark_acknowledged is the
// terminal state a delivered message moves to once the recipient has
// processed it.
func (c *Core) MessageAck(ctx context.Context, id idgen.ID) error {
	return c.Messages.MarkAcknowledged(ctx, id)
}

// MessageDeliver marks a pending message delivered, distinct from
// acknowledged: delivery means the recipient received it, acknowledgment
// means the recipient acted on it.
func (c *Core) MessageDeliver(ctx context.Context, id idgen.ID) error {
	return c.Messages.MarkDelivered(ctx, id)
}

// MessagePending is spec.md §6's message_pending(...).
func (c *Core) MessagePending(ctx context.Context, agentID *idgen.ID, agentType *string) ([]*model.Message, error) {
	return c.Messages.Pending(ctx, agentID, agentType)
}
