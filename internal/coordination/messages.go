// Package coordination implements the cross-agent primitives from
// spec.md §4.10: messages, regions, and conflicts. Delegations and
// handoffs are governed by the saga engine (internal/saga); this
// package wraps them with notification fan-out where applicable.
package coordination

import (
	"context"
	"fmt"

	"github.com/caliber-dev/caliber/internal/clog"
	"github.com/caliber-dev/caliber/internal/idgen"
	"github.com/caliber-dev/caliber/internal/model"
	"github.com/caliber-dev/caliber/internal/storage"
)

// Notifier is the abstract LISTEN/NOTIFY-equivalent a storage engine
// might not natively offer. It is always best-effort: message_pending
// and changes_since remain the source of truth whether or not a
// Notifier is wired in.
type Notifier interface {
	// NotifyAgent signals that agentID has new pending work.
	NotifyAgent(ctx context.Context, tenantID, agentID idgen.ID) error
	// NotifyAgentType signals every agent of agentType.
	NotifyAgentType(ctx context.Context, tenantID idgen.ID, agentType string) error
}

// noopNotifier discards every notification. Used when no Notifier is
// configured so Messages never has to nil-check before calling it.
type noopNotifier struct{}

func (noopNotifier) NotifyAgent(context.Context, idgen.ID, idgen.ID) error      { return nil }
func (noopNotifier) NotifyAgentType(context.Context, idgen.ID, string) error    { return nil }

// Messages wraps storage.MessageStore with the send/pending/ack
// workflow and best-effort push notification on send.
type Messages struct {
	store    storage.MessageStore
	notifier Notifier
	log      *clog.Logger
}

func NewMessages(store storage.MessageStore, notifier Notifier) *Messages {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Messages{store: store, notifier: notifier, log: clog.New("COORDINATION").With("messages")}
}

// Send validates and persists m, then best-effort notifies the
// recipient. A notifier failure never fails the send: changes_since and
// pending(...) remain authoritative.
func (m *Messages) Send(ctx context.Context, msg *model.Message) (idgen.ID, error) {
	if err := msg.Validate(); err != nil {
		return idgen.ID{}, err
	}
	id, err := m.store.CreateMessage(ctx, msg)
	if err != nil {
		return idgen.ID{}, err
	}

	if msg.ToAgentID != nil {
		if nerr := m.notifier.NotifyAgent(ctx, msg.TenantID, *msg.ToAgentID); nerr != nil {
			m.log.Warn("notify agent %s failed: %v", *msg.ToAgentID, nerr)
		}
	} else if msg.ToAgentType != nil {
		if nerr := m.notifier.NotifyAgentType(ctx, msg.TenantID, *msg.ToAgentType); nerr != nil {
			m.log.Warn("notify agent_type %s failed: %v", *msg.ToAgentType, nerr)
		}
	}
	return id, nil
}

// Pending returns undelivered messages for agentID and/or agentType, in
// priority-then-creation order (storage.MessageStore orders them).
func (m *Messages) Pending(ctx context.Context, agentID *idgen.ID, agentType *string) ([]*model.Message, error) {
	return m.store.PendingMessages(ctx, agentID, agentType)
}

func (m *Messages) MarkDelivered(ctx context.Context, id idgen.ID) error {
	if err := m.store.MarkDelivered(ctx, id); err != nil {
		return fmt.Errorf("mark_delivered: %w", err)
	}
	return nil
}

func (m *Messages) MarkAcknowledged(ctx context.Context, id idgen.ID) error {
	if err := m.store.MarkAcknowledged(ctx, id); err != nil {
		return fmt.Errorf("mark_acknowledged: %w", err)
	}
	return nil
}
