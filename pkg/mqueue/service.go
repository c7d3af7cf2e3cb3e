// Package mqueue implements the durable, priority+FIFO agent-to-agent
// message queue (spec §4.5): send/broadcast, skip-locked claim, delivery
// acknowledgement, and a retention sweep over processed messages.
package mqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentsmith/fleet/pkg/apperr"
	"github.com/agentsmith/fleet/pkg/store"
	"github.com/agentsmith/fleet/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Service implements the message queue operations.
type Service struct {
	db      *bun.DB
	metrics *telemetry.Metrics
}

// New constructs a mqueue Service.
func New(db *bun.DB) *Service {
	return &Service{db: db}
}

// WithTelemetry attaches metrics; nil-safe (SPEC_FULL §5 "message queue
// depth by priority").
func (s *Service) WithTelemetry(m *telemetry.Metrics) *Service {
	s.metrics = m
	return s
}

// Send enqueues one message from sender to recipient (spec §4.5 "Enqueue").
func (s *Service) Send(ctx context.Context, senderID, recipientID string, payload any, priority int) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling message payload: %w", err)
	}
	msg := &store.Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     raw,
		Priority:    priority,
		Status:      store.MessageStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(msg).Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueueing message: %w", err)
	}
	if s.metrics != nil {
		s.metrics.MessagesSent.Inc()
		s.refreshDepth(ctx)
	}
	return msg.ID, nil
}

// refreshDepth recomputes the pending-message gauge by priority. Best
// effort: a failure here only degrades an observability side-channel, so
// it is logged rather than propagated.
func (s *Service) refreshDepth(ctx context.Context) {
	var rows []struct {
		Priority int `bun:"priority"`
		Count    int `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*store.Message)(nil)).
		Column("priority").
		ColumnExpr("count(*) AS count").
		Where("status = ?", store.MessageStatusPending).
		Group("priority").
		Scan(ctx, &rows)
	if err != nil {
		return
	}
	for _, r := range rows {
		s.metrics.QueueDepth.WithLabelValues(fmt.Sprintf("%d", r.Priority)).Set(float64(r.Count))
	}
}

// Broadcast fans a single payload out to every recipient in one
// transaction (spec §4.5 "Broadcast is a simple fan-out of inserts in a
// single transaction").
func (s *Service) Broadcast(ctx context.Context, senderID string, recipientIDs []string, payload any, priority int) ([]string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling broadcast payload: %w", err)
	}

	ids := make([]string, 0, len(recipientIDs))
	now := time.Now().UTC()
	messages := make([]*store.Message, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		id := uuid.NewString()
		ids = append(ids, id)
		messages = append(messages, &store.Message{
			ID:          id,
			SenderID:    senderID,
			RecipientID: recipientID,
			Payload:     raw,
			Priority:    priority,
			Status:      store.MessageStatusPending,
			CreatedAt:   now,
		})
	}
	if len(messages) == 0 {
		return ids, nil
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&messages).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("broadcasting message: %w", err)
	}
	if s.metrics != nil {
		for range messages {
			s.metrics.MessagesSent.Inc()
		}
		s.refreshDepth(ctx)
	}
	return ids, nil
}

// Receive claims up to limit pending messages for agentID, ordered
// priority DESC, created_at ASC, using SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent receivers never redeliver the same row (spec §4.5 "Claim").
// Claimed rows move to delivered; callers must call MarkProcessed once
// they have durably acted on a message.
func (s *Service) Receive(ctx context.Context, agentID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 1
	}

	var claimed []*store.Message
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var ids []string
		err := tx.NewRaw(`
			SELECT id FROM messages
			WHERE recipient_id = ? AND status = ?
			ORDER BY priority DESC, created_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		`, agentID, store.MessageStatusPending, limit).Scan(ctx, &ids)
		if err != nil {
			return fmt.Errorf("claiming messages: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		now := time.Now().UTC()
		_, err = tx.NewUpdate().
			Model((*store.Message)(nil)).
			Set("status = ?", store.MessageStatusDelivered).
			Set("delivered_at = ?", now).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("marking messages delivered: %w", err)
		}

		return tx.NewSelect().
			Model(&claimed).
			Where("id IN (?)", bun.In(ids)).
			Order("priority DESC", "created_at ASC").
			Scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// PendingDelivered returns messages already delivered to agentID but never
// marked processed -- the set a restarting, idempotent receiver should
// re-inspect (spec §4.5 "Failure semantics": at-least-once delivery).
func (s *Service) PendingDelivered(ctx context.Context, agentID string) ([]*store.Message, error) {
	var messages []*store.Message
	err := s.db.NewSelect().
		Model(&messages).
		Where("recipient_id = ? AND status = ?", agentID, store.MessageStatusDelivered).
		Order("priority DESC", "created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading delivered messages for %s: %w", agentID, err)
	}
	return messages, nil
}

// MarkProcessed marks a delivered message as processed. Called by the
// receiver once it has durably handled the message.
func (s *Service) MarkProcessed(ctx context.Context, messageID string) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*store.Message)(nil)).
		Set("status = ?", store.MessageStatusProcessed).
		Set("processed_at = ?", now).
		Where("id = ? AND status = ?", messageID, store.MessageStatusDelivered).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("marking message %s processed: %w", messageID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("message %s not in delivered state: %w", messageID, apperr.ErrStoreConflict)
	}
	return nil
}

// Sweep deletes processed messages older than retention. Invoked by the
// cron-driven retention scheduler in pkg/mqueue/retention.go.
func (s *Service) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.NewDelete().
		Model((*store.Message)(nil)).
		Where("status = ? AND processed_at < ?", store.MessageStatusProcessed, cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweeping processed messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
