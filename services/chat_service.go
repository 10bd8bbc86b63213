package services

import (
	"context"
	"fmt"
	"log/slog"

	"relay-lab/contract"
	"relay-lab/domain/event"
	"relay-lab/errors"
	"relay-lab/repositories"

	"github.com/google/uuid"
)

var _ contract.RecordHandler = (*ChatService)(nil)

// ChatService is the side effect behind the chat consumer binding: it
// persists each consumed chat record. The consumer acknowledges only
// after StoreMessage succeeded, so a crash between store and ack means
// redelivery, which the time-keyed store absorbs without duplicates.
// That guarantee needs every field of the identity to come from the
// record itself, so a record without a sent_at is rejected as invalid
// rather than stamped with a per-attempt clock read.
type ChatService struct {
	log        *slog.Logger
	repository repositories.IMessageRepository
}

func NewChatService(log *slog.Logger, repository repositories.IMessageRepository) *ChatService {
	return &ChatService{log: log, repository: repository}
}

func (s *ChatService) Handle(_ context.Context, value []byte) error {
	evt, err := event.DecodeChat(value)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err)
	}
	if evt.SentAt.IsZero() {
		return fmt.Errorf("%w: chat event has no sent_at", errors.ErrInvalidPayload)
	}

	message := repositories.DiskMessage{
		ID:             uuid.NewSHA1(uuid.NameSpaceOID, value),
		ConversationID: evt.ConversationID,
		Sender:         evt.SenderID,
		Body:           evt.Body,
		MediaRef:       evt.MediaRef,
		At:             evt.SentAt,
	}

	if err := s.repository.StoreMessage(message); err != nil {
		return fmt.Errorf("persist chat message: %w", err)
	}

	s.log.Debug("Chat message persisted",
		"conversation_id", evt.ConversationID, "sender_id", evt.SenderID)
	return nil
}
