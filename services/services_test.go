package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"relay-lab/delivery"
	"relay-lab/domain/event"
	"relay-lab/errors"
	"relay-lab/mocks"
	"relay-lab/registry"
	"relay-lab/repositories"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChatService_Persists_Decoded_Record(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepository := mocks.NewMockIMessageRepository(ctrl)

	var stored repositories.DiskMessage
	mockRepository.EXPECT().StoreMessage(gomock.Any()).
		Do(func(message repositories.DiskMessage) { stored = message }).
		Return(nil).Times(1)

	service := NewChatService(testLogger(), mockRepository)

	sentAt := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	payload, err := event.Encode(event.ChatEvent{
		SenderID: "alice", ConversationID: "conv-1", Body: "hello", SentAt: sentAt,
	})
	req.NoError(err)

	// When a consumed chat record is handled
	req.NoError(service.Handle(context.Background(), payload))

	// Then the persisted row carries the event fields
	req.Equal("conv-1", stored.ConversationID)
	req.Equal("alice", stored.Sender)
	req.Equal("hello", stored.Body)
	req.Equal(sentAt, stored.At)
}

func TestChatService_Handle_Is_Deterministic_For_Redelivery(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepository := mocks.NewMockIMessageRepository(ctrl)

	var first, second repositories.DiskMessage
	gomock.InOrder(
		mockRepository.EXPECT().StoreMessage(gomock.Any()).
			Do(func(message repositories.DiskMessage) { first = message }).Return(nil),
		mockRepository.EXPECT().StoreMessage(gomock.Any()).
			Do(func(message repositories.DiskMessage) { second = message }).Return(nil),
	)

	service := NewChatService(testLogger(), mockRepository)
	payload, err := event.Encode(event.ChatEvent{
		SenderID: "alice", ConversationID: "conv-1", Body: "hello",
		SentAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	})
	req.NoError(err)

	// When the broker redelivers the same record bytes
	req.NoError(service.Handle(context.Background(), payload))
	req.NoError(service.Handle(context.Background(), payload))

	// Then both attempts map to the same message identity and row
	req.Equal(first.ID, second.ID)
	req.Equal(first.At, second.At)
}

func TestChatService_Rejects_Record_Without_Timestamp(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	// Given a repository expecting zero stores
	mockRepository := mocks.NewMockIMessageRepository(ctrl)

	service := NewChatService(testLogger(), mockRepository)
	payload, err := event.Encode(event.ChatEvent{
		SenderID: "alice", ConversationID: "conv-1", Body: "hello",
	})
	req.NoError(err)

	// A record with no sent_at cannot have a stable identity across
	// redeliveries, so it is invalid rather than stamped per attempt
	req.ErrorIs(service.Handle(context.Background(), payload), errors.ErrInvalidPayload)
}

func TestChatService_Rejects_Malformed_Payload(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepository := mocks.NewMockIMessageRepository(ctrl)

	service := NewChatService(testLogger(), mockRepository)

	// A malformed record fails identically to a transient error: this
	// layer does not tell them apart, the consumer will retry it.
	err := service.Handle(context.Background(), []byte("not json"))
	req.ErrorIs(err, errors.ErrInvalidPayload)
}

func TestChatService_Propagates_Store_Failure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockRepository := mocks.NewMockIMessageRepository(ctrl)

	failure := fmt.Errorf("disk unavailable")
	mockRepository.EXPECT().StoreMessage(gomock.Any()).Return(failure).Times(1)

	service := NewChatService(testLogger(), mockRepository)
	payload, err := event.Encode(event.ChatEvent{
		SenderID: "alice", ConversationID: "conv-1",
		SentAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	})
	req.NoError(err)

	req.ErrorIs(service.Handle(context.Background(), payload), failure)
}

func TestNotificationService_No_Live_Session_Acknowledges_As_Noop(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	// Given user 42 has no session record and a transport expecting
	// zero delivery attempts
	mockTransport := mocks.NewMockTransport(ctrl)
	router := delivery.NewRouter(testLogger(), registry.NewMemoryRegistry(), mockTransport, true)
	service := NewNotificationService(router)

	payload, err := event.Encode(event.NotificationEvent{
		RecipientUserID: "42",
		NotificationID:  "7",
		Type:            "REVIEW_RECEIVED",
		Title:           "New review",
		Message:         "A customer reviewed your listing",
	})
	req.NoError(err)

	// When the consumed notification is handled
	// Then it completes successfully so the consumer acknowledges
	req.NoError(service.Handle(context.Background(), payload))
}

func TestNotificationService_Rejects_Malformed_Payload(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockTransport := mocks.NewMockTransport(ctrl)
	router := delivery.NewRouter(testLogger(), registry.NewMemoryRegistry(), mockTransport, true)
	service := NewNotificationService(router)

	err := service.Handle(context.Background(), []byte("{"))
	req.ErrorIs(err, errors.ErrInvalidPayload)
}
