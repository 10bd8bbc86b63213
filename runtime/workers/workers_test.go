package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"relay-lab/domain"
	"relay-lab/domain/event"
	"relay-lab/errors"
	"relay-lab/mocks"
	"relay-lab/transport"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervisor_RestartOnPanic(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	workerMock := mocks.NewMockWorker(ctrl)

	calls := 0
	workerMock.EXPECT().
		Run(gomock.Any()).
		DoAndReturn(func(ctx context.Context) error {
			calls++
			panic("boom")
		}).
		AnyTimes()

	sup := NewSupervisor(testLogger(), 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go sup.Add(workerMock).Run(ctx)

	// Waiting for panics and restarts
	time.Sleep(400 * time.Millisecond)

	req.GreaterOrEqual(calls, 2)
}

func TestSupervisor_StopOnSuccess(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	workerMock := mocks.NewMockWorker(ctrl)

	// Given a worker running only once
	workerMock.EXPECT().
		Run(gomock.Any()).
		Return(nil).
		Times(1)

	sup := NewSupervisor(testLogger(), 50*time.Millisecond)

	// Given a channel to notify when Run() terminated
	done := make(chan struct{})

	go func() {
		sup.Add(workerMock).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
		// Then supervisor detected a success, returned nil and stopped
	case <-time.After(500 * time.Millisecond):
		req.Fail("Supervisor should have stopped after worker success")
	}
}

func TestInboundWorker_Publishes_Chat_With_Principal_Sender(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockProducer := mocks.NewMockProducer(ctrl)

	frames := make(chan transport.InboundMessage, 1)
	worker := NewInboundWorker(testLogger(), frames, mockProducer, "chat.messages")

	published := make(chan []byte, 1)
	// Then the event is published under the sender's partition key
	mockProducer.EXPECT().
		Publish("chat.messages", "user-42", gomock.Any()).
		Do(func(topic, key string, payload []byte) {
			published <- payload
		}).Times(1)

	// Given a frame whose body claims a different sender
	body, err := json.Marshal(event.ChatEvent{
		SenderID: "impostor", ConversationID: "conv-1", Body: "hello",
	})
	req.NoError(err)
	frames <- transport.InboundMessage{
		Client: &transport.Client{ID: "conn-1", Principal: &domain.Principal{Subject: "user-42"}},
		Frame:  transport.Frame{Destination: transport.DestinationChatSend, Body: body},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	select {
	case payload := <-published:
		evt, decodeErr := event.DecodeChat(payload)
		req.NoError(decodeErr)
		// The principal always wins over the frame body
		req.Equal("user-42", evt.SenderID)
		req.Equal("conv-1", evt.ConversationID)
		req.False(evt.SentAt.IsZero())
	case <-time.After(time.Second):
		req.Fail("Chat event was never published")
	}
}

func TestInboundWorker_Drops_Anonymous_Chat_Frames(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	// Given a producer expecting zero publishes
	mockProducer := mocks.NewMockProducer(ctrl)

	frames := make(chan transport.InboundMessage, 1)
	worker := NewInboundWorker(testLogger(), frames, mockProducer, "chat.messages")

	frames <- transport.InboundMessage{
		Client: &transport.Client{ID: "conn-1"},
		Frame:  transport.Frame{Destination: transport.DestinationChatSend, Body: []byte(`{"body":"hi"}`)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	// Then nothing reaches the producer
	time.Sleep(100 * time.Millisecond)
	req.Empty(frames)
}

type fakeConnectionList struct{ ids []string }

func (f fakeConnectionList) AuthenticatedConnectionIDs() []string { return f.ids }

type recordingRefresher struct {
	mu        sync.Mutex
	refreshed map[string]int
	err       error
}

func (r *recordingRefresher) Refresh(_ context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refreshed == nil {
		r.refreshed = make(map[string]int)
	}
	r.refreshed[connectionID]++
	return r.err
}

func (r *recordingRefresher) count(connectionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshed[connectionID]
}

func TestSessionRefreshWorker_Refreshes_Every_Owned_Session(t *testing.T) {
	req := require.New(t)

	// Given two authenticated connections on this node
	refresher := &recordingRefresher{}
	worker := NewSessionRefreshWorker(testLogger(),
		fakeConnectionList{ids: []string{"conn-a", "conn-b"}}, refresher, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	// Then both records are refreshed again and again while they live
	req.Eventually(func() bool {
		return refresher.count("conn-a") >= 2 && refresher.count("conn-b") >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestSessionRefreshWorker_Keeps_Ticking_After_A_Failed_Refresh(t *testing.T) {
	req := require.New(t)

	refresher := &recordingRefresher{err: fmt.Errorf("redis unavailable")}
	worker := NewSessionRefreshWorker(testLogger(),
		fakeConnectionList{ids: []string{"conn-a"}}, refresher, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	// A failed refresh is logged, not fatal: the next tick retries
	req.Eventually(func() bool {
		return refresher.count("conn-a") >= 2
	}, time.Second, 10*time.Millisecond)
}

// syncBuffer makes log output readable while the worker goroutine is
// still writing to it.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestInboundWorker_Drops_Unknown_Destinations(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	// Given a producer expecting zero publishes
	mockProducer := mocks.NewMockProducer(ctrl)

	logged := &syncBuffer{}
	frames := make(chan transport.InboundMessage, 1)
	worker := NewInboundWorker(slog.New(slog.NewTextHandler(logged, nil)),
		frames, mockProducer, "chat.messages")

	frames <- transport.InboundMessage{
		Client: &transport.Client{ID: "conn-1", Principal: &domain.Principal{Subject: "user-42"}},
		Frame:  transport.Frame{Destination: "/app/unknown"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = worker.Run(ctx) }()

	// Then the frame is dropped with the unknown-destination error
	req.Eventually(func() bool {
		return strings.Contains(logged.String(), errors.ErrUnknownDestination.Error())
	}, time.Second, 10*time.Millisecond)
	req.Empty(frames)
}
