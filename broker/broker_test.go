package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"relay-lab/contract"
	"relay-lab/errors"
	"relay-lab/retry"

	"github.com/stretchr/testify/require"
)

// fakeLog is an in-memory LogWriter that can fail a configured number of
// times before accepting writes, to exercise the retry paths.
type fakeLog struct {
	mu       sync.Mutex
	records  []contract.Record
	failures int
	attempts int
}

func (f *fakeLog) Write(_ context.Context, records ...contract.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= f.failures {
		return fmt.Errorf("broker unavailable")
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeLog) Close() error { return nil }

func (f *fakeLog) written() []contract.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contract.Record(nil), f.records...)
}

// fakeReader hands out a fixed sequence of records and tracks commits.
type fakeReader struct {
	mu      sync.Mutex
	records []contract.Record
	next    int
	commits []contract.Record
}

func (f *fakeReader) Fetch(ctx context.Context) (contract.Record, error) {
	f.mu.Lock()
	if f.next >= len(f.records) {
		f.mu.Unlock()
		// Nothing left: behave like a blocked group reader.
		<-ctx.Done()
		return contract.Record{}, ctx.Err()
	}
	record := f.records[f.next]
	f.next++
	f.mu.Unlock()
	return record, nil
}

func (f *fakeReader) Commit(_ context.Context, record contract.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, record)
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) committed() []contract.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contract.Record(nil), f.commits...)
}

type handlerFunc func(ctx context.Context, value []byte) error

func (h handlerFunc) Handle(ctx context.Context, value []byte) error { return h(ctx, value) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, Multiplier: 2}
}

func TestReliableProducer_Preserves_Publish_Order_Per_Key(t *testing.T) {
	req := require.New(t)
	log := &fakeLog{}
	producer := NewReliableProducer(testLogger(), log, fastPolicy(), 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = producer.Run(ctx)
		close(done)
	}()

	// When five events are published for the same partition key
	for i := 0; i < 5; i++ {
		producer.Publish("chat.messages", "sender-1", []byte(fmt.Sprintf("m%d", i)))
	}

	// Then they land in the log in publish order
	req.Eventually(func() bool {
		return len(log.written()) == 5
	}, time.Second, 5*time.Millisecond)

	for i, record := range log.written() {
		req.Equal("chat.messages", record.Topic)
		req.Equal("sender-1", string(record.Key))
		req.Equal(fmt.Sprintf("m%d", i), string(record.Value))
	}

	cancel()
	<-done
}

func TestReliableProducer_Retries_Transient_Failures(t *testing.T) {
	req := require.New(t)
	// Given a log that fails the first three write attempts
	log := &fakeLog{failures: 3}
	producer := NewReliableProducer(testLogger(), log, fastPolicy(), 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = producer.Run(ctx) }()

	producer.Publish("user.notifications", "user-42", []byte("payload"))

	// Then the event still lands after retries
	req.Eventually(func() bool {
		return len(log.written()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestReliableProducer_Full_Queue_Drops_Without_Blocking(t *testing.T) {
	req := require.New(t)
	log := &fakeLog{}
	var logged bytes.Buffer
	// Given a producer whose drain loop is not running and a queue of one
	producer := NewReliableProducer(slog.New(slog.NewTextHandler(&logged, nil)),
		log, fastPolicy(), 1)

	done := make(chan struct{})
	go func() {
		producer.Publish("chat.messages", "sender-1", []byte("kept"))
		producer.Publish("chat.messages", "sender-1", []byte("dropped"))
		close(done)
	}()

	// Then Publish returned immediately both times
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Publish blocked on a full queue")
	}

	// And the drop surfaced to the observability sink
	req.Contains(logged.String(), errors.ErrPublishQueueFull.Error())

	// And only the first event survives once the drain starts
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = producer.Run(ctx) }()

	req.Eventually(func() bool {
		return len(log.written()) == 1
	}, time.Second, 5*time.Millisecond)
	req.Equal("kept", string(log.written()[0].Value))
}

func TestConsumerWorker_Commits_Only_After_Handler_Success(t *testing.T) {
	req := require.New(t)
	reader := &fakeReader{records: []contract.Record{
		{Topic: "chat.messages", Key: []byte("sender-1"), Value: []byte("m0"), Partition: 0, Offset: 7},
	}}

	calls := 0
	// Given a handler failing on attempts 1-3 and succeeding on attempt 4
	handler := handlerFunc(func(ctx context.Context, value []byte) error {
		calls++
		if calls < 4 {
			return fmt.Errorf("transient failure %d", calls)
		}
		return nil
	})

	worker := NewConsumerWorker(testLogger(),
		Binding{Name: "chat-persist", Topic: "chat.messages", Group: "relay-chat", Handler: handler},
		reader, nil, fastPolicy())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	req.NoError(worker.Run(ctx))

	// Then exactly one commit happened, after the fourth attempt
	req.Equal(4, calls)
	req.Len(reader.committed(), 1)
	req.Equal(int64(7), reader.committed()[0].Offset)
}

func TestConsumerWorker_Exhausted_Retries_Leave_Record_Uncommitted(t *testing.T) {
	req := require.New(t)
	reader := &fakeReader{records: []contract.Record{
		{Topic: "chat.messages", Key: []byte("sender-1"), Value: []byte("poison")},
	}}

	calls := 0
	handler := handlerFunc(func(ctx context.Context, value []byte) error {
		calls++
		return fmt.Errorf("hard failure")
	})

	worker := NewConsumerWorker(testLogger(),
		Binding{Name: "chat-persist", Topic: "chat.messages", Group: "relay-chat", Handler: handler},
		reader, nil, fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	req.NoError(worker.Run(ctx))

	// Then all four attempts ran and the offset never advanced
	req.Equal(4, calls)
	req.Empty(reader.committed())
}

func TestConsumerWorker_Dead_Letters_And_Commits_When_Configured(t *testing.T) {
	req := require.New(t)
	reader := &fakeReader{records: []contract.Record{
		{Topic: "chat.messages", Key: []byte("sender-1"), Value: []byte("poison"), Offset: 3},
	}}
	deadLetters := &fakeLog{}

	handler := handlerFunc(func(ctx context.Context, value []byte) error {
		return fmt.Errorf("hard failure")
	})

	worker := NewConsumerWorker(testLogger(),
		Binding{
			Name: "chat-persist", Topic: "chat.messages", Group: "relay-chat",
			DeadLetterTopic: "chat.messages.dead", Handler: handler,
		},
		reader, deadLetters, fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	req.NoError(worker.Run(ctx))

	// Then the record moved to the dead-letter topic and was committed
	req.Len(deadLetters.written(), 1)
	req.Equal("chat.messages.dead", deadLetters.written()[0].Topic)
	req.Equal("poison", string(deadLetters.written()[0].Value))
	req.Len(reader.committed(), 1)
	req.Equal(int64(3), reader.committed()[0].Offset)
}

func TestConsumerWorker_Failed_Dead_Letter_Write_Keeps_Record(t *testing.T) {
	req := require.New(t)
	reader := &fakeReader{records: []contract.Record{
		{Topic: "chat.messages", Value: []byte("poison")},
	}}
	// Given a dead-letter log that never accepts writes
	deadLetters := &fakeLog{failures: 1 << 30}

	handler := handlerFunc(func(ctx context.Context, value []byte) error {
		return fmt.Errorf("hard failure")
	})

	worker := NewConsumerWorker(testLogger(),
		Binding{
			Name: "chat-persist", Topic: "chat.messages", Group: "relay-chat",
			DeadLetterTopic: "chat.messages.dead", Handler: handler,
		},
		reader, deadLetters, fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	req.NoError(worker.Run(ctx))

	// Then nothing was committed: the record stays with the broker
	req.Empty(reader.committed())
}
