//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Record is one unit read from or written to the durable log.
// Partition and Offset are only meaningful on the consuming side.
type Record struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
}

// LogWriter appends records to the durable log.
// Implemented by the kafka adapter; tests substitute an in-memory fake.
type LogWriter interface {
	Write(ctx context.Context, records ...Record) error
	Close() error
}

// LogReader consumes records as part of a consumer group.
// Fetch blocks until a record is available or ctx is done.
// A record is redelivered by the broker until Commit is called for it.
type LogReader interface {
	Fetch(ctx context.Context) (Record, error)
	Commit(ctx context.Context, record Record) error
	Close() error
}

// Producer publishes an event without blocking the caller.
// The outcome is reported asynchronously; callers must not assume delivery.
type Producer interface {
	Publish(topic, partitionKey string, payload []byte)
}

// RecordHandler is the business side effect invoked for each consumed record.
type RecordHandler interface {
	Handle(ctx context.Context, value []byte) error
}

// SessionRegistry maps live connections to the users they authenticate as.
// Shared across all nodes so delivery never requires sticky routing.
// Resolve returning an empty slice is a valid state: the user is simply
// unreachable for realtime delivery right now.
type SessionRegistry interface {
	Put(ctx context.Context, connectionID, userID string) error
	Remove(ctx context.Context, connectionID string) error
	Resolve(ctx context.Context, userID string) ([]string, error)
}

// Transport pushes a payload to one live connection owned by this node.
type Transport interface {
	Send(connectionID string, payload []byte) error
}
