package broker

import (
	"context"
	"errors"
	"log/slog"

	"relay-lab/contract"
	"relay-lab/retry"
)

var _ contract.Worker = (*ConsumerWorker)(nil)

// Binding registers a named handler against a topic and consumer group.
// All bindings are assembled in one table at startup so every
// subscription in the system is visible in a single place.
type Binding struct {
	Name  string
	Topic string
	Group string

	// DeadLetterTopic, when non-empty, receives records whose handler
	// exhausted local retries; the record is then committed. When empty,
	// an exhausted record is left uncommitted and the broker's own
	// redelivery policy takes over.
	DeadLetterTopic string

	Handler contract.RecordHandler
}

// ConsumerWorker drives one binding: fetch a record, run the side effect
// under the retry policy, commit only once the side effect succeeded.
// Records are processed one at a time, so partition-local order is
// preserved end to end.
type ConsumerWorker struct {
	log         *slog.Logger
	binding     Binding
	reader      contract.LogReader
	deadLetters contract.LogWriter
	policy      retry.Policy
}

func NewConsumerWorker(log *slog.Logger, binding Binding,
	reader contract.LogReader, deadLetters contract.LogWriter,
	policy retry.Policy) *ConsumerWorker {
	return &ConsumerWorker{
		log:         log.With("binding", binding.Name, "topic", binding.Topic, "group", binding.Group),
		binding:     binding,
		reader:      reader,
		deadLetters: deadLetters,
		policy:      policy,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	for {
		record, err := w.reader.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				w.log.Debug("Context done, stopping consumer")
				return nil
			}
			// Let the supervisor restart the fetch loop.
			return err
		}

		w.process(ctx, record)
	}
}

// process runs the handler chain for one record. Local retries absorb
// transient errors; this layer does not distinguish a poison record from
// a transient failure, so without a dead-letter topic a permanently
// failing record will be redelivered indefinitely.
func (w *ConsumerWorker) process(ctx context.Context, record contract.Record) {
	err := w.policy.Do(ctx, func(ctx context.Context) error {
		return w.binding.Handler.Handle(ctx, record.Value)
	})
	if err == nil {
		w.commit(ctx, record)
		return
	}
	if ctx.Err() != nil {
		return
	}

	if w.binding.DeadLetterTopic != "" && w.deadLetters != nil {
		w.deadLetter(ctx, record, err)
		return
	}

	// Left uncommitted on purpose: the broker redelivers it after a
	// rebalance or timeout.
	w.log.Error("Handler exhausted retries, leaving record uncommitted",
		"partition", record.Partition, "offset", record.Offset, "error", err)
}

func (w *ConsumerWorker) deadLetter(ctx context.Context, record contract.Record, cause error) {
	deadRecord := contract.Record{
		Topic: w.binding.DeadLetterTopic,
		Key:   record.Key,
		Value: record.Value,
	}
	if err := w.deadLetters.Write(ctx, deadRecord); err != nil {
		// The dead-letter write itself failed: keep the record
		// uncommitted so nothing is lost.
		w.log.Error("Dead-letter write failed, leaving record uncommitted",
			"partition", record.Partition, "offset", record.Offset, "error", err)
		return
	}
	w.log.Warn("Record dead-lettered",
		"dead_letter_topic", w.binding.DeadLetterTopic,
		"partition", record.Partition, "offset", record.Offset, "cause", cause)
	w.commit(ctx, record)
}

func (w *ConsumerWorker) commit(ctx context.Context, record contract.Record) {
	if err := w.reader.Commit(ctx, record); err != nil {
		// At-least-once: a failed commit means the record may be seen
		// again, never that it is lost.
		w.log.Warn("Commit failed, record may be redelivered",
			"partition", record.Partition, "offset", record.Offset, "error", err)
	}
}
