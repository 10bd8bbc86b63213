package broker

import (
	"context"
	"log/slog"

	"relay-lab/contract"
	"relay-lab/domain/event"
	"relay-lab/errors"
	"relay-lab/retry"
)

var (
	_ contract.Producer = (*ReliableProducer)(nil)
	_ contract.Worker   = (*ReliableProducer)(nil)
)

// ReliableProducer publishes events to the durable log without ever
// blocking the calling business path. Publish enqueues onto a bounded
// queue; a single drain goroutine (Run) writes in enqueue order, which
// preserves per-key publish order for this producer instance.
//
// Transient write failures are retried with bounded backoff. Exhausted
// retries are logged and the event is abandoned: publish is fire and
// forget from the caller's perspective, the triggering operation is
// never rolled back.
type ReliableProducer struct {
	log    *slog.Logger
	writer contract.LogWriter
	policy retry.Policy
	queue  chan event.Envelope
}

func NewReliableProducer(log *slog.Logger, writer contract.LogWriter,
	policy retry.Policy, queueSize int) *ReliableProducer {
	return &ReliableProducer{
		log:    log,
		writer: writer,
		policy: policy,
		queue:  make(chan event.Envelope, queueSize),
	}
}

// Publish enqueues and returns immediately. A full queue drops the event
// with a warning rather than blocking or growing unboundedly.
func (p *ReliableProducer) Publish(topic, partitionKey string, payload []byte) {
	envelope := event.Envelope{Topic: topic, PartitionKey: partitionKey, Payload: payload}
	select {
	case p.queue <- envelope:
	default:
		p.log.Warn("Dropping event",
			"topic", topic, "partition_key", partitionKey,
			"error", errors.ErrPublishQueueFull)
	}
}

func (p *ReliableProducer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.log.Debug("Context done, stopping producer drain")
			return nil
		case envelope := <-p.queue:
			p.write(ctx, envelope)
		}
	}
}

func (p *ReliableProducer) write(ctx context.Context, envelope event.Envelope) {
	record := contract.Record{
		Topic: envelope.Topic,
		Key:   []byte(envelope.PartitionKey),
		Value: envelope.Payload,
	}

	err := p.policy.Do(ctx, func(ctx context.Context) error {
		return p.writer.Write(ctx, record)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Surfaced to observability only, never to the original caller.
		p.log.Error("Publish abandoned after retries",
			"topic", envelope.Topic, "partition_key", envelope.PartitionKey, "error", err)
		return
	}
	p.log.Debug("Event published",
		"topic", envelope.Topic, "partition_key", envelope.PartitionKey)
}
