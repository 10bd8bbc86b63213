package errors

import "fmt"

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrPublishQueueFull   = fmt.Errorf("publish queue is full")
	ErrRetriesExhausted   = fmt.Errorf("retries exhausted")
	ErrHandshakeRejected  = fmt.Errorf("handshake rejected")
	ErrUnknownConnection  = fmt.Errorf("unknown connection")
	ErrClientBufferFull   = fmt.Errorf("client send buffer is full")
	ErrInvalidPayload     = fmt.Errorf("invalid payload")
	ErrUnknownDestination = fmt.Errorf("unknown destination")
)
