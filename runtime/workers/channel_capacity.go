package workers

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"relay-lab/contract"
)

var _ contract.Worker = (*ChannelCapacityWorker)(nil)

type NamedChannel struct {
	Name    string
	Channel any
}

// ChannelCapacityWorker periodically reports the current channel capacity and length.
// Reading len(channel) and cap(channel) is non-blocking, so this won't interfere
// with other goroutines. A queue persistently close to capacity means the
// bounded backpressure limits are being hit.
type ChannelCapacityWorker struct {
	log                  *slog.Logger
	channels             []NamedChannel
	metricInterval       time.Duration
	lowCapacityThreshold int
}

func NewChannelCapacityWorker(log *slog.Logger, channels []NamedChannel,
	metricInterval time.Duration, lowCapacityThreshold int) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{
		log:                  log,
		channels:             channels,
		metricInterval:       metricInterval,
		lowCapacityThreshold: lowCapacityThreshold,
	}
}

func (w ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping capacity sampling")
			return nil
		case <-ticker.C:
			for _, nc := range w.channels {
				v := reflect.ValueOf(nc.Channel)
				// Verify if this is a channel
				if v.Kind() != reflect.Chan {
					w.log.Error("Provided object is not a channel", "name", nc.Name)
					continue
				}
				capacity := v.Cap()
				length := v.Len()
				w.log.Debug("Channel usage",
					"name", nc.Name, "length", length, "capacity", capacity)
				if capacity > 0 && capacity-length <= w.lowCapacityThreshold {
					w.log.Warn("Channel close to capacity, backpressure imminent",
						"name", nc.Name, "length", length, "capacity", capacity)
				}
			}
		}
	}
}
