package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"relay-lab/contract"

	"github.com/shirou/gopsutil/process"
)

var _ contract.Worker = (*HeartbeatWorker)(nil)

// ConnectionCounter reports how many live connections this node owns.
type ConnectionCounter interface {
	ConnectionCount() int
}

// HeartbeatWorker periodically logs node health (CPU, RSS, live
// connections) so a fleet operator can spot a node that stopped
// accepting or draining connections.
type HeartbeatWorker struct {
	log         *slog.Logger
	nodeID      string
	connections ConnectionCounter
	interval    time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, nodeID string,
	connections ConnectionCounter, interval time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{log: log, nodeID: nodeID, connections: connections, interval: interval}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "node_id", w.nodeID)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.log.Info("Node heartbeat",
				"node_id", w.nodeID,
				"pid", os.Getpid(),
				"cpu_percent", cpu,
				"ram_bytes", rss,
				"live_connections", w.connections.ConnectionCount(),
			)
		}
	}
}

// selfStats retrieves technical metrics (Memory and CPU) for the given process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
