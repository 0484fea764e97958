package node

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ipv7net/mesh/pkg/logging"
)

const (
	initialBootstrapBackoff = 2 * time.Second
	maxBootstrapBackoff     = 10 * time.Minute
)

// bootstrap announces to the configured endpoints until at least one
// peer answers, backing off between rounds. It exits when the table is
// non-empty or the node stops.
func (n *Node) bootstrap(stopCh chan struct{}, endpoints []string) {
	defer n.wg.Done()

	interval := initialBootstrapBackoff
	for {
		if n.peers.Count() > 0 {
			return
		}

		if p, err := n.newAnnounce(); err == nil {
			for _, endpoint := range endpoints {
				if err := n.sendPacket(context.Background(), p, endpoint); err != nil {
					n.logger.ComponentDebug(logging.ComponentNode, "Bootstrap dial failed",
						zap.String("endpoint", endpoint), zap.Error(err))
				}
			}
		}

		timer := n.clock.Timer(addJitter(interval))
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
		interval = calculateNextBackoff(interval)
	}
}

// calculateNextBackoff computes the next backoff interval.
func calculateNextBackoff(currentInterval time.Duration) time.Duration {
	nextInterval := time.Duration(float64(currentInterval) * 1.5)
	if nextInterval > maxBootstrapBackoff {
		nextInterval = maxBootstrapBackoff
	}
	return nextInterval
}

// addJitter adds randomization to prevent thundering herd.
func addJitter(interval time.Duration) time.Duration {
	jitterRange := float64(interval) * 0.2
	jitter := (rand.Float64() - 0.5) * 2 * jitterRange

	result := time.Duration(float64(interval) + jitter)
	if result < time.Second {
		result = time.Second
	}
	return result
}
