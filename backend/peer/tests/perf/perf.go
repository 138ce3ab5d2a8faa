//go:build performance
// +build performance

package perf

import (
	"testing"
	"time"
	"ydoc-node/backend/peer"
	"ydoc-node/backend/peer/impl"
	"ydoc-node/backend/transport"
	"ydoc-node/backend/transport/channel"
)

var peerFac peer.Factory = impl.NewPeer

var channelFac transport.Factory = channel.NewTransport

type speedThresholds struct {
	name  string
	limit time.Duration
}

type allocThresholds struct {
	name   string
	allocs int64
	bytes  int64
}

// assessSpeed logs the first threshold the benchmark stays under, and
// fails when it is slower than all of them.
func assessSpeed(t *testing.T, res testing.BenchmarkResult, thresholds []speedThresholds) {
	elapsed := time.Duration(res.NsPerOp())
	for _, th := range thresholds {
		if elapsed < th.limit {
			t.Logf("%s: %s < %s", th.name, elapsed, th.limit)
			return
		}
	}
	t.Errorf("too slow: %s per run", elapsed)
}

// assessAllocs does the same for allocations per run.
func assessAllocs(t *testing.T, res testing.BenchmarkResult, thresholds []allocThresholds) {
	allocs, bytes := res.AllocsPerOp(), res.AllocedBytesPerOp()
	for _, th := range thresholds {
		if allocs < th.allocs && bytes < th.bytes {
			t.Logf("%s: %d allocs, %d bytes", th.name, allocs, bytes)
			return
		}
	}
	t.Errorf("too many allocations: %d allocs, %d bytes per run", allocs, bytes)
}
