package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide packet counter.
var Stats = &stats{}

type stats struct {
	PacketsSent  atomic.Int64 // packets handed to the channel
	PacketsRecv  atomic.Int64 // packets taken from the channel
	BytesSent    atomic.Int64 // encoded bytes handed to the channel
	BytesRecv    atomic.Int64 // raw bytes taken from the channel
	Retransmits  atomic.Int64 // DATA packets sent again after a timeout
	Duplicates   atomic.Int64 // inbound DATA suppressed as a repeat
	Malformed    atomic.Int64 // inbound packets dropped by the decoder
	InjectedLoss atomic.Int64 // outbound packets dropped by loss injection
	RetryGiveUps atomic.Int64 // transfers abandoned at the retry ceiling
}

func (s *stats) AddSent(n int) {
	s.PacketsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.PacketsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddRetransmit()   { s.Retransmits.Add(1) }
func (s *stats) AddDuplicate()    { s.Duplicates.Add(1) }
func (s *stats) AddMalformed()    { s.Malformed.Add(1) }
func (s *stats) AddInjectedLoss() { s.InjectedLoss.Add(1) }
func (s *stats) AddGiveUp()       { s.RetryGiveUps.Add(1) }

// snapshot is a point-in-time copy of the counters the reporter prints.
type snapshot struct {
	sent, recv, bytesSent, bytesRecv, retx, dup, lost int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		sent:      s.PacketsSent.Load(),
		recv:      s.PacketsRecv.Load(),
		bytesSent: s.BytesSent.Load(),
		bytesRecv: s.BytesRecv.Load(),
		retx:      s.Retransmits.Load(),
		dup:       s.Duplicates.Load(),
		lost:      s.InjectedLoss.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// reportInterval is how often StartStatsReporter looks at the counters.
const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs packet statistics every
// 10 seconds, skipping intervals without traffic. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur.sent != prev.sent || cur.recv != prev.recv {
					pterm.DefaultLogger.Info(formatStats(prev, cur))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// e.g. "99.0   B", " 1.5 KiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders the delta between two snapshots for the logger.
func formatStats(prev, cur snapshot) string {
	return fmt.Sprintf("Pkts: %3d↑ %3d↓ | Bytes: %s↑ %s↓ | Retx: %2d | Dup: %2d | Lost: %2d",
		cur.sent-prev.sent,
		cur.recv-prev.recv,
		formatBytes(float64(cur.bytesSent-prev.bytesSent)),
		formatBytes(float64(cur.bytesRecv-prev.bytesRecv)),
		cur.retx-prev.retx,
		cur.dup-prev.dup,
		cur.lost-prev.lost,
	)
}
