package channel

import (
	"math/rand/v2"

	"github.com/1ureka/fsmlink/internal/util"
)

// Lossy wraps a Channel and silently drops outbound packets with a fixed
// probability, standing in for a lossy link.
type Lossy struct {
	Channel
	rate int
	rng  *rand.Rand
}

// NewLossy drops lossRate percent of the packets sent through ch. The rate is
// clamped to 0..100. A nil rng uses a randomly seeded source.
func NewLossy(ch Channel, lossRate int, rng *rand.Rand) *Lossy {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Lossy{Channel: ch, rate: ClampRate(lossRate), rng: rng}
}

// Send forwards data unless the loss roll says otherwise. A dropped packet is
// reported as sent.
func (l *Lossy) Send(data []byte) error {
	if Drop(l.rng, l.rate) {
		util.Stats.AddInjectedLoss()
		util.LogDebug("loss injected (%d bytes)", len(data))
		return nil
	}
	return l.Channel.Send(data)
}

// Drop rolls a percentage die: it reports true with probability rate/100.
func Drop(rng *rand.Rand, rate int) bool {
	return rate > 0 && rng.IntN(100) < rate
}

// ClampRate limits a percentage to 0..100.
func ClampRate(rate int) int {
	return min(max(rate, 0), 100)
}
