package chemistry

import (
	"errors"
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

var ErrUnknownPolicy = errors.New("chemistry: unknown no-data policy")

// Latency curve: an average reply of idealLatency scores 1 and the score
// falls linearly to 0 over latencySpan seconds.
const (
	idealLatency = 2.0
	latencySpan  = 10.0
)

// NoDataPolicy decides the latency score when no speaker switch was
// observed.
type NoDataPolicy int

const (
	// NoDataNeutral scores missing latency data as 0.5 so that "no data" is
	// not read as "slow replies".
	NoDataNeutral NoDataPolicy = iota
	// NoDataZero scores missing latency data as 0.
	NoDataZero
)

func (p NoDataPolicy) Default() float64 {
	if p == NoDataZero {
		return 0
	}
	return 0.5
}

func (p NoDataPolicy) String() string {
	if p == NoDataZero {
		return "zero"
	}
	return "neutral"
}

// ParseNoDataPolicy accepts "neutral" (or empty) and "zero".
func ParseNoDataPolicy(s string) (NoDataPolicy, error) {
	switch s {
	case "", "neutral":
		return NoDataNeutral, nil
	case "zero":
		return NoDataZero, nil
	default:
		return NoDataNeutral, fmt.Errorf("%w %q (want neutral or zero)", ErrUnknownPolicy, s)
	}
}

// Latency is the outcome of response-latency analysis.
type Latency struct {
	Score float64
	Avg   float64 // mean gap in seconds; meaningful only when OK
	Gaps  int
	OK    bool
}

// ResponseLatency averages the gaps between adjacent utterances where the
// speaker changes and maps the average through the latency curve. Negative
// or non-finite gaps (clock skew between capture sources) are discarded.
func ResponseLatency(entries []transcript.Entry, policy NoDataPolicy) Latency {
	var sum float64
	gaps := 0
	for i := 1; i < len(entries); i++ {
		if entries[i].Speaker == entries[i-1].Speaker {
			continue
		}
		gap := float64(entries[i].Timestamp-entries[i-1].Timestamp) / 1000
		if gap < 0 || math.IsNaN(gap) || math.IsInf(gap, 0) {
			continue
		}
		sum += gap
		gaps++
	}
	if gaps == 0 {
		return Latency{Score: policy.Default()}
	}
	avg := sum / float64(gaps)
	return Latency{
		Score: clamp01(1 - (avg-idealLatency)/latencySpan),
		Avg:   avg,
		Gaps:  gaps,
		OK:    true,
	}
}
