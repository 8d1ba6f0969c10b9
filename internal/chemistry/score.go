// Package chemistry scores a completed two-party conversation.
//
// The score is the mean of four independent estimators: lexical similarity
// between the speakers' vocabularies (LSM), density of empathetic phrases,
// turn-taking balance and response latency. Every estimator is total:
// degenerate input maps to a documented floor or default, never an error.
package chemistry

import (
	"math"
	"strings"

	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

// Breakdown holds each sub-score as an integer percentage.
type Breakdown struct {
	LSM          int `json:"lsm"`
	Empathy      int `json:"empathy"`
	TurnTaking   int `json:"turnTaking"`
	ResponseTime int `json:"responseTime"`
}

// Meta describes the scored conversation. AvgResponseSeconds is nil when no
// speaker switch was observed.
type Meta struct {
	Turns              int      `json:"turns"`
	AvgResponseSeconds *float64 `json:"avgResponseSeconds"`
}

// Result is the output of one scoring run.
type Result struct {
	Score     int       `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
	Meta      Meta      `json:"meta"`
}

// Tier classifies the composite score.
func (r Result) Tier() Tier {
	return TierFor(r.Score)
}

// Scorer runs the four estimators over a conversation log.
type Scorer struct {
	policy         NoDataPolicy
	lexicon        Lexicon
	timestampOrder bool
}

type Option func(*Scorer)

// WithNoDataPolicy sets the latency score used when no speaker switch exists.
func WithNoDataPolicy(p NoDataPolicy) Option {
	return func(s *Scorer) { s.policy = p }
}

// WithLexicon replaces the empathy lexicon.
func WithLexicon(l Lexicon) Option {
	return func(s *Scorer) { s.lexicon = l }
}

// WithTimestampOrder sorts the log by timestamp before scoring. By default
// the log is scored in append order.
func WithTimestampOrder(enabled bool) Option {
	return func(s *Scorer) { s.timestampOrder = enabled }
}

func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		policy:  NoDataNeutral,
		lexicon: DefaultLexicon,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy returns the configured no-data latency policy.
func (s *Scorer) Policy() NoDataPolicy {
	return s.policy
}

var defaultScorer = NewScorer()

// Score scores entries with the default options.
func Score(entries []transcript.Entry) Result {
	return defaultScorer.Score(entries)
}

// Score computes the chemistry result for a completed log. It does not
// modify entries.
func (s *Scorer) Score(entries []transcript.Entry) Result {
	if s.timestampOrder {
		entries = transcript.SortByTimestamp(entries)
	}

	res := Result{Meta: Meta{Turns: len(entries)}}
	if len(entries) == 0 {
		return res
	}

	local, remote := speakerDocuments(entries)
	lsm := LexicalSimilarity(local, remote)
	empathy := EmpathyRate(transcript.Texts(entries), s.lexicon)
	turns := TurnTakingRate(transcript.Speakers(entries))
	latency := ResponseLatency(entries, s.policy)

	raw := (lsm + empathy + turns + latency.Score) / 4
	res.Score = percent(raw)
	res.Breakdown = Breakdown{
		LSM:          percent(lsm),
		Empathy:      percent(empathy),
		TurnTaking:   percent(turns),
		ResponseTime: percent(latency.Score),
	}
	if latency.OK {
		avg := latency.Avg
		res.Meta.AvgResponseSeconds = &avg
	}
	return res
}

// speakerDocuments concatenates each speaker's utterances in log order.
func speakerDocuments(entries []transcript.Entry) (local, remote string) {
	var lb, rb strings.Builder
	for _, e := range entries {
		b := &lb
		if e.Speaker == transcript.Remote {
			b = &rb
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.Text)
	}
	return lb.String(), rb.String()
}

func percent(x float64) int {
	return int(math.Round(clamp01(x) * 100))
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
