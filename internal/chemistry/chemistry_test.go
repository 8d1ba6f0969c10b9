package chemistry

import (
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"slices"
	"testing"

	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

func entry(s transcript.Speaker, text string, ts int64) transcript.Entry {
	return transcript.Entry{Speaker: s, Text: text, Timestamp: ts}
}

const (
	A = transcript.Local
	B = transcript.Remote
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"punctuation and short tokens", "Hello, World! 42 a I", []string{"hello", "world", "42"}},
		{"duplicates retained", "same same", []string{"same", "same"}},
		{"apostrophe splits", "don't", []string{"don"}},
		{"alphanumeric run", "a1b2 x", []string{"a1b2"}},
		{"unicode lowercase", "ÉCOLE Straße", []string{"école", "straße"}},
		{"combining mark normalized", "cafe\u0301", []string{"caf\u00e9"}},
		{"length after case mapping", "\u0130 ok", []string{"i\u0307", "ok"}},
		{"korean", "나도 좋아 ㅋ", []string{"나도", "좋아"}},
		{"only separators", "  ... !! ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.in)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Tokenize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTokens_StopsEarly(t *testing.T) {
	var got []string
	for tok := range Tokens("one two three four") {
		got = append(got, tok)
		if len(got) == 2 {
			break
		}
	}
	if !slices.Equal(got, []string{"one", "two"}) {
		t.Errorf("expected first two tokens, got %q", got)
	}
}

func TestLexicalSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "love hiking", "love hiking", 1.0},
		{"disjoint", "cats purr", "dogs bark", 0.0},
		{"empty side", "", "anything here", 0.0},
		{"only short tokens", "a b c", "love it", 0.0},
		{"shared vocabulary", "I love hiking", "I love hiking too", 0.7093},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LexicalSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("LexicalSimilarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestLexicalSimilarity_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"we went camping by the lake last summer", "the lake sounds lovely, I went camping too"},
		{"커피 좋아해요 정말", "저도 커피 좋아해요"},
		{"alpha beta beta gamma", "gamma delta alpha alpha"},
	}
	for _, p := range pairs {
		ab := LexicalSimilarity(p[0], p[1])
		ba := LexicalSimilarity(p[1], p[0])
		if ab != ba {
			t.Errorf("expected bit-identical symmetry, got %v vs %v", ab, ba)
		}
		if ab < 0 || ab > 1 {
			t.Errorf("similarity out of range: %f", ab)
		}
	}
}

func TestEmpathyRate(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  float64
	}{
		{"empty log", nil, 0},
		{"one of two hits", []string{"i agree", "the weather is cold today"}, 0.5},
		{"case insensitive", []string{"I AGREE with that"}, 1},
		{"korean phrase", []string{"맞아 그거 진짜 웃겼어", "주말에 뭐 했어"}, 0.5},
		{"no hits", []string{"the train was late", "I bought bread"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EmpathyRate(tt.texts, DefaultLexicon)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("EmpathyRate(%q) = %f, want %f", tt.texts, got, tt.want)
			}
		})
	}
}

func TestLexicon(t *testing.T) {
	lex := NewLexicon("  Nice One ", "nice one", "")
	if len(lex) != 1 || lex[0] != "nice one" {
		t.Fatalf("expected single normalized phrase, got %q", lex)
	}
	ext := lex.With("brilliant")
	if len(ext) != 2 || len(lex) != 1 {
		t.Errorf("With should return an extended copy, got %q (base %q)", ext, lex)
	}
	if !ext.Matches("That was BRILLIANT") {
		t.Error("expected case-insensitive match on extended phrase")
	}
}

func TestTurnTakingRate(t *testing.T) {
	tests := []struct {
		name     string
		speakers []transcript.Speaker
		want     float64
	}{
		{"empty", nil, 0},
		{"single", []transcript.Speaker{A}, 0},
		{"monologue", []transcript.Speaker{A, A, A}, 0},
		{"perfect alternation", []transcript.Speaker{A, B, A, B, A}, 1},
		{"half", []transcript.Speaker{A, A, B}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TurnTakingRate(tt.speakers)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("TurnTakingRate = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestResponseLatency(t *testing.T) {
	tests := []struct {
		name    string
		entries []transcript.Entry
		policy  NoDataPolicy
		score   float64
		avg     float64
		ok      bool
	}{
		{"single entry neutral", []transcript.Entry{entry(A, "hi", 0)}, NoDataNeutral, 0.5, 0, false},
		{"monologue neutral", []transcript.Entry{entry(A, "hi", 0), entry(A, "hey", 1000)}, NoDataNeutral, 0.5, 0, false},
		{"monologue zero policy", []transcript.Entry{entry(A, "hi", 0), entry(A, "hey", 1000)}, NoDataZero, 0, 0, false},
		{"ideal two seconds", []transcript.Entry{entry(A, "hi", 0), entry(B, "hey", 2000)}, NoDataNeutral, 1, 2, true},
		{"faster than ideal clamps", []transcript.Entry{entry(A, "hi", 0), entry(B, "hey", 500)}, NoDataNeutral, 1, 0.5, true},
		{"slow clamps to zero", []transcript.Entry{entry(A, "hi", 0), entry(B, "hey", 20000)}, NoDataNeutral, 0, 20, true},
		{"gaps 2s and 12s average 7s", []transcript.Entry{entry(A, "hi", 0), entry(B, "hey", 2000), entry(A, "so", 14000)}, NoDataNeutral, 0.5, 7, true},
		{"negative gap discarded", []transcript.Entry{entry(A, "hi", 5000), entry(B, "hey", 1000), entry(A, "so", 3000)}, NoDataNeutral, 1, 2, true},
		{"only negative gaps", []transcript.Entry{entry(A, "hi", 5000), entry(B, "hey", 1000)}, NoDataNeutral, 0.5, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResponseLatency(tt.entries, tt.policy)
			if math.Abs(got.Score-tt.score) > 0.001 {
				t.Errorf("score = %f, want %f", got.Score, tt.score)
			}
			if got.OK != tt.ok {
				t.Errorf("ok = %v, want %v", got.OK, tt.ok)
			}
			if tt.ok && math.Abs(got.Avg-tt.avg) > 0.001 {
				t.Errorf("avg = %f, want %f", got.Avg, tt.avg)
			}
		})
	}
}

func TestParseNoDataPolicy(t *testing.T) {
	if p, err := ParseNoDataPolicy(""); err != nil || p != NoDataNeutral {
		t.Errorf("empty should be neutral, got %v %v", p, err)
	}
	if p, err := ParseNoDataPolicy("zero"); err != nil || p != NoDataZero {
		t.Errorf("expected zero policy, got %v %v", p, err)
	}
	if _, err := ParseNoDataPolicy("half"); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("expected ErrUnknownPolicy, got %v", err)
	}
	if NoDataZero.String() != "zero" || NoDataNeutral.String() != "neutral" {
		t.Error("unexpected policy names")
	}
}

func TestScore_EmptyLog(t *testing.T) {
	got := Score(nil)
	if got.Score != 0 || got.Breakdown != (Breakdown{}) {
		t.Errorf("expected all zeros, got %+v", got)
	}
	if got.Meta.Turns != 0 || got.Meta.AvgResponseSeconds != nil {
		t.Errorf("expected empty meta, got %+v", got.Meta)
	}
}

func TestScore_SingleEntry(t *testing.T) {
	got := Score([]transcript.Entry{entry(A, "hello there", 0)})
	if got.Breakdown.TurnTaking != 0 {
		t.Errorf("expected turnTaking 0, got %d", got.Breakdown.TurnTaking)
	}
	if got.Breakdown.ResponseTime != 50 {
		t.Errorf("expected responseTime 50, got %d", got.Breakdown.ResponseTime)
	}
	if got.Breakdown.LSM != 0 {
		t.Errorf("expected lsm 0 with one speaker, got %d", got.Breakdown.LSM)
	}
	if got.Score != 13 {
		t.Errorf("expected score 13, got %d", got.Score)
	}
	if got.Meta.AvgResponseSeconds != nil {
		t.Errorf("expected undefined average, got %v", *got.Meta.AvgResponseSeconds)
	}
}

func TestScore_HikingExample(t *testing.T) {
	got := Score([]transcript.Entry{
		entry(A, "I love hiking", 0),
		entry(B, "I love hiking too", 2000),
	})
	if got.Breakdown.ResponseTime != 100 {
		t.Errorf("expected responseTime 100, got %d", got.Breakdown.ResponseTime)
	}
	if got.Breakdown.TurnTaking != 100 {
		t.Errorf("expected turnTaking 100, got %d", got.Breakdown.TurnTaking)
	}
	if got.Breakdown.LSM != 71 {
		t.Errorf("expected lsm 71, got %d", got.Breakdown.LSM)
	}
	if got.Score != 68 {
		t.Errorf("expected score 68, got %d", got.Score)
	}
	if got.Meta.AvgResponseSeconds == nil || *got.Meta.AvgResponseSeconds != 2 {
		t.Errorf("expected avg 2s, got %v", got.Meta.AvgResponseSeconds)
	}
	if got.Meta.Turns != 2 {
		t.Errorf("expected 2 turns, got %d", got.Meta.Turns)
	}
}

func TestScore_Monologue(t *testing.T) {
	got := Score([]transcript.Entry{
		entry(A, "same same", 0),
		entry(A, "same same", 1000),
	})
	if got.Breakdown.TurnTaking != 0 {
		t.Errorf("expected turnTaking 0, got %d", got.Breakdown.TurnTaking)
	}
	if got.Breakdown.ResponseTime != 50 {
		t.Errorf("expected responseTime 50, got %d", got.Breakdown.ResponseTime)
	}
	if got.Meta.Turns != 2 {
		t.Errorf("expected 2 turns, got %d", got.Meta.Turns)
	}
}

func TestScore_EmpathyExample(t *testing.T) {
	got := Score([]transcript.Entry{
		entry(A, "i agree", 0),
		entry(B, "the weather is cold today", 3000),
	})
	if got.Breakdown.Empathy != 50 {
		t.Errorf("expected empathy 50, got %d", got.Breakdown.Empathy)
	}
}

func TestScore_GapAveragingExample(t *testing.T) {
	got := Score([]transcript.Entry{
		entry(A, "hi", 0),
		entry(B, "hello", 2000),
		entry(A, "how are you", 14000),
	})
	if got.Breakdown.ResponseTime != 50 {
		t.Errorf("expected responseTime 50, got %d", got.Breakdown.ResponseTime)
	}
	if got.Meta.AvgResponseSeconds == nil || math.Abs(*got.Meta.AvgResponseSeconds-7) > 0.001 {
		t.Errorf("expected avg 7s, got %v", got.Meta.AvgResponseSeconds)
	}
}

func TestScore_PerfectAlternation(t *testing.T) {
	var entries []transcript.Entry
	for i := 0; i < 6; i++ {
		s := A
		if i%2 == 1 {
			s = B
		}
		entries = append(entries, entry(s, "talking about music", int64(i)*3000))
	}
	if got := Score(entries); got.Breakdown.TurnTaking != 100 {
		t.Errorf("expected turnTaking 100, got %d", got.Breakdown.TurnTaking)
	}
}

func TestScore_SpeakerSwapLeavesLSMUnchanged(t *testing.T) {
	entries := []transcript.Entry{
		entry(A, "we went camping by the lake", 0),
		entry(B, "oh the lake is lovely in summer", 2500),
		entry(A, "summer camping is the best", 5100),
		entry(B, "I agree, the best", 9000),
	}
	swapped := make([]transcript.Entry, len(entries))
	for i, e := range entries {
		e.Speaker = e.Speaker.Other()
		swapped[i] = e
	}
	a, b := Score(entries), Score(swapped)
	if a.Breakdown.LSM != b.Breakdown.LSM {
		t.Errorf("lsm changed under speaker swap: %d vs %d", a.Breakdown.LSM, b.Breakdown.LSM)
	}
}

func TestScore_Deterministic(t *testing.T) {
	entries := []transcript.Entry{
		entry(A, "coffee or tea?", 0),
		entry(B, "coffee, definitely. 커피 좋아해요", 1800),
		entry(A, "저도 커피 좋아해요!", 4200),
	}
	first, second := Score(entries), Score(entries)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical results, got %+v and %+v", first, second)
	}
}

func TestScore_RangeProperty(t *testing.T) {
	words := []string{"hi", "i agree", "hiking", "맞아", "tea", "wow", "later", "x", "", "music"}
	rng := rand.New(rand.NewPCG(7, 11))

	for run := 0; run < 200; run++ {
		n := rng.IntN(12)
		entries := make([]transcript.Entry, 0, n)
		for i := 0; i < n; i++ {
			s := A
			if rng.IntN(2) == 1 {
				s = B
			}
			text := words[rng.IntN(len(words))] + " " + words[rng.IntN(len(words))]
			entries = append(entries, entry(s, text, rng.Int64N(60000)))
		}
		got := Score(entries)
		for name, v := range map[string]int{
			"score":        got.Score,
			"lsm":          got.Breakdown.LSM,
			"empathy":      got.Breakdown.Empathy,
			"turnTaking":   got.Breakdown.TurnTaking,
			"responseTime": got.Breakdown.ResponseTime,
		} {
			if v < 0 || v > 100 {
				t.Fatalf("run %d: %s out of range: %d", run, name, v)
			}
		}
		if got.Meta.Turns != n {
			t.Fatalf("run %d: expected %d turns, got %d", run, n, got.Meta.Turns)
		}
	}
}

func TestScorer_TimestampOrder(t *testing.T) {
	entries := []transcript.Entry{
		entry(A, "hi there", 0),
		entry(A, "anyway", 5000),
		entry(B, "hello", 2000), // delivered late
	}

	appendOrder := NewScorer().Score(entries)
	if appendOrder.Breakdown.TurnTaking != 50 {
		t.Errorf("append order: expected turnTaking 50, got %d", appendOrder.Breakdown.TurnTaking)
	}
	if appendOrder.Breakdown.ResponseTime != 50 {
		t.Errorf("append order: expected neutral responseTime 50, got %d", appendOrder.Breakdown.ResponseTime)
	}

	sorted := NewScorer(WithTimestampOrder(true)).Score(entries)
	if sorted.Breakdown.TurnTaking != 100 {
		t.Errorf("timestamp order: expected turnTaking 100, got %d", sorted.Breakdown.TurnTaking)
	}
	if sorted.Breakdown.ResponseTime != 95 {
		t.Errorf("timestamp order: expected responseTime 95, got %d", sorted.Breakdown.ResponseTime)
	}
	if entries[2].Text != "hello" {
		t.Error("scoring must not reorder the caller's slice")
	}
}

func TestScorer_Options(t *testing.T) {
	single := []transcript.Entry{entry(A, "brilliant idea", 0)}

	zero := NewScorer(WithNoDataPolicy(NoDataZero))
	if zero.Policy() != NoDataZero {
		t.Errorf("expected zero policy, got %v", zero.Policy())
	}
	if got := zero.Score(single); got.Breakdown.ResponseTime != 0 {
		t.Errorf("expected responseTime 0 under zero policy, got %d", got.Breakdown.ResponseTime)
	}

	custom := NewScorer(WithLexicon(NewLexicon("brilliant")))
	if got := custom.Score(single); got.Breakdown.Empathy != 100 {
		t.Errorf("expected empathy 100 with custom lexicon, got %d", got.Breakdown.Empathy)
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score int
		want  Tier
	}{
		{100, TierTelepathic},
		{85, TierTelepathic},
		{84, TierInSync},
		{70, TierInSync},
		{50, TierEasygoing},
		{30, TierOffBeat},
		{29, TierChilly},
		{0, TierChilly},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%d) = %q, want %q", tt.score, got, tt.want)
		}
		if tt.want.Hint() == "" {
			t.Errorf("tier %q has no hint", tt.want)
		}
	}
	if (Result{Score: 90}).Tier() != TierTelepathic {
		t.Error("Result.Tier should use TierFor")
	}
}
