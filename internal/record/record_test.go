package record

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/aboutnine/internal/chemistry"
)

func sampleResult() chemistry.Result {
	avg := 2.0
	return chemistry.Result{
		Score:     68,
		Breakdown: chemistry.Breakdown{LSM: 71, Empathy: 0, TurnTaking: 100, ResponseTime: 100},
		Meta:      chemistry.Meta{Turns: 2, AvgResponseSeconds: &avg},
	}
}

func TestNew(t *testing.T) {
	r := New("sess-1", sampleResult())

	if r.Version != Version {
		t.Errorf("expected version %d, got %d", Version, r.Version)
	}
	if r.ID == "" || r.SessionID != "sess-1" {
		t.Errorf("unexpected ids %+v", r)
	}
	if r.Tier != chemistry.TierEasygoing || r.Hint != chemistry.TierEasygoing.Hint() {
		t.Errorf("expected easygoing tier, got %q %q", r.Tier, r.Hint)
	}
	if r.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
	if r.MigratedFrom != nil {
		t.Error("fresh record should not be marked migrated")
	}
	if err := r.Validate(); err != nil {
		t.Errorf("fresh record invalid: %v", err)
	}
}

func TestEncodeDecodeV1(t *testing.T) {
	orig := New("sess-1", sampleResult())
	data, err := Encode(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != orig.ID || got.Score != orig.Score || got.Breakdown != orig.Breakdown {
		t.Errorf("decoded record differs: %+v vs %+v", got, orig)
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) {
		t.Errorf("created_at differs: %v vs %v", got.CreatedAt, orig.CreatedAt)
	}
	if got.Meta.AvgResponseSeconds == nil || *got.Meta.AvgResponseSeconds != 2 {
		t.Errorf("expected avg 2, got %v", got.Meta.AvgResponseSeconds)
	}
}

func TestEncode_NullAverage(t *testing.T) {
	r := New("s", chemistry.Result{Meta: chemistry.Meta{Turns: 1}})
	data, err := Encode(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(data), `"avgResponseSeconds":null`) {
		t.Errorf("expected null average in %s", data)
	}
	if strings.Contains(string(data), "migrated_from") {
		t.Errorf("unexpected migrated_from in %s", data)
	}
}

func TestDecodeRejects(t *testing.T) {
	valid := New("s", sampleResult())
	mutate := func(fn func(m map[string]any)) string {
		data, _ := Encode(valid)
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		fn(m)
		out, _ := json.Marshal(m)
		return string(out)
	}

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"not json", `{oops`, ErrUnknownSchema},
		{"array", `[1,2]`, ErrUnknownSchema},
		{"future version", `{"version":2,"score":50}`, ErrUnsupportedVersion},
		{"string version", `{"version":"1"}`, ErrUnsupportedVersion},
		{"v1 unknown field", mutate(func(m map[string]any) { m["lsm_score"] = 10 }), ErrUnknownSchema},
		{"v1 score out of range", mutate(func(m map[string]any) { m["score"] = 140 }), ErrInvalidRecord},
		{"v1 tier mismatch", mutate(func(m map[string]any) { m["tier"] = "telepathic" }), ErrInvalidRecord},
		{"v1 missing id", mutate(func(m map[string]any) { delete(m, "id") }), ErrInvalidRecord},
		{"unversioned alternate keys", `{"chemistry":70,"lsm_score":50}`, ErrUnknownSchema},
		{"unversioned without chemistry", `{"lsm":50,"rt":40}`, ErrUnknownSchema},
		{"empty object", `{}`, ErrUnknownSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDecodeMigratesV0(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantScore int
		wantLSM   int
		wantRT    int
		wantEmp   int
		wantTurns int
		wantAvg   *float64
	}{
		{
			name:      "percentages",
			input:     `{"chemistry":78,"lsm":62,"rt":71,"empathy":80,"turns":18,"avg_rt_sec":6.4}`,
			wantScore: 78, wantLSM: 62, wantRT: 71, wantEmp: 80, wantTurns: 18,
			wantAvg: ptr(6.4),
		},
		{
			name:      "fractions",
			input:     `{"chemistry":0.78,"lsm":0.62,"rt":0.71,"empathy":0.8,"turns":18}`,
			wantScore: 78, wantLSM: 62, wantRT: 71, wantEmp: 80, wantTurns: 18,
		},
		{
			name:      "only chemistry",
			input:     `{"chemistry":0.3}`,
			wantScore: 30,
		},
		{
			name:      "clamped",
			input:     `{"chemistry":250,"lsm":-4}`,
			wantScore: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if r.Version != Version || r.MigratedFrom == nil || *r.MigratedFrom != 0 {
				t.Errorf("expected migrated v1 record, got version %d migrated %v", r.Version, r.MigratedFrom)
			}
			if r.Score != tt.wantScore {
				t.Errorf("score: expected %d, got %d", tt.wantScore, r.Score)
			}
			b := r.Breakdown
			if b.LSM != tt.wantLSM || b.ResponseTime != tt.wantRT || b.Empathy != tt.wantEmp || b.TurnTaking != 0 {
				t.Errorf("unexpected breakdown %+v", b)
			}
			if r.Meta.Turns != tt.wantTurns {
				t.Errorf("turns: expected %d, got %d", tt.wantTurns, r.Meta.Turns)
			}
			switch {
			case tt.wantAvg == nil && r.Meta.AvgResponseSeconds != nil:
				t.Errorf("expected nil average, got %v", *r.Meta.AvgResponseSeconds)
			case tt.wantAvg != nil && (r.Meta.AvgResponseSeconds == nil || math.Abs(*r.Meta.AvgResponseSeconds-*tt.wantAvg) > 1e-9):
				t.Errorf("expected average %v, got %v", *tt.wantAvg, r.Meta.AvgResponseSeconds)
			}
			if r.Tier != chemistry.TierFor(r.Score) {
				t.Errorf("tier %q does not match score %d", r.Tier, r.Score)
			}
			if err := r.Validate(); err != nil {
				t.Errorf("migrated record invalid: %v", err)
			}
		})
	}
}

func TestMigratedRecordRoundTrips(t *testing.T) {
	r, err := migrateV0(legacyV0{Chemistry: ptr(0.5)}, time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	data, err := Encode(r)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := Decode(data)
	if err != nil {
		t.Fatalf("decode migrated record: %v", err)
	}
	if again.MigratedFrom == nil || *again.MigratedFrom != 0 {
		t.Error("expected migrated_from to survive a round trip")
	}
}

func ptr(v float64) *float64 { return &v }
