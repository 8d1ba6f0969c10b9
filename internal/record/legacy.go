package record

import (
	"fmt"
	"math"
	"time"

	"github.com/MikeSquared-Agency/aboutnine/internal/chemistry"
)

// legacyV0 is the unversioned result written by the first client. Scores
// are either fractions in [0,1] or percentages.
type legacyV0 struct {
	Chemistry *float64 `json:"chemistry"`
	LSM       *float64 `json:"lsm"`
	RT        *float64 `json:"rt"`
	Empathy   *float64 `json:"empathy"`
	Turns     *int     `json:"turns"`
	AvgRTSec  *float64 `json:"avg_rt_sec"`
}

func decodeV0(data []byte) (Record, error) {
	var old legacyV0
	if err := strictUnmarshal(data, &old); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnknownSchema, err)
	}
	if old.Chemistry == nil {
		return Record{}, fmt.Errorf("%w: no version and no chemistry field", ErrUnknownSchema)
	}
	return migrateV0(old, time.Now().UTC())
}

func migrateV0(old legacyV0, at time.Time) (Record, error) {
	res := chemistry.Result{
		Score: toPct(old.Chemistry),
		Breakdown: chemistry.Breakdown{
			LSM:          toPct(old.LSM),
			Empathy:      toPct(old.Empathy),
			ResponseTime: toPct(old.RT),
		},
	}
	if old.Turns != nil {
		if *old.Turns < 0 {
			return Record{}, fmt.Errorf("%w: negative turns", ErrInvalidRecord)
		}
		res.Meta.Turns = *old.Turns
	}
	if avg := old.AvgRTSec; avg != nil && *avg >= 0 {
		v := *avg
		res.Meta.AvgResponseSeconds = &v
	}

	r := newAt("", res, at)
	from := 0
	r.MigratedFrom = &from
	return r, nil
}

// toPct reads a legacy score: values up to 1 are fractions, larger values
// are already percentages.
func toPct(v *float64) int {
	if v == nil || math.IsNaN(*v) {
		return 0
	}
	pct := *v
	if pct <= 1 {
		pct *= 100
	}
	return int(math.Round(math.Max(0, math.Min(100, pct))))
}
