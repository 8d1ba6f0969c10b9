package chemistry

import "github.com/MikeSquared-Agency/aboutnine/internal/transcript"

// TurnTakingRate is the fraction of adjacent utterance pairs, in log order,
// where the speaker changes. Fewer than two utterances score 0.
func TurnTakingRate(speakers []transcript.Speaker) float64 {
	if len(speakers) < 2 {
		return 0
	}
	switches := 0
	for i := 1; i < len(speakers); i++ {
		if speakers[i] != speakers[i-1] {
			switches++
		}
	}
	return clamp01(float64(switches) / float64(len(speakers)-1))
}
