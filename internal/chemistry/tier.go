package chemistry

// Tier is a coarse label for a composite score.
type Tier string

const (
	TierTelepathic Tier = "telepathic"
	TierInSync     Tier = "in-sync"
	TierEasygoing  Tier = "easygoing"
	TierOffBeat    Tier = "off-beat"
	TierChilly     Tier = "chilly"
)

// TierFor maps a 0–100 score to its tier.
func TierFor(score int) Tier {
	switch {
	case score >= 85:
		return TierTelepathic
	case score >= 70:
		return TierInSync
	case score >= 50:
		return TierEasygoing
	case score >= 30:
		return TierOffBeat
	default:
		return TierChilly
	}
}

// Hint is the one-line caption shown next to the score.
func (t Tier) Hint() string {
	switch t {
	case TierTelepathic:
		return "🔥 Practically telepathic"
	case TierInSync:
		return "✨ You two really click"
	case TierEasygoing:
		return "🙂 Easygoing"
	case TierOffBeat:
		return "🌫️ A little off-beat"
	default:
		return "🧊 The air is still chilly"
	}
}
