package digest

// Tier is the content-quality level a digest was produced at. Tiers only ever
// descend within one cycle: AI is attempted first, TEMPLATED when the AI
// collaborator is exhausted or rejected, RAW when there is nothing to group.
type Tier int

const (
	TierAI Tier = iota
	TierTemplated
	TierRaw
)

func (t Tier) String() string {
	switch t {
	case TierAI:
		return "ai"
	case TierTemplated:
		return "templated"
	case TierRaw:
		return "raw"
	default:
		return "unknown"
	}
}
