package trinity

import "strings"

// Tier is the complexity class assigned at request entry. It scales the
// invocation budget, watchdog deadline, and admission cap, and is immutable
// for the lifetime of a request.
type Tier string

// Tiers in ascending order of effort.
const (
	TierSimple   Tier = "simple"
	TierComplex  Tier = "complex"
	TierCritical Tier = "critical"
)

// rank orders tiers for escalation comparisons.
func (t Tier) rank() int {
	switch t {
	case TierComplex:
		return 1
	case TierCritical:
		return 2
	default:
		return 0
	}
}

// Next returns the next tier up. Critical is a fixed point.
func (t Tier) Next() Tier {
	switch t {
	case TierSimple:
		return TierComplex
	default:
		return TierCritical
	}
}

// forbiddenPhrases are prompt-injection attempts at tier elevation. Any match
// pins the request to the simple tier.
var forbiddenPhrases = []string{
	"set tier to",
	"override reasoning",
	"treat as critical",
}

// tierKeywords are lexical signals of architectural or security depth.
var tierKeywords = []string{
	"audit",
	"architecture",
	"failure mode",
	"threat",
	"infrastructure",
	"security",
	"concurrency",
	"downgrade detection",
	"watchdog",
	"multi-tenant",
}

// Length and keyword-hit thresholds for the classifier.
const (
	criticalLengthThreshold = 500
	complexLengthThreshold  = 300
	criticalKeywordHits     = 2
)

// Classification is the outcome of tier detection.
type Classification struct {
	Tier            Tier
	Length          int
	KeywordHits     int
	ForbiddenPhrase string // non-empty when the guard fired
}

// Classify maps a prompt to a tier using length and lexical signals.
// Deterministic and whitespace-insensitive: the prompt is lowercased and
// whitespace runs are collapsed before any check.
func Classify(prompt string) Classification {
	normalized := strings.Join(strings.Fields(strings.ToLower(prompt)), " ")

	for _, phrase := range forbiddenPhrases {
		if strings.Contains(normalized, phrase) {
			return Classification{Tier: TierSimple, Length: len(normalized), ForbiddenPhrase: phrase}
		}
	}

	hits := 0
	for _, kw := range tierKeywords {
		hits += strings.Count(normalized, kw)
	}

	c := Classification{Length: len(normalized), KeywordHits: hits}
	switch {
	case len(normalized) >= criticalLengthThreshold && hits >= criticalKeywordHits:
		c.Tier = TierCritical
	case len(normalized) >= complexLengthThreshold || hits >= 1:
		c.Tier = TierComplex
	default:
		c.Tier = TierSimple
	}
	return c
}
