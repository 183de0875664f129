package core

import "github.com/pxl-research/tai-mcp-memory/pkg/summarizer"

// Tier is a size-based summarization strategy, chosen automatically at
// store and update time from the content length.
type Tier string

const (
	// TierDirectTiny stores the content itself as the summary. No LLM
	// call is made.
	TierDirectTiny Tier = "direct_tiny"

	// TierExtractiveShort produces a short extractive summary.
	TierExtractiveShort Tier = "extractive_short"

	// TierAbstractiveMedium produces a medium abstractive summary.
	TierAbstractiveMedium Tier = "abstractive_medium"
)

// Default thresholds for tier selection, in characters.
const (
	DefaultTinyThreshold  = 500
	DefaultSmallThreshold = 2000
)

// SelectTier maps a content size to a summarization tier.
//
// Sizes below tiny select TierDirectTiny; sizes in [tiny, small) select
// TierExtractiveShort; sizes at or above small select TierAbstractiveMedium.
// Tiny content skips the LLM entirely, and very long content pays for full
// abstractive synthesis only when its length justifies it.
func SelectTier(contentSize, tiny, small int) Tier {
	switch {
	case contentSize < tiny:
		return TierDirectTiny
	case contentSize < small:
		return TierExtractiveShort
	default:
		return TierAbstractiveMedium
	}
}

// Params returns the generation style and length for a tier. ok is false
// for TierDirectTiny, which makes no generation call.
func (t Tier) Params() (style summarizer.Style, length summarizer.Length, ok bool) {
	switch t {
	case TierExtractiveShort:
		return summarizer.StyleExtractive, summarizer.LengthShort, true
	case TierAbstractiveMedium:
		return summarizer.StyleAbstractive, summarizer.LengthMedium, true
	default:
		return "", "", false
	}
}
