package analysis

import "math"

// maxComments caps how many scraped comments are classified per request.
const maxComments = 50

// maxTopComments caps how many classified comments the stored report keeps.
const maxTopComments = 10

// CommentSentiment is one classified comment as it appears in a report.
type CommentSentiment struct {
	Text       string  `json:"text"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// DistributionEntry is one slice of the sentiment breakdown, as a
// percentage of all classified comments.
type DistributionEntry struct {
	Sentiment string  `json:"sentiment"`
	Value     float64 `json:"value"`
}

// Distribution computes the Positive/Negative/Neutral percentage split.
// Each percentage is rounded to 2 decimals independently, so the three
// values may not sum to exactly 100 — accepted drift, not a defect.
func Distribution(positive, negative, neutral, total int) []DistributionEntry {
	return []DistributionEntry{
		{Sentiment: "Positive", Value: percent(positive, total)},
		{Sentiment: "Negative", Value: percent(negative, total)},
		{Sentiment: "Neutral", Value: percent(neutral, total)},
	}
}

func percent(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(count) / float64(total) * 100)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
