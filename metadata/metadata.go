package metadata

import (
	"context"
	"errors"
	"strconv"
)

// Sentinel values reported when the extractor cannot supply a field.
const (
	NoTitle       = "No title found"
	NoAuthor      = "No author found"
	NoDescription = "No description found"
	NoViews       = "No view count found"
	NoLikes       = "No like count found"
	NoSubscribers = "No subscribers found"
	NoCategory    = "General"
)

// ErrProviderUnavailable indicates the metadata provider is not configured.
var ErrProviderUnavailable = errors.New("metadata provider unavailable")

// Video holds the descriptive attributes of a video. Counters are rendered
// as strings because a missing value degrades to a sentinel message rather
// than zero.
type Video struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Views       string `json:"views"`
	Likes       string `json:"likes"`
	Subscribers string `json:"subscribers"`
	Category    string `json:"category"`
}

// Provider fetches video metadata for a URL.
type Provider interface {
	Lookup(ctx context.Context, url string) (*Video, error)
}

func countOrSentinel(n *int64, sentinel string) string {
	if n == nil {
		return sentinel
	}
	return strconv.FormatInt(*n, 10)
}

func textOrSentinel(s, sentinel string) string {
	if s == "" {
		return sentinel
	}
	return s
}
