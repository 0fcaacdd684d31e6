package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes external commands and returns stdout bytes.
type CommandRunner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// YTDLPProvider fetches metadata using the yt-dlp CLI tool.
type YTDLPProvider struct {
	Binary  string
	Args    []string
	Run     CommandRunner
	Timeout time.Duration
}

// NewYTDLPProvider constructs a Provider that shells out to yt-dlp.
func NewYTDLPProvider(binary string, timeout time.Duration) *YTDLPProvider {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YTDLPProvider{
		Binary:  binary,
		Args:    []string{"--dump-single-json", "--no-warnings", "--no-playlist", "--skip-download"},
		Run:     defaultCommandRunner,
		Timeout: timeout,
	}
}

// Lookup executes yt-dlp for the provided URL and parses the JSON response.
// Fields the extractor cannot supply degrade to sentinel values; only a
// failed or unparseable invocation is an error.
func (p *YTDLPProvider) Lookup(ctx context.Context, url string) (*Video, error) {
	if p == nil {
		return nil, ErrProviderUnavailable
	}
	if p.Run == nil {
		p.Run = defaultCommandRunner
	}

	execCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	args := append([]string{}, p.Args...)
	args = append(args, url)

	out, err := p.Run(execCtx, p.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp fetch: %w", err)
	}

	var payload struct {
		Title                string   `json:"title"`
		Uploader             string   `json:"uploader"`
		Description          string   `json:"description"`
		ViewCount            *int64   `json:"view_count"`
		LikeCount            *int64   `json:"like_count"`
		ChannelFollowerCount *int64   `json:"channel_follower_count"`
		Categories           []string `json:"categories"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, fmt.Errorf("parse yt-dlp response: %w", err)
	}

	category := NoCategory
	if len(payload.Categories) > 0 && payload.Categories[0] != "" {
		category = payload.Categories[0]
	}

	return &Video{
		Title:       textOrSentinel(payload.Title, NoTitle),
		Author:      textOrSentinel(payload.Uploader, NoAuthor),
		Description: textOrSentinel(payload.Description, NoDescription),
		Views:       countOrSentinel(payload.ViewCount, NoViews),
		Likes:       countOrSentinel(payload.LikeCount, NoLikes),
		Subscribers: countOrSentinel(payload.ChannelFollowerCount, NoSubscribers),
		Category:    category,
	}, nil
}

func defaultCommandRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.Output()
}
