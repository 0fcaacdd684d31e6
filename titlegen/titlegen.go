package titlegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tubelens/metadata"

	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-1.5-pro"

// MaxTitles caps how many title suggestions a report carries.
const MaxTitles = 10

const titlePromptTemplate = `Generate 10 catchy and engaging YouTube title suggestions for a video with:
- Title: %s
- Category/Niche: %s
`

const summaryPromptTemplate = `Analyze the following YouTube video metadata and provide a detailed summary and improvement suggestions:
- Title: %s
- Views: %s
- Likes: %s
- Subscribers: %s
- Niche: %s
- Description: %s

Provide:
1. A concise summary of the video's performance and content.
2. Key points on how to improve the video's engagement and reach.
3. Suggestions for optimizing the video's title, description, and tags.
Keep it short and simple, plain text without * or # markers.
`

// Generator produces title suggestions and a performance summary for a
// video given its metadata.
type Generator interface {
	TitlesAndSummary(ctx context.Context, meta *metadata.Video) ([]string, string, error)
}

// GeminiGenerator implements Generator against the Gemini API.
type GeminiGenerator struct {
	Client  *genai.Client
	Model   string
	Timeout time.Duration
}

// NewGeminiGenerator creates a Gemini-backed Generator.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{Client: client, Model: model, Timeout: 60 * time.Second}, nil
}

// TitlesAndSummary issues two prompts: one for title suggestions, one for a
// performance summary with improvement tips. Both must succeed.
func (g *GeminiGenerator) TitlesAndSummary(ctx context.Context, meta *metadata.Video) ([]string, string, error) {
	if meta == nil {
		meta = &metadata.Video{
			Title:       "Unknown Title",
			Views:       metadata.NoViews,
			Likes:       metadata.NoLikes,
			Subscribers: metadata.NoSubscribers,
			Description: metadata.NoDescription,
			Category:    metadata.NoCategory,
		}
	}

	titleText, err := g.generate(ctx, fmt.Sprintf(titlePromptTemplate, meta.Title, meta.Category))
	if err != nil {
		return nil, "", fmt.Errorf("generate titles: %w", err)
	}

	summary, err := g.generate(ctx, fmt.Sprintf(summaryPromptTemplate,
		meta.Title, meta.Views, meta.Likes, meta.Subscribers, meta.Category, meta.Description))
	if err != nil {
		return nil, "", fmt.Errorf("generate summary: %w", err)
	}

	return ParseTitles(titleText), strings.TrimSpace(summary), nil
}

func (g *GeminiGenerator) generate(ctx context.Context, prompt string) (string, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := g.Client.Models.GenerateContent(ctx, g.Model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// ParseTitles turns raw generated text into a clean list of suggestions:
// one per line, leading/trailing bullet and numbering decoration removed,
// lines of five characters or fewer dropped, at most MaxTitles kept.
func ParseTitles(text string) []string {
	titles := make([]string, 0, MaxTitles)
	for _, line := range strings.Split(text, "\n") {
		title := strings.Trim(line, "-•1234567890.*# \t\r")
		if len(title) <= 5 {
			continue
		}
		titles = append(titles, title)
		if len(titles) == MaxTitles {
			break
		}
	}
	return titles
}
