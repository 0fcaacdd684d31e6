package analysis

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"tubelens/auth"
	"tubelens/db"
	"tubelens/httputil"
	"tubelens/metadata"
	"tubelens/scrape"
	"tubelens/sentiment"
	"tubelens/titlegen"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// ObjectStore is the subset of the MinIO client used to archive raw
// scraped comments.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader,
		objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Handler runs the video-analysis pipeline and serves stored reports.
type Handler struct {
	DB       *db.CompatDB
	Metadata metadata.Provider
	Titles   titlegen.Generator
	Comments scrape.Source
	Classify sentiment.Classifier

	// Archive is optional; when set, the full scraped comment list is
	// written there as JSON (the DB row only keeps the top 10).
	Archive ObjectStore
	Bucket  string
}

// AnalyzeRequest is the JSON body for POST /api/analyze.
type AnalyzeRequest struct {
	VideoURL string `json:"videoUrl"`
}

// HandleAnalyze runs the full pipeline: metadata, title/summary
// generation, comment scraping, per-comment sentiment classification, and
// report persistence.
//
// Metadata failure degrades the report; zero scraped comments is a
// partial (success=false) response; generation, scraping, classification,
// or persistence failures collapse to a generic 500.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.ExtractUserID(r)
	if !ok {
		httputil.WriteJSON(w, 401, map[string]string{"message": "Token is missing!"})
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(httputil.LimitedBodyReader(r)).Decode(&req); err != nil || req.VideoURL == "" {
		httputil.WriteJSON(w, 400, map[string]string{"error": "No video URL provided"})
		return
	}
	ctx := r.Context()

	meta, err := h.Metadata.Lookup(ctx, req.VideoURL)
	if err != nil {
		log.Printf("metadata fetch for %s: %v", req.VideoURL, err)
		meta = nil
	}

	titles, summary, err := h.Titles.TitlesAndSummary(ctx, meta)
	if err != nil {
		serverError(w, err)
		return
	}

	scraped, err := h.Comments.Comments(ctx, req.VideoURL)
	if err != nil {
		serverError(w, err)
		return
	}
	if len(scraped) == 0 {
		httputil.WriteJSON(w, 200, map[string]interface{}{
			"success":           false,
			"error":             "No comments found",
			"metadata":          meta,
			"title_suggestions": titles,
			"summary":           summary,
		})
		return
	}

	comments := scraped
	if len(comments) > maxComments {
		comments = comments[:maxComments]
	}
	log.Printf("analyzing %d comments for %s", len(comments), req.VideoURL)

	var positive, negative, neutral int
	results := make([]CommentSentiment, 0, len(comments))
	for _, text := range comments {
		res, err := h.Classify.Classify(ctx, text)
		if err != nil {
			serverError(w, err)
			return
		}
		label := sentiment.Bucket(res.Stars)
		switch label {
		case sentiment.Positive:
			positive++
		case sentiment.Neutral:
			neutral++
		default:
			negative++
		}
		results = append(results, CommentSentiment{
			Text:       text,
			Sentiment:  label,
			Confidence: round2(res.Score),
		})
	}

	dist := Distribution(positive, negative, neutral, len(results))
	top := results
	if len(top) > maxTopComments {
		top = top[:maxTopComments]
	}

	analysisID := uuid.New().String()
	commentsKey := h.archiveComments(ctx, analysisID, req.VideoURL, scraped)

	if err := h.insertRecord(ctx, analysisID, userID, req.VideoURL, dist, top, meta, titles, summary, commentsKey); err != nil {
		serverError(w, err)
		return
	}

	httputil.WriteJSON(w, 200, map[string]interface{}{
		"success":               true,
		"sentimentDistribution": dist,
		"topComments":           top,
		"metadata":              meta,
		"title_suggestions":     titles,
		"summary":               summary,
	})
}

func serverError(w http.ResponseWriter, err error) {
	log.Printf("analysis failed: %v", err)
	httputil.WriteJSON(w, 500, map[string]string{
		"error":   "An error occurred while processing the request.",
		"details": err.Error(),
	})
}

// archiveComments writes the full scraped comment list to the object
// store. Best-effort: failures are logged and the report simply carries no
// archive key.
func (h *Handler) archiveComments(ctx context.Context, analysisID, videoURL string, comments []string) string {
	if h.Archive == nil || h.Bucket == "" {
		return ""
	}
	payload, err := json.Marshal(map[string]interface{}{
		"video_url":  videoURL,
		"comments":   comments,
		"count":      len(comments),
		"scraped_at": time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	})
	if err != nil {
		return ""
	}
	key := "comments/" + analysisID + ".json"
	_, err = h.Archive.PutObject(ctx, h.Bucket, key, bytes.NewReader(payload),
		int64(len(payload)), minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		log.Printf("archive comments for %s: %v", analysisID, err)
		return ""
	}
	return key
}

func (h *Handler) insertRecord(ctx context.Context, id, userID, videoURL string,
	dist []DistributionEntry, top []CommentSentiment, meta *metadata.Video,
	titles []string, summary, commentsKey string) error {

	distJSON, err := json.Marshal(dist)
	if err != nil {
		return err
	}
	topJSON, err := json.Marshal(top)
	if err != nil {
		return err
	}
	titlesJSON, err := json.Marshal(titles)
	if err != nil {
		return err
	}

	var metaJSON interface{}
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		metaJSON = string(b)
	}

	var key interface{}
	if commentsKey != "" {
		key = commentsKey
	}

	_, err = h.DB.ExecContext(ctx, `
		INSERT INTO analyses (id, user_id, video_url, sentiment_distribution,
			top_comments, metadata, title_suggestions, summary, comments_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, userID, videoURL, string(distJSON), string(topJSON), metaJSON,
		string(titlesJSON), summary, key, time.Now().UTC().Format("2006-01-02T15:04:05Z"))
	return err
}

// Record is a stored analysis as returned by GET /api/detailed-analysis.
type Record struct {
	ID                    string              `json:"id"`
	UserID                string              `json:"user_id"`
	VideoURL              string              `json:"video_url"`
	SentimentDistribution []DistributionEntry `json:"sentiment_distribution"`
	TopComments           []CommentSentiment  `json:"top_comments"`
	Metadata              *metadata.Video     `json:"metadata"`
	TitleSuggestions      []string            `json:"title_suggestions"`
	Summary               string              `json:"summary"`
	CreatedAt             string              `json:"created_at"`
}

// HandleList returns the caller's 10 most recent analyses, newest first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.ExtractUserID(r)

	rows, err := h.DB.QueryContext(r.Context(), `
		SELECT id, user_id, video_url, sentiment_distribution, top_comments,
		       metadata, title_suggestions, summary, created_at
		FROM analyses
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 10
	`, userID)
	if err != nil {
		httputil.WriteJSON(w, 500, map[string]string{"error": "failed to load analyses"})
		return
	}
	defer rows.Close()

	records := make([]Record, 0, 10)
	for rows.Next() {
		var rec Record
		var distJSON, topJSON, titlesJSON string
		var metaJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.VideoURL, &distJSON,
			&topJSON, &metaJSON, &titlesJSON, &rec.Summary, &rec.CreatedAt); err != nil {
			continue
		}
		json.Unmarshal([]byte(distJSON), &rec.SentimentDistribution)
		json.Unmarshal([]byte(topJSON), &rec.TopComments)
		json.Unmarshal([]byte(titlesJSON), &rec.TitleSuggestions)
		if metaJSON.Valid {
			json.Unmarshal([]byte(metaJSON.String), &rec.Metadata)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		log.Printf("list analyses iteration error: %v", err)
	}

	httputil.WriteJSON(w, 200, map[string]interface{}{"success": true, "data": records})
}

// HandleDelete removes one analysis. Ownership is enforced in the WHERE
// clause; a miss on either id or owner reads as not found.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.ExtractUserID(r)
	analysisID := chi.URLParam(r, "id")

	res, err := h.DB.ExecContext(r.Context(),
		`DELETE FROM analyses WHERE id = ? AND user_id = ?`, analysisID, userID)
	if err != nil {
		httputil.WriteJSON(w, 500, map[string]string{"error": "failed to delete analysis"})
		return
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		httputil.WriteJSON(w, 404, map[string]string{"error": "Analysis not found or unauthorized"})
		return
	}

	httputil.WriteJSON(w, 200, map[string]interface{}{
		"success": true,
		"message": "Analysis deleted successfully",
	})
}
