package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tubelens/analysis"
	"tubelens/auth"
	"tubelens/db"
	"tubelens/httputil"
	"tubelens/metadata"
	"tubelens/ratelimit"
	"tubelens/scrape"
	"tubelens/sentiment"
	"tubelens/titlegen"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	_ "modernc.org/sqlite"
)

type Config struct {
	DBDriver      string // "sqlite" or "postgres"
	DBPath        string
	DBURL         string
	JWTSecret     string
	GeminiAPIKey  string
	GeminiModel   string
	SentimentURL  string
	SentimentKey  string
	MinioEndpoint string
	MinioAccess   string
	MinioSecret   string
	MinioBucket   string
	MinioSSL      bool
	YTDLPPath     string
	ChromePath    string
	Port          string
}

func loadConfig() Config {
	return Config{
		DBDriver:      getEnv("DB_DRIVER", "sqlite"),
		DBPath:        getEnv("DB_PATH", "/data/tubelens.db"),
		DBURL:         getEnv("DB_URL", ""),
		JWTSecret:     getEnv("JWT_SECRET", "your-secret-key"),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", titlegen.DefaultModel),
		SentimentURL:  getEnv("SENTIMENT_URL", sentiment.DefaultURL),
		SentimentKey:  getEnv("SENTIMENT_API_KEY", ""),
		MinioEndpoint: getEnv("MINIO_ENDPOINT", ""),
		MinioAccess:   getEnv("MINIO_ACCESS_KEY", "tubelens"),
		MinioSecret:   getEnv("MINIO_SECRET_KEY", "changeme123"),
		MinioBucket:   getEnv("MINIO_BUCKET", "comment-archives"),
		MinioSSL:      getEnv("MINIO_USE_SSL", "false") == "true",
		YTDLPPath:     getEnv("YTDLP_PATH", "yt-dlp"),
		ChromePath:    getEnv("CHROME_PATH", ""),
		Port:          getEnv("PORT", "8080"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	godotenv.Load()
	cfg := loadConfig()

	dialect := db.DialectSQLite
	driver, dsn := "sqlite", cfg.DBPath
	if cfg.DBDriver == "postgres" {
		dialect = db.DialectPostgres
		driver, dsn = "pgx", cfg.DBURL
	}

	rawDB, err := sql.Open(driver, dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer rawDB.Close()

	if dialect == db.DialectSQLite {
		// Single connection: prevents concurrent write conflicts
		rawDB.SetMaxOpenConns(1)
		rawDB.SetMaxIdleConns(1)
		rawDB.SetConnMaxLifetime(0)

		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := rawDB.Exec(pragma); err != nil {
				log.Fatalf("pragma failed (%s): %v", pragma, err)
			}
		}
	}

	if err := db.RunMigrations(rawDB, dialect); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	database := db.New(rawDB, dialect)

	ctx := context.Background()

	// Comment archive (optional). The DB row keeps only the top 10
	// classified comments; the full scrape goes to object storage.
	var archive analysis.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioClient, err := minio.New(cfg.MinioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinioAccess, cfg.MinioSecret, ""),
			Secure: cfg.MinioSSL,
		})
		if err != nil {
			log.Fatalf("failed to connect to minio: %v", err)
		}
		exists, err := minioClient.BucketExists(ctx, cfg.MinioBucket)
		if err != nil {
			log.Fatalf("failed to check bucket: %v", err)
		}
		if !exists {
			if err := minioClient.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
				log.Fatalf("failed to create bucket: %v", err)
			}
			log.Printf("created bucket: %s", cfg.MinioBucket)
		}
		archive = minioClient
	} else {
		log.Println("MINIO_ENDPOINT not set; comment archiving disabled")
	}

	generator, err := titlegen.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("failed to create gemini generator: %v", err)
	}

	authHandler := &auth.Handler{DB: database, JWTSecret: cfg.JWTSecret}
	analysisHandler := &analysis.Handler{
		DB:       database,
		Metadata: metadata.NewYTDLPProvider(cfg.YTDLPPath, 30*time.Second),
		Titles:   generator,
		Comments: scrape.NewChromeScraper(cfg.ChromePath),
		Classify: sentiment.NewHTTPClassifier(sentiment.Config{
			APIKey: cfg.SentimentKey,
			URL:    cfg.SentimentURL,
		}),
		Archive: archive,
		Bucket:  cfg.MinioBucket,
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})

	authLimiter := ratelimit.New(20, time.Minute)
	analyzeLimiter := ratelimit.New(5, time.Minute)

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(authLimiter))
		r.Post("/api/auth/signup", authHandler.HandleSignup)
		r.Post("/api/auth/login", authHandler.HandleLogin)
		r.Post("/api/auth/forgot-password", authHandler.HandleForgotPassword)
		r.Post("/api/auth/reset-password", authHandler.HandleResetPassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(authHandler.Middleware)
		r.Get("/api/auth/verify", authHandler.HandleVerify)
		r.Post("/api/auth/logout", authHandler.HandleLogout)
		r.With(ratelimit.Middleware(analyzeLimiter)).Post("/api/analyze", analysisHandler.HandleAnalyze)
		r.Get("/api/detailed-analysis", analysisHandler.HandleList)
		r.Delete("/api/delete-analysis/{id}", analysisHandler.HandleDelete)
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	go func() {
		log.Printf("tubelens API listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	log.Println("server shut down")
}
