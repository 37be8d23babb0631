package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/intelligrit/quakesafe/internal/metrics"
	"github.com/intelligrit/quakesafe/internal/model"
	"github.com/intelligrit/quakesafe/internal/store"
)

// ObjectStore holds uploaded image bytes.
type ObjectStore interface {
	Put(ctx context.Context, r io.Reader, size int64, contentType string) (string, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Analyzer turns an image URL or a conversation into model text.
type Analyzer interface {
	Assess(ctx context.Context, imageURL string) (*model.Assessment, error)
	Analyze(ctx context.Context, imageURL string) (string, error)
	Reply(ctx context.Context, history []model.ChatMessage, message string) (string, error)
}

// Server serves the quakesafe backend API.
type Server struct {
	Store          *store.Store
	Objects        ObjectStore
	Analyzer       Analyzer
	Addr           string
	MaxUploadBytes int64
	PresignExpiry  time.Duration
}

// Handler returns the routed API wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/pins", s.handlePins)
	mux.HandleFunc("GET /api/assessments", s.handleAssessments)
	mux.HandleFunc("POST /api/safety-assessment", s.handleSafetyAssessment)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat", s.handleChatHistory)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	return RequestLogger(mux)
}

// ListenAndServe serves until ctx is cancelled, then drains open requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Msg("Serving backend API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
