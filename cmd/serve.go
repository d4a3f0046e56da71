package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-intel/internal/learning"
	"github.com/sells-group/contact-intel/internal/model"
	"github.com/sells-group/contact-intel/internal/monitoring"
	"github.com/sells-group/contact-intel/internal/pattern"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session learning API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store)

		// Background loops: job scheduler and alert checker.
		go env.Scheduler.Run(ctx)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring,
			env.Scheduler.EmergencyPass)
		go checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newMux(env, collector),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newMux builds the API routes over the assembled subsystems.
func newMux(env *intelEnv, collector *monitoring.Collector) chi.Router {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Get("/health/metrics", func(w http.ResponseWriter, r *http.Request) {
		snap, err := collector.Collect(r.Context(), cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			zap.L().Error("metrics collection failed", zap.Error(err))
			http.Error(w, `{"error":"metrics collection failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionID string `json:"session_id"`
			UserID    string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.SessionID == "" || req.UserID == "" {
			http.Error(w, `{"error":"session_id and user_id are required"}`, http.StatusBadRequest)
			return
		}
		if err := env.Manager.InitializeSession(r.Context(), req.SessionID, req.UserID); err != nil {
			zap.L().Error("session init failed", zap.String("session_id", req.SessionID), zap.Error(err))
			http.Error(w, `{"error":"session init failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"session_id": req.SessionID})
	})

	mux.Post("/sessions/{id}/feedback", func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		var req struct {
			FeedbackType  string                `json:"feedback_type"`
			ProfileURL    string                `json:"profile_url"`
			Payload       json.RawMessage       `json:"payload"`
			LearningValue float64               `json:"learning_value"`
			Features      model.ProfileFeatures `json:"features"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if !model.ValidFeedbackType(req.FeedbackType) {
			http.Error(w, `{"error":"unknown feedback_type"}`, http.StatusBadRequest)
			return
		}

		fb := &model.FeedbackInteraction{
			ProfileURL:    req.ProfileURL,
			FeedbackType:  model.FeedbackType(req.FeedbackType),
			Payload:       req.Payload,
			LearningValue: req.LearningValue,
		}
		extracted, err := env.Manager.ProcessVoiceFeedback(r.Context(), sessionID, fb, req.Features)
		if err != nil {
			if errors.Is(err, learning.ErrUnknownSession) {
				http.Error(w, `{"error":"unknown session"}`, http.StatusNotFound)
				return
			}
			zap.L().Error("feedback processing failed", zap.String("session_id", sessionID), zap.Error(err))
			http.Error(w, `{"error":"feedback processing failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"feedback_id":        fb.ID,
			"patterns_extracted": len(extracted),
		})
	})

	mux.Post("/sessions/{id}/apply", func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		var baseline model.Analysis
		if err := json.NewDecoder(r.Body).Decode(&baseline); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		// Degrades to the baseline internally; this endpoint cannot fail the
		// caller's analysis.
		writeJSON(w, http.StatusOK, env.Manager.ApplyPatternsToProfile(r.Context(), sessionID, baseline))
	})

	mux.Post("/sessions/{id}/finalize", func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		var req struct {
			Outcome    string  `json:"outcome"`
			Confidence float64 `json:"confidence"`
			Relevance  float64 `json:"relevance"`
			Reasoning  string  `json:"reasoning"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if !model.ValidOutcome(req.Outcome) {
			http.Error(w, `{"error":"unknown outcome"}`, http.StatusBadRequest)
			return
		}
		err := env.Store.FinalizeSession(r.Context(), sessionID,
			model.SessionOutcome(req.Outcome), req.Confidence, req.Relevance, req.Reasoning)
		if err != nil {
			if errors.Is(err, pattern.ErrNotFound) {
				http.Error(w, `{"error":"unknown session"}`, http.StatusNotFound)
				return
			}
			zap.L().Error("session finalize failed", zap.String("session_id", sessionID), zap.Error(err))
			http.Error(w, `{"error":"finalize failed"}`, http.StatusInternalServerError)
			return
		}
		if err := env.Manager.ReconcileOutcome(r.Context(), sessionID, model.SessionOutcome(req.Outcome)); err != nil {
			zap.L().Warn("outcome reconcile skipped", zap.String("session_id", sessionID), zap.Error(err))
		}
		if err := env.Manager.CloseSession(r.Context(), sessionID); err != nil {
			zap.L().Warn("session close failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "outcome": req.Outcome})
	})

	mux.Get("/sessions/{id}/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics, ok := env.Manager.GetSessionMetrics(chi.URLParam(r, "id"))
		if !ok {
			http.Error(w, `{"error":"unknown session"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, metrics)
	})

	mux.Get("/patterns", func(w http.ResponseWriter, r *http.Request) {
		filter := pattern.PatternFilter{
			UserID:      r.URL.Query().Get("user_id"),
			Status:      model.ValidationStatus(r.URL.Query().Get("status")),
			PatternType: model.PatternType(r.URL.Query().Get("type")),
			Limit:       100,
		}
		if raw := r.URL.Query().Get("min_confidence"); raw != "" {
			mc, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				http.Error(w, `{"error":"invalid min_confidence"}`, http.StatusBadRequest)
				return
			}
			filter.MinConfidence = mc
		}
		patterns, err := env.Store.ListPatterns(r.Context(), filter)
		if err != nil {
			zap.L().Error("pattern listing failed", zap.Error(err))
			http.Error(w, `{"error":"pattern listing failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns, "count": len(patterns)})
	})

	mux.Get("/experiments/{id}", func(w http.ResponseWriter, r *http.Request) {
		exp, err := env.Store.GetExperiment(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, pattern.ErrNotFound) {
				http.Error(w, `{"error":"unknown experiment"}`, http.StatusNotFound)
				return
			}
			zap.L().Error("experiment lookup failed", zap.Error(err))
			http.Error(w, `{"error":"experiment lookup failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, exp)
	})

	mux.Delete("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		if err := env.Store.DeleteUserData(r.Context(), userID); err != nil {
			zap.L().Error("user data purge failed", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, `{"error":"purge failed"}`, http.StatusInternalServerError)
			return
		}
		zap.L().Info("user data purged", zap.String("user_id", userID))
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
