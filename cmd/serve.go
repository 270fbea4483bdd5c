package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/apm-cli/internal/model"
	"github.com/sells-group/apm-cli/internal/pipeline"
	"github.com/sells-group/apm-cli/internal/resilience"
)

var servePort int

// maxBodyBytes bounds request bodies; transcripts are the largest payload.
const maxBodyBytes = 10 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(env.Pipeline, env.Store),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// pinger reports store health.
type pinger interface {
	Ping(ctx context.Context) error
}

// api holds the handlers' dependencies.
type api struct {
	pipeline *pipeline.Pipeline
	store    pinger
}

// buildRouter wires the HTTP routes. st may be nil, in which case /health
// does not check the store.
func buildRouter(p *pipeline.Pipeline, st pinger) http.Handler {
	a := &api{pipeline: p, store: st}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)

	r.Get("/applications", a.listStatus)
	r.Route("/applications/{name}", func(r chi.Router) {
		r.Get("/status", a.appStatus)
		r.Post("/answers", a.ingestAnswers)
		r.Post("/transcripts", a.processTranscript)
		r.Post("/scores:suggest", a.suggestScores)
		r.Post("/insights", a.generateInsights)
	})
	r.Post("/transcripts:process-pending", a.processPending)
	r.Post("/scores:suggest", a.suggestAllScores)
	r.Post("/scores/{id}/approve", a.approveScore)
	r.Post("/insights", a.generateAllInsights)
	r.Post("/portfolio/insights", a.generatePortfolio)
	r.Get("/weights", a.getWeights)
	r.Put("/weights", a.setWeights)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.store != nil {
		if err := a.store.Ping(r.Context()); err != nil {
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) listStatus(w http.ResponseWriter, r *http.Request) {
	all, err := a.pipeline.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, all)
}

func (a *api) appStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.pipeline.AppStatus(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, st)
}

func (a *api) ingestAnswers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answers []model.Answer `json:"answers"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.pipeline.IngestAnswers(r.Context(), chi.URLParam(r, "name"), req.Answers)
	writeResult(w, res, err)
}

func (a *api) processTranscript(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName string `json:"file_name"`
		Text     string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := a.pipeline.ProcessTranscript(r.Context(), chi.URLParam(r, "name"), req.FileName, req.Text)
	writeResult(w, res, err)
}

func (a *api) processPending(w http.ResponseWriter, r *http.Request) {
	results, err := a.pipeline.ProcessPendingTranscripts(r.Context())
	writeResults(w, results, err)
}

func (a *api) suggestScores(w http.ResponseWriter, r *http.Request) {
	force, ok := forceParam(w, r)
	if !ok {
		return
	}
	res, err := a.pipeline.SuggestScores(r.Context(), chi.URLParam(r, "name"), force)
	writeResult(w, res, err)
}

func (a *api) suggestAllScores(w http.ResponseWriter, r *http.Request) {
	force, ok := forceParam(w, r)
	if !ok {
		return
	}
	results, err := a.pipeline.SuggestAllScores(r.Context(), force)
	writeResults(w, results, err)
}

func (a *api) approveScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approver string `json:"approver"`
		Override *int   `json:"override"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := a.pipeline.ApproveScore(r.Context(), chi.URLParam(r, "id"), req.Approver, req.Override)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, s)
}

func (a *api) generateInsights(w http.ResponseWriter, r *http.Request) {
	res, err := a.pipeline.GenerateInsights(r.Context(), chi.URLParam(r, "name"))
	writeResult(w, res, err)
}

func (a *api) generateAllInsights(w http.ResponseWriter, r *http.Request) {
	results, err := a.pipeline.GenerateAllInsights(r.Context())
	writeResults(w, results, err)
}

func (a *api) generatePortfolio(w http.ResponseWriter, r *http.Request) {
	res, err := a.pipeline.GeneratePortfolioInsights(r.Context())
	writeResult(w, res, err)
}

func (a *api) getWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := a.pipeline.BlockWeights(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, weights)
}

func (a *api) setWeights(w http.ResponseWriter, r *http.Request) {
	var req map[string]float64
	if !decodeBody(w, r, &req) {
		return
	}
	weights := make([]model.BlockWeight, 0, len(req))
	for name, v := range req {
		b, ok := model.ParseBlock(name)
		if !ok {
			writeError(w, model.Invalid("block", "unknown block %q", name))
			return
		}
		weights = append(weights, model.BlockWeight{Block: b, Weight: v})
	}
	if err := a.pipeline.SetBlockWeights(r.Context(), weights); err != nil {
		writeError(w, err)
		return
	}
	a.getWeights(w, r)
}

func forceParam(w http.ResponseWriter, r *http.Request) (bool, bool) {
	raw := r.URL.Query().Get("force")
	if raw == "" {
		return false, true
	}
	force, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, model.Invalid("force", "must be a boolean"))
		return false, false
	}
	return force, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, model.Invalid("body", "invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeResult sends an operation result. Failed results map their error
// kind to a status code; processed and skipped results are 200.
func writeResult(w http.ResponseWriter, res *pipeline.OpResult, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.Status == pipeline.StatusFailed {
		status = statusForKind(res.Kind)
	}
	writeJSONResponse(w, status, res)
}

func writeResults(w http.ResponseWriter, results []*pipeline.OpResult, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []*pipeline.OpResult{}
	}
	writeJSONResponse(w, http.StatusOK, results)
}

func writeError(w http.ResponseWriter, err error) {
	kind := resilience.KindOf(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		zap.L().Error("http: request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeJSONResponse(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}

func statusForKind(k resilience.Kind) int {
	switch k {
	case resilience.KindValidation:
		return http.StatusBadRequest
	case resilience.KindNotFound:
		return http.StatusNotFound
	case resilience.KindMalformed:
		return http.StatusBadGateway
	case resilience.KindUnavailable, resilience.KindTransient, resilience.KindStore:
		return http.StatusServiceUnavailable
	case resilience.KindCanceled:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
