package main

import (
	"context"
	"encoding/json"
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
	"golang.org/x/sync/errgroup"

	"github.com/kokkai-watch/diet-tracker/internal/model"
	"github.com/kokkai-watch/diet-tracker/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the operational HTTP API with the scheduler running",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Scheduler.Start(ctx); err != nil {
			return err
		}
		defer env.Scheduler.Stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newAPIRouter(env),
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

func newAPIRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "PUT"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/scheduler", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, env.Scheduler.Status())
		})
		r.Post("/execute", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Mode string `json:"mode"`
			}
			if req.Body != nil {
				_ = json.NewDecoder(req.Body).Decode(&body)
			}
			result, err := env.Scheduler.ForceExecution(req.Context(), model.DetectionMode(body.Mode))
			if err != nil {
				writeError(w, http.StatusConflict, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		})
		r.Put("/config", func(w http.ResponseWriter, req *http.Request) {
			scfg := model.DefaultScheduleConfig()
			if err := json.NewDecoder(req.Body).Decode(&scfg); err != nil {
				writeError(w, http.StatusBadRequest, eris.Wrap(err, "decode config"))
				return
			}
			if err := env.Scheduler.UpdateConfig(req.Context(), scfg); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, env.Scheduler.Status())
		})
		r.Get("/results", func(w http.ResponseWriter, req *http.Request) {
			limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, env.Scheduler.RecentResults(limit))
		})
		r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
			days, _ := strconv.Atoi(req.URL.Query().Get("days"))
			writeJSON(w, http.StatusOK, env.Scheduler.Metrics(days))
		})
	})

	r.Post("/ingest", func(w http.ResponseWriter, req *http.Request) {
		var ir model.IngestionRequest
		if err := json.NewDecoder(req.Body).Decode(&ir); err != nil {
			writeError(w, http.StatusBadRequest, eris.Wrap(err, "decode request"))
			return
		}
		result, err := env.Executor.Execute(req.Context(), ir)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/routing/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, env.Executor.Statistics())
	})

	r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
		f, err := historyFilterFromQuery(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		records, err := env.Store.QueryRecords(req.Context(), f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":   len(records),
			"records": records,
		})
	})

	return r
}

func historyFilterFromQuery(req *http.Request) (store.HistoryFilter, error) {
	q := req.URL.Query()
	f := store.HistoryFilter{
		BillID:       q.Get("bill_id"),
		EventType:    model.EventType(q.Get("event_type")),
		ChangeType:   model.ChangeType(q.Get("change_type")),
		SourceSystem: q.Get("source"),
		Ascending:    q.Get("order") == "asc",
	}
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, eris.Wrap(err, "parse from")
		}
		f.From = &t
	}
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, eris.Wrap(err, "parse to")
		}
		f.To = &t
	}
	if s := q.Get("min_confidence"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return f, eris.Wrap(err, "parse min_confidence")
		}
		f.MinConfidence = v
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
