package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is anything whose liveness /healthz should reflect
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter builds the ops router: /healthz and /metrics.
// A nil reg uses the default gatherer.
func NewRouter(store Pinger, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "text/plain")
		if store != nil {
			if err := store.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("store unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	var h http.Handler
	if reg != nil {
		h = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		})
	} else {
		h = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", h)

	return r
}

// serveFailed reports whether ListenAndServe stopped for a reason other than Shutdown
func serveFailed(err error) bool {
	return err != nil && !errors.Is(err, http.ErrServerClosed)
}

// Serve runs the ops server until ctx is done. An empty addr disables it.
func Serve(ctx context.Context, addr string, store Pinger, log *zap.Logger) {
	if addr == "" {
		log.Info("ops server disabled: empty addr")
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(store, nil),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("ops server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); serveFailed(err) {
			log.Error("ops server error", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("ops server shutdown error", zap.Error(err))
		} else {
			log.Info("ops server stopped")
		}
	}()
}
