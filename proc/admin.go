package proc

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

// AdminServer exposes cache and connection state over HTTP.
type AdminServer struct {
	cache     *SmartCache
	resources *ResourceManager
	server    *http.Server
}

func NewAdminServer(addr string, cache *SmartCache, resources *ResourceManager) *AdminServer {
	a := &AdminServer{cache: cache, resources: resources}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

func (a *AdminServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": sys.FormatUptime(time.Since(sys.StartupTime)),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/cache", func(r chi.Router) {
		r.Get("/stats", a.cacheStats)
		r.Post("/sweep", a.cacheSweep)
		r.Get("/popular", a.cachePopular)
		r.Delete("/entry", a.cacheInvalidate)
	})
	r.Route("/api/resources", func(r chi.Router) {
		r.Get("/", a.resourceStats)
		r.Post("/sweep", a.resourceSweep)
	})
	return r
}

func (a *AdminServer) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cache.Stats())
}

func (a *AdminServer) cacheSweep(w http.ResponseWriter, _ *http.Request) {
	removed := a.cache.ExpireSweep()
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (a *AdminServer) cachePopular(w http.ResponseWriter, r *http.Request) {
	n := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, a.cache.Popular(n))
}

func (a *AdminServer) cacheInvalidate(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": a.cache.Invalidate(u)})
}

func (a *AdminServer) resourceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.resources.Stats())
}

func (a *AdminServer) resourceSweep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.resources.Sweep(r.Context()))
}

// Serve blocks until ctx is canceled or the listener fails.
func (a *AdminServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		sys.LogAdmin(sys.MsgAdminListening, a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			<-ctx.Done()
			return nil
		}
		sys.LogError(sys.MsgAdminFailed, err)
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(sctx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
