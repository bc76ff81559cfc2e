package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-token/pkg/simpletoken"
	"github.com/tendant/simple-token/pkg/simpletoken/metrics"
	"github.com/tendant/simple-token/pkg/simpletoken/signer"
)

// RouterConfig collects the dependencies of the HTTP surface.
type RouterConfig struct {
	Service       simpletoken.Service
	Verifier      *signer.Verifier
	Authenticator *Authenticator
	Metrics       *metrics.Metrics    // optional
	Gatherer      prometheus.Gatherer // serves /metrics when set
	// Domains returned alongside tokens approved on creation
	UploadDomain   string
	DownloadDomain string
	Logger         *slog.Logger
	Timeout        time.Duration
}

// NewRouter assembles the full HTTP surface:
//
//	GET  /health
//	GET  /metrics
//	POST /callbacks/upload   (provider-signed)
//	/tokens/...              (bearer JWT)
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "healthy"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	var observer CallbackObserver
	if cfg.Metrics != nil {
		observer = cfg.Metrics
	}
	callbacks := NewCallbackHandler(cfg.Service, cfg.Verifier, observer, cfg.Logger)
	r.Post("/callbacks/upload", callbacks.Upload)

	r.Group(func(r chi.Router) {
		r.Use(cfg.Authenticator.Middleware)
		r.Mount("/tokens", NewTokenHandler(cfg.Service, WithDomains(cfg.UploadDomain, cfg.DownloadDomain)).Routes())
	})

	return r
}
