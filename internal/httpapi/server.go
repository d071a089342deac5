package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"social-feed/server/internal/auth"
	"social-feed/server/internal/media"
	"social-feed/server/internal/storage"
)

type Options struct {
	Store  storage.Store
	Auth   *auth.Manager
	Media  *media.Library
	Logger *zap.Logger
	// CronSecret protects the on-demand media cleanup endpoint. Empty
	// disables the endpoint.
	CronSecret string
	// DevUser authenticates requests without a session as this user id.
	DevUser       string
	MutationRPS   float64
	MutationBurst int
	// Registerer receives the HTTP metrics. A private registry is created
	// when nil.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type Server struct {
	store      storage.Store
	auth       *auth.Manager
	media      *media.Library
	logger     *zap.Logger
	cronSecret string
	devUser    string
	limiters   *limiterPool
	metrics    *httpMetrics
	gatherer   prometheus.Gatherer
}

func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registerer, gatherer := opts.Registerer, opts.Gatherer
	if registerer == nil {
		registry := prometheus.NewRegistry()
		registerer, gatherer = registry, registry
	}
	metrics, err := newHTTPMetrics(registerer)
	if err != nil {
		return nil, err
	}
	return &Server{
		store:      opts.Store,
		auth:       opts.Auth,
		media:      opts.Media,
		logger:     logger,
		cronSecret: opts.CronSecret,
		devUser:    opts.DevUser,
		limiters:   &limiterPool{rps: opts.MutationRPS, burst: opts.MutationBurst},
		metrics:    metrics,
		gatherer:   gatherer,
	}, nil
}

// Handler returns the full application: routes wrapped in session
// resolution, request logging and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	var handler http.Handler = s.instrument(mux)
	if s.devUser != "" {
		handler = auth.DevUserMiddleware(s.devUser)(handler)
	}
	return s.auth.WithUser(handler)
}
