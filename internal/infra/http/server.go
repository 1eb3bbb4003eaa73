package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"quotasigner/internal/config"
	"quotasigner/internal/domain"
	"quotasigner/internal/infra/metrics"
	"quotasigner/internal/infra/ratelimit"
	"quotasigner/internal/usecase"

	"github.com/gin-gonic/gin"
)

const (
	maxBodyBytes    = 200 << 10
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	cfg     config.Config
	r       *gin.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
	version string
	mode    string

	pnpQuota      usecase.Action[usecase.PnpQuotaRequest]
	pnpSign       usecase.Action[usecase.PnpSignRequest]
	domainQuota   usecase.Action[usecase.DomainQuotaRequest]
	domainSign    usecase.Action[usecase.DomainSignRequest]
	domainDisable usecase.Action[usecase.DomainDisableRequest]

	rateLimiter         domain.RateLimiter
	rateLimitRequests   int
	rateLimitWindow     time.Duration
	rateLimitFailClosed bool
}

type ServerDeps struct {
	PnpQuota      usecase.Action[usecase.PnpQuotaRequest]
	PnpSign       usecase.Action[usecase.PnpSignRequest]
	DomainQuota   usecase.Action[usecase.DomainQuotaRequest]
	DomainSign    usecase.Action[usecase.DomainSignRequest]
	DomainDisable usecase.Action[usecase.DomainDisableRequest]

	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	RateLimiter domain.RateLimiter
	Version     string
	// Mode is reported by /status, e.g. "db" or "memory".
	Mode string
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()

	s := &Server{
		cfg:           cfg,
		r:             r,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
		version:       deps.Version,
		mode:          deps.Mode,
		pnpQuota:      deps.PnpQuota,
		pnpSign:       deps.PnpSign,
		domainQuota:   deps.DomainQuota,
		domainSign:    deps.DomainSign,
		domainDisable: deps.DomainDisable,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.version == "" {
		s.version = "dev"
	}
	r.Use(s.requestLogger(), gin.Recovery())
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	s.rateLimiter = override
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
				Addr:     s.cfg.RedisAddr,
				Password: s.cfg.RedisPassword,
				DB:       s.cfg.RedisDB,
			})
			if err == nil {
				s.rateLimiter = limiter
			} else {
				s.logger.Warn("redis rate limiter unavailable, using memory", "err", err)
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	s.rateLimitWindow = s.cfg.RateLimitWindow()
	s.rateLimitFailClosed = s.cfg.RateLimitFailClosed
}

func (s *Server) routes() {
	s.r.GET("/status", func(c *gin.Context) {
		mode := s.mode
		if mode == "" {
			mode = "memory"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version, "mode": mode})
	})
	if s.metrics != nil {
		s.r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	pnp := s.cfg.PNPEndpoint()
	domains := s.cfg.DomainsEndpoint()

	register[usecase.PnpQuotaRequest](s, endpointPnpQuota, pnpQuotaIO{enabled: pnp.Enabled}, s.pnpQuota)
	register[usecase.PnpSignRequest](s, endpointPnpSign, pnpSignIO{enabled: pnp.Enabled}, s.pnpSign)
	register[usecase.DomainQuotaRequest](s, endpointDomainQuota, domainQuotaIO{enabled: domains.Enabled}, s.domainQuota)
	register[usecase.DomainSignRequest](s, endpointDomainSign, domainSignIO{enabled: domains.Enabled}, s.domainSign)
	register[usecase.DomainDisableRequest](s, endpointDomainDisable, domainDisableIO{enabled: domains.Enabled}, s.domainDisable)

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
}

// register mounts one POST endpoint. A nil action leaves the endpoint
// reporting ENDPOINT_DISABLED.
func register[Req any](s *Server, path string, io endpointIO[Req], action usecase.Action[Req]) {
	ctl := &controller[Req]{
		endpoint: path,
		io:       io,
		action:   action,
		logger:   s.logger,
		metrics:  s.metrics,
	}
	s.r.POST(path, s.limitBody(), s.rateLimit(path), s.boundary(path, ctl.handle))
}

func (s *Server) Handler() http.Handler {
	return s.r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.SSLCertPath != "" && s.cfg.SSLKeyPath != "" {
			s.logger.Info("listening", "addr", srv.Addr, "tls", true)
			err = srv.ListenAndServeTLS(s.cfg.SSLCertPath, s.cfg.SSLKeyPath)
		} else {
			s.logger.Info("listening", "addr", srv.Addr, "tls", false)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
