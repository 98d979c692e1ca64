package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/annel0/worldstream/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server HTTP-эндпоинт /metrics
type Server struct {
	srv    *http.Server
	logger *logging.Logger
}

// NewServer создаёт эндпоинт для метрик из gatherer
func NewServer(addr string, gatherer prometheus.Gatherer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start запускает сервер в отдельной горутине
func (s *Server) Start() {
	go func() {
		s.logger.Info("Prometheus /metrics доступен по адресу %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ошибка HTTP сервера метрик: %v", err)
		}
	}()
}

// Shutdown останавливает сервер
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
