package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type Server struct {
	log *logger.Logger
	srv *http.Server
}

func NewServer(baseLog *logger.Logger, cfg RouterConfig, address string) *Server {
	return &Server{
		log: baseLog.With("component", "http_server"),
		srv: &http.Server{
			Addr:              address,
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	s.log.Info("Server listening", "address", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
