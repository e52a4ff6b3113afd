package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server wraps the gin engine in an http.Server so shutdown can drain
// in-flight requests instead of dropping them mid-stream.
type Server struct {
	srv *http.Server
}

func NewServer(engine *gin.Engine, addr string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			// SSE responses stay open for the life of the client;
			// a write timeout would sever them.
			WriteTimeout: 0,
		},
	}
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
// A shutdown-initiated close reports as nil.
func (s *Server) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
