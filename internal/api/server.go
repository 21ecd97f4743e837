package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"
)

type Server struct {
	service *Service
	limiter *rate.Limiter
}

// ServerConfig tunes the HTTP surface. RateLimit is in compute requests per
// second; 0 disables limiting.
type ServerConfig struct {
	RateLimit float64
	RateBurst int
}

func NewServer(service *Service, cfg ServerConfig) *Server {
	s := &Server{service: service}
	if cfg.RateLimit > 0 {
		burst := max(cfg.RateBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(s.requestID)
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/tables", s.handleTables)
	e.POST("/v1/forward", s.handleForward, s.throttle)
	e.POST("/v1/backward", s.handleBackward, s.throttle)
}

func (s *Server) requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := c.Request().Header.Get(headerRequestID)
		if id == "" {
			id = newRequestID()
		}
		c.Set(headerRequestID, id)
		c.Response().Header().Set(headerRequestID, id)
		return next(c)
	}
}

func (s *Server) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.limiter != nil && !s.limiter.Allow() {
			return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many compute requests")
		}
		return next(c)
	}
}

func requestIDOf(c *echo.Context) string {
	id, _ := c.Get(headerRequestID).(string)
	return id
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTables(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "pooling service not configured")
	}
	return c.JSON(http.StatusOK, s.service.Tables())
}

func (s *Server) handleForward(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "pooling service not configured")
	}
	req, err := DecodeJSON[ForwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	res, err := s.service.Forward(c.Request().Context(), &req)
	if err != nil {
		return writeComputeError(c, err)
	}
	return c.JSON(http.StatusOK, NewForwardResponse(requestIDOf(c), res))
}

func (s *Server) handleBackward(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "pooling service not configured")
	}
	req, err := DecodeJSON[BackwardRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	grad, err := s.service.Backward(c.Request().Context(), &req)
	if err != nil {
		return writeComputeError(c, err)
	}
	return c.JSON(http.StatusOK, NewBackwardResponse(requestIDOf(c), &grad))
}
