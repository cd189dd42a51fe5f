// Package http wires the external-facing Proxy Surface HTTP endpoint
// (spec.md §4.9/§6: POST /responses, GET /health), grounded on the
// teacher's NewExternalServer (internal/transport/http/server.go):
// one echo instance, the same Logger/Recover/CORS middleware stack.
package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/wadang/cua/internal/transport"
)

// Server is the HTTP half of the dual-transport proxy.
type Server struct {
	dispatch *transport.Dispatcher
	echo     *echo.Echo
}

// requestValidator adapts transport.ValidateRequest to echo.Validator
// so c.Validate enforces Request's `validate:"..."` tags (model, input
// required) at the HTTP trust boundary, the same struct-tag idiom
// internal/config uses for process configuration.
type requestValidator struct{}

func (requestValidator) Validate(i interface{}) error {
	req, ok := i.(*transport.Request)
	if !ok {
		return nil
	}
	return transport.ValidateRequest(*req)
}

// NewServer builds an echo server delegating every /responses request
// to dispatch.
func NewServer(dispatch *transport.Dispatcher) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Validator = requestValidator{}

	s := &Server{dispatch: dispatch, echo: e}
	e.POST("/responses", s.handleResponses)
	e.GET("/health", s.handleHealth)
	return s
}

// Echo exposes the underlying instance so cmd/ can e.Start it or embed
// it alongside other routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) handleResponses(c echo.Context) error {
	var req transport.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, transport.Response{
			Status: transport.StatusFailed,
			Error:  "invalid request body: " + err.Error(),
		})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, transport.Response{
			Status: transport.StatusFailed,
			Error:  "invalid request: " + err.Error(),
		})
	}

	if sid := c.Request().Header.Get("X-Session-Id"); sid != "" && req.AgentKwargs.SessionID == "" {
		req.AgentKwargs.SessionID = sid
	}

	resp, err := s.dispatch.Dispatch(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusOK, transport.Response{
			Status: transport.StatusFailed,
			Error:  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// handleHealth reports healthy iff the pool can satisfy a probe
// acquire (spec.md §4.9 GET /health), bounded so a drained pool
// degrades the health check instead of hanging it.
func (s *Server) handleHealth(c echo.Context) error {
	if !s.dispatch.Sessions.Probe(c.Request().Context()) {
		return c.JSON(http.StatusServiceUnavailable, transport.HealthResponse{Status: "unhealthy"})
	}
	return c.JSON(http.StatusOK, transport.HealthResponse{Status: "healthy"})
}
