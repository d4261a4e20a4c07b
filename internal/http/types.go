package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/agentd/internal/coordinator"
	"github.com/fyrsmithlabs/agentd/internal/trace"
)

// Header overrides for POST /api/agent/run. A header is honored only when
// the matching body field is absent, so the body always wins.
const (
	HeaderMode      = "X-Agent-Mode"
	HeaderBudget    = "X-Agent-Budget"
	HeaderThreshold = "X-Agent-Threshold"
	HeaderScope     = "X-Agent-Scope"
)

// ErrorResponse is the structured error body for every non-200 response.
type ErrorResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Trace   []trace.Attempt `json:"trace,omitempty"`
}

// applyHeaderOverrides fills request fields from headers where the body
// left them unset. Unparseable numeric headers are rejected outright rather
// than silently ignored.
func applyHeaderOverrides(req *coordinator.TaskRequest, h http.Header) error {
	if req.Mode == nil {
		if v := h.Get(HeaderMode); v != "" {
			req.Mode = &v
		}
	}
	if req.Budget == nil {
		if v := h.Get(HeaderBudget); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s header: %q is not a number", HeaderBudget, v)
			}
			req.Budget = &f
		}
	}
	if req.Threshold == nil {
		if v := h.Get(HeaderThreshold); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s header: %q is not a number", HeaderThreshold, v)
			}
			req.Threshold = &f
		}
	}
	if req.Scope == "" {
		if v := h.Get(HeaderScope); v != "" {
			req.Scope = v
		}
	}
	return nil
}

// statusForCode maps coordinator error codes to HTTP statuses. The codes
// themselves are transport-independent; this table is the only place the
// mapping lives.
func statusForCode(code coordinator.ErrorCode) int {
	switch code {
	case coordinator.CodeValidation, coordinator.CodeCost:
		return http.StatusBadRequest
	case coordinator.CodeAgent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeRunError renders a coordinator run failure as a structured error
// body, trace included.
func writeRunError(c echo.Context, err error) error {
	var runErr *coordinator.RunError
	if !errors.As(err, &runErr) {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Code:    string(coordinator.CodeInternal),
			Message: err.Error(),
		})
	}
	return c.JSON(statusForCode(runErr.Code), ErrorResponse{
		Code:    string(runErr.Code),
		Message: runErr.Message,
		Trace:   runErr.Trace,
	})
}
