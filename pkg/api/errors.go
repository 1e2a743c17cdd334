package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/agentos-labs/agentos/pkg/agent"
	"github.com/agentos-labs/agentos/pkg/auth"
	"github.com/agentos-labs/agentos/pkg/services"
)

// mapError maps agent and service errors to a transport status, a concise
// message and optional structured details.
func mapError(err error) (int, string, any) {
	var agentErr *agent.Error
	if errors.As(err, &agentErr) {
		return agentErr.StatusCode, agentErr.Message, agentErr.Details
	}

	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, validErr.Error(), validErr.Fields
	}

	var stockErr *services.InsufficientStockError
	if errors.As(err, &stockErr) {
		return http.StatusConflict, stockErr.Error(), map[string]any{
			"sku":       stockErr.SKU,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		}
	}

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required", nil
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, err.Error(), nil
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, err.Error(), nil
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, err.Error(), nil
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, err.Error(), nil
	case errors.Is(err, services.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream service unavailable", nil
	case errors.Is(err, services.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable, "a required dependency is unavailable", nil
	}

	slog.Error("Unexpected error", "error", err)
	return http.StatusInternalServerError, "internal server error", nil
}
