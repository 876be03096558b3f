package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/market-courier/internal/pkg/ctxlog"
)

// ErrorMapping binds a sentinel error to the HTTP status and public message
// it is answered with. An empty Message exposes err.Error().
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// HandleError answers with the first mapping whose sentinel matches err.
// Unmatched errors are logged and answered 500 without leaking details.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	logger := ctxlog.FromContext(ctx)

	for _, m := range mappings {
		if !errors.Is(err, m.Error) {
			continue
		}
		msg := m.Message
		if msg == "" {
			msg = err.Error()
		}
		if m.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "status", m.Status, "error", err)
		} else {
			logger.Debug("request rejected", "status", m.Status, "error", err)
		}
		Error(w, m.Status, msg)
		return
	}

	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
