package signature

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/bissquit/market-courier/internal/pkg/ctxlog"
	"github.com/bissquit/market-courier/internal/pkg/httputil"
)

// Header names carrying the delivery signature.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Signature-Timestamp"
)

const maxBodyBytes = httputil.MaxRequestBody

// Middleware rejects requests whose signature does not verify.
// The body is buffered and restored for the next handler.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			if err != nil {
				httputil.Error(w, http.StatusBadRequest, "failed to read body")
				return
			}
			if len(body) > maxBodyBytes {
				httputil.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}

			err = v.Verify(r.Context(), body, r.Header.Get(HeaderSignature), r.Header.Get(HeaderTimestamp))
			if err != nil {
				logger := ctxlog.FromContext(r.Context())
				if isVerificationFailure(err) {
					logger.Warn("delivery signature rejected", "error", err)
					httputil.Error(w, http.StatusUnauthorized, "invalid signature")
					return
				}
				logger.Error("delivery signature check failed", "error", err)
				httputil.Error(w, http.StatusInternalServerError, "internal error")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

func isVerificationFailure(err error) bool {
	return errors.Is(err, ErrMissingHeader) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrTimestampExpired) ||
		errors.Is(err, ErrSignatureMismatch)
}
