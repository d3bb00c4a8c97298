package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakefund/internal/crypto"
	"github.com/alanyoungcy/stakefund/internal/domain"
)

// Headers carried by signed requests.
const (
	HeaderAddress   = "X-Address"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// Caller returns the authenticated caller stored by Signed.
func Caller(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// AuthConfig configures Signed.
type AuthConfig struct {
	// Nonces rejects replayed signatures. Nil disables replay protection.
	Nonces domain.NonceStore
	// Window is the accepted clock skew of X-Timestamp. Default 5m.
	Window time.Duration
	// MaxBody caps the signed body. Default 1 MiB.
	MaxBody int64
	// Trusted accepts X-Address without a signature. Dev mode only.
	Trusted bool
	Now     func() time.Time
}

// Signed returns middleware that authenticates the caller of a mutating
// request. The caller proves control of X-Address with an EIP-191 signature
// over crypto.RequestMessage; the recovered address is stored in the request
// context.
func Signed(cfg AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 1 << 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger = logger.With(slog.String("component", "auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addrHex := strings.TrimSpace(r.Header.Get(HeaderAddress))
			if !common.IsHexAddress(addrHex) {
				writeError(w, http.StatusUnauthorized, "missing or invalid "+HeaderAddress)
				return
			}
			claimed := common.HexToAddress(addrHex)

			if cfg.Trusted {
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), claimed)))
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "missing or invalid "+HeaderTimestamp)
				return
			}
			skew := cfg.Now().Sub(time.Unix(ts, 0))
			if skew > cfg.Window || skew < -cfg.Window {
				writeError(w, http.StatusUnauthorized, "request timestamp outside the accepted window")
				return
			}

			sig, err := crypto.DecodeSignature(r.Header.Get(HeaderSignature))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "missing or invalid "+HeaderSignature)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				writeError(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			recovered, err := crypto.RecoverAddress(crypto.RequestMessage(r.Method, r.URL.Path, ts, body), sig)
			if err != nil || recovered != claimed {
				writeError(w, http.StatusUnauthorized, "signature does not match "+HeaderAddress)
				return
			}

			if cfg.Nonces != nil {
				fresh, err := cfg.Nonces.Remember(r.Context(), strings.ToLower(r.Header.Get(HeaderSignature)), 2*cfg.Window)
				if err != nil {
					logger.ErrorContext(r.Context(), "nonce store unavailable", slog.String("error", err.Error()))
					writeError(w, http.StatusServiceUnavailable, "replay protection unavailable")
					return
				}
				if !fresh {
					writeError(w, http.StatusUnauthorized, "signature already used")
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), claimed)))
		})
	}
}
