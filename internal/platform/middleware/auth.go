package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// OperatorAuth guards the operator surface. Two credentials are accepted: a
// bearer JWT signed with the shared key, or a raw admin key matched against
// its bcrypt hash. The hash lives in config so the plaintext key is never
// stored server-side.
type OperatorAuth struct {
	signingKey   []byte
	adminKeyHash []byte
	logger       *slog.Logger
}

// NewOperatorAuth creates the guard. An empty adminKeyHash disables the
// admin-key path.
func NewOperatorAuth(signingKey, adminKeyHash string, logger *slog.Logger) *OperatorAuth {
	return &OperatorAuth{
		signingKey:   []byte(signingKey),
		adminKeyHash: []byte(adminKeyHash),
		logger:       logger,
	}
}

// Require rejects requests carrying neither valid credential.
func (a *OperatorAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.allowBearer(r) || a.allowAdminKey(r) {
			next.ServeHTTP(w, r)
			return
		}
		a.logger.WarnContext(r.Context(), "unauthorized operator request",
			"request_id", GetRequestID(r.Context()),
			"path", r.URL.Path,
		)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func (a *OperatorAuth) allowBearer(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && parsed.Valid
}

func (a *OperatorAuth) allowAdminKey(r *http.Request) bool {
	if len(a.adminKeyHash) == 0 {
		return false
	}
	key := r.Header.Get("X-Admin-Key")
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.adminKeyHash, []byte(key)) == nil
}
