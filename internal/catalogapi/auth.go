package catalogapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenAudience = "catalog"
	ScopeWrite    = "catalog:write"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

type adminClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

func (c *adminClaims) hasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// authorize checks the bearer token on a write. It allows everything when no
// secret is configured.
func (s *Server) authorize(authHeader string) *authError {
	if s.cfg.JWTSecret == "" {
		return nil
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return &authError{status: http.StatusUnauthorized, code: "Unauthorized", message: "missing or invalid bearer token"}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	claims := &adminClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return &authError{status: http.StatusUnauthorized, code: "Unauthorized", message: "token expired"}
		}
		return &authError{status: http.StatusUnauthorized, code: "Unauthorized", message: "invalid token"}
	}
	if !claims.VerifyAudience(tokenAudience, true) {
		return &authError{status: http.StatusUnauthorized, code: "Unauthorized", message: "invalid aud claim"}
	}
	if !claims.hasScope(ScopeWrite) {
		return &authError{status: http.StatusForbidden, code: "Forbidden", message: "missing required scope: " + ScopeWrite}
	}
	return nil
}

// IssueToken signs an admin token for subject valid for ttl.
func IssueToken(secret, subject string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	expires := now.Add(ttl)
	claims := adminClaims{
		Scopes: []string{ScopeWrite},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// HashPassword is the bcrypt hash expected in Config.AdminPasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.cfg.JWTSecret == "" || s.cfg.AdminPasswordHash == "" {
		writeError(w, http.StatusNotFound, "Not found", "token issuance is disabled")
		return
	}
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Bad request", "invalid json body")
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.cfg.AdminUser)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPasswordHash), []byte(req.Password))
	if !userOK || passErr != nil {
		s.logger.Warn("admin login rejected", zap.String("username", req.Username))
		writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
		return
	}
	token, expires, err := IssueToken(s.cfg.JWTSecret, req.Username, s.cfg.TokenTTL, s.cfg.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": expires.UTC().Format(time.RFC3339),
	})
}
