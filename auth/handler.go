package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"carnival/httputil"
	"carnival/settings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const maxPasswordLen = 72 // bcrypt truncates at 72 bytes

// TokenTTL is how long an admin token stays valid.
const TokenTTL = 24 * time.Hour

var (
	ErrNoToken        = errors.New("no token provided")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrNotConfigured  = errors.New("jwt secret not configured")
	ErrPasswordLength = errors.New("admin password must not exceed 72 bytes")
)

type contextKey string

// AdminKey is the context key holding the authenticated admin username.
const AdminKey contextKey = "admin"

// AdminFrom returns the admin username stored by Middleware.
func AdminFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(AdminKey).(string)
	return name, ok && name != ""
}

// SecretSource yields the current signing secret.
type SecretSource interface {
	Get(ctx context.Context, key string) (string, error)
}

// Handler authenticates the single admin account.
type Handler struct {
	Username     string
	passwordHash []byte
	Secrets      SecretSource
	Now          func() time.Time
}

// NewHandler hashes password once so login never compares plaintext.
func NewHandler(username, password string, secrets SecretSource) (*Handler, error) {
	if len(password) > maxPasswordLen {
		return nil, ErrPasswordLength
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	return &Handler{Username: username, passwordHash: hash, Secrets: secrets, Now: time.Now}, nil
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *Handler) secret(ctx context.Context) (string, error) {
	s, err := h.Secrets.Get(ctx, settings.KeyJWTSecret)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", ErrNotConfigured
	}
	return s, nil
}

// LoginRequest is the JSON body for POST /api/admin/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin exchanges admin credentials for a JWT.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, 400, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteError(w, 400, "username and password are required")
		return
	}

	usernameOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.Username)) == 1
	passwordOK := len(req.Password) <= maxPasswordLen &&
		bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)) == nil
	if !usernameOK || !passwordOK {
		log.Warn().Str("username", req.Username).Msg("admin login rejected")
		httputil.WriteError(w, 401, "invalid credentials")
		return
	}

	secret, err := h.secret(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin login: signing secret unavailable")
		httputil.WriteError(w, 503, "admin authentication not configured")
		return
	}
	token, err := GenerateToken(h.Username, secret, h.now())
	if err != nil {
		httputil.WriteError(w, 500, "failed to generate token")
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{
		"success":  true,
		"token":    token,
		"username": h.Username,
	})
}

// GenerateToken signs an admin token valid for TokenTTL from now.
func GenerateToken(username, secret string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":      "admin",
		"username": username,
		"admin":    true,
		"exp":      now.Add(TokenTTL).Unix(),
		"iat":      now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates an admin token and returns its username.
func ParseToken(tokenStr, secret string, now time.Time) (string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	if isAdmin, _ := claims["admin"].(bool); !isAdmin {
		return "", ErrInvalidToken
	}
	name, _ := claims["username"].(string)
	if name == "" {
		name = "admin"
	}
	return name, nil
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// Middleware rejects requests without a valid admin token. The secret is
// looked up per request so rotating it invalidates outstanding tokens.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			writeAuthError(w, ErrNoToken)
			return
		}
		secret, err := h.secret(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("admin auth: signing secret unavailable")
			httputil.WriteError(w, 503, "admin authentication not configured")
			return
		}
		name, err := ParseToken(tokenStr, secret, h.now())
		if err != nil {
			writeAuthError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), AdminKey, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAuthError(w http.ResponseWriter, err error) {
	code := "invalid_token"
	switch {
	case errors.Is(err, ErrNoToken):
		code = "no_token"
	case errors.Is(err, ErrTokenExpired):
		code = "token_expired"
	}
	httputil.WriteJSON(w, 401, map[string]string{"error": "unauthorized: " + err.Error(), "code": code})
}
