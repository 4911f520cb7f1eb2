package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for a missing, malformed or expired token.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrUserBanned is returned when a valid token belongs to a banned user.
	ErrUserBanned = errors.New("user is banned")
)

// Claims is the JWT payload. The user id travels in the subject.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified caller of a request or socket.
type Identity struct {
	UserID string
	Name   string
	Role   string
}

// BanChecker reports whether a user may not connect.
type BanChecker interface {
	IsUserBanned(ctx context.Context, userID string) (bool, error)
}

// Authenticator issues and verifies HS256 tokens.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	bans   BanChecker
}

// NewAuthenticator creates an Authenticator. bans may be nil.
func NewAuthenticator(secret, issuer string, ttl time.Duration, bans BanChecker) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		bans:   bans,
	}
}

// Issue signs a token for the given identity.
func (a *Authenticator) Issue(userID, name, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse verifies a token string and returns its claims.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Authenticate verifies the request's token and ban state.
func (a *Authenticator) Authenticate(r *http.Request) (Identity, error) {
	raw := tokenFromRequest(r)
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: token missing", ErrInvalidToken)
	}
	claims, err := a.Parse(raw)
	if err != nil {
		return Identity{}, err
	}

	if a.bans != nil {
		banned, err := a.bans.IsUserBanned(r.Context(), claims.Subject)
		if err != nil {
			return Identity{}, fmt.Errorf("check ban for %s: %w", claims.Subject, err)
		}
		if banned {
			return Identity{}, ErrUserBanned
		}
	}

	return Identity{UserID: claims.Subject, Name: claims.Name, Role: claims.Role}, nil
}

// tokenFromRequest reads a bearer token, falling back to the token query
// parameter since browsers cannot set headers on a websocket handshake.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}

// authStatus maps an authentication error to an HTTP status.
func authStatus(err error) int {
	switch {
	case errors.Is(err, ErrUserBanned):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

// GetToken issues a development token. Without user_id a random id is minted.
func (h *Handler) GetToken(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = uuid.NewString()
	}
	name := c.DefaultQuery("name", "Guest")

	token, err := h.Auth.Issue(userID, name, c.Query("role"))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": userID})
}

// RequireAuth rejects requests without a valid token and stores the identity.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := h.Auth.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(authStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}
