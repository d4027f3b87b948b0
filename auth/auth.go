/*
auth.go - Identity Context: bearer tokens and passwords

PURPOSE:
  Turns an Authorization header into a retail.Identity. The core never
  looks at tokens; it only receives the resolved Identity.

TOKEN:
  HS256 JWT. Claims: sub (user id), email, role, iat, exp.
  Tokens are signed by the operator CLI (`server token`), not by the API.

ROLE RESOLUTION:
  The token proves who the caller is. The role is then read from the user
  store, so a promotion takes effect on the next request without reissuing
  tokens. A token for a deleted user is rejected.

SEE ALSO:
  - api/server.go: identity middleware
  - cmd/server/main.go: token and seed-admin commands
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/stockroom/retail"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTTL is the lifetime of issued tokens.
const DefaultTTL = 24 * time.Hour

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("token subject is not a known user")
)

// Claims holds the typed JWT payload.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// =============================================================================
// ISSUING
// =============================================================================

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for user.
func (i *Issuer) Issue(user retail.UserProfile) (string, error) {
	now := i.now()
	claims := Claims{
		Email: user.Email,
		Role:  string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// =============================================================================
// VERIFYING
// =============================================================================

type Verifier struct {
	secret []byte
	users  retail.UserStore
}

// NewVerifier returns a Verifier. users may be nil, in which case the role
// claim in the token is trusted as-is.
func NewVerifier(secret string, users retail.UserStore) *Verifier {
	return &Verifier{secret: []byte(secret), users: users}
}

// Authenticate resolves the value of an Authorization header.
func (v *Verifier) Authenticate(ctx context.Context, header string) (retail.Identity, error) {
	token, ok := bearer(header)
	if !ok {
		return retail.Identity{}, ErrMissingToken
	}
	claims, err := v.Parse(token)
	if err != nil {
		return retail.Identity{}, err
	}

	id := retail.Identity{UserID: retail.UserID(claims.Subject), Email: claims.Email}
	if v.users == nil {
		role, err := retail.ParseRole(claims.Role)
		if err != nil {
			return retail.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		id.Role = role
		return id, nil
	}

	user, err := v.users.GetUser(ctx, id.UserID)
	if err != nil {
		return retail.Identity{}, fmt.Errorf("load user %s: %w", id.UserID, err)
	}
	if user == nil {
		return retail.Identity{}, ErrUnknownUser
	}
	id.Email = user.Email
	id.Role = user.Role
	return id, nil
}

// Parse validates the signature and expiry of token.
func (v *Verifier) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// =============================================================================
// PASSWORDS
// =============================================================================

// HashPassword returns a bcrypt hash of the plain-text password.
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckPassword compares a bcrypt hash against the plain-text candidate.
func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
