// Package identity turns a bearer token from the identity provider into
// profile claims. HMACDecoder serves the development backend's shared-secret
// tokens; OIDCDecoder verifies ID tokens against a real issuer.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"boardline/internal/domain"
)

const DefaultRolesClaim = "roles"

var ErrInvalidToken = errors.New("invalid token")

// Claims are the profile fields the client reads from a token.
type Claims struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email"`
	Name    string   `json:"name,omitempty"`
	Picture string   `json:"picture,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// User maps the claims to a domain user. The id is unknown until the backend
// profile sync assigns it.
func (c Claims) User() domain.User {
	u := domain.User{Email: c.Email, Role: domain.RoleUser}
	if len(c.Roles) > 0 {
		u.Role = domain.ParseRole(c.Roles[0])
	}
	if c.Name != "" {
		u.Name = domain.StringPtr(c.Name)
	}
	if c.Picture != "" {
		u.PictureURL = domain.StringPtr(c.Picture)
	}
	return u
}

type Decoder interface {
	Decode(ctx context.Context, raw string) (Claims, error)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Email   string   `json:"email,omitempty"`
	Name    string   `json:"name,omitempty"`
	Picture string   `json:"picture,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// HMACDecoder validates HS256 tokens signed with a shared secret.
type HMACDecoder struct {
	Secret []byte
}

func (d HMACDecoder) Decode(_ context.Context, raw string) (Claims, error) {
	if len(d.Secret) == 0 {
		return Claims{}, errors.New("hmac secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	var claims jwtClaims
	token, err := parser.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
		return d.Secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Claims{
		Subject: claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
		Roles:   claims.Roles,
	}, nil
}

// Mint signs claims with the shared secret. ttl <= 0 yields a token without
// expiry.
func Mint(secret []byte, c Claims, ttl time.Duration, now time.Time) (string, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  c.Subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Email:   c.Email,
		Name:    c.Name,
		Picture: c.Picture,
		Roles:   c.Roles,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// OIDCDecoder verifies ID tokens issued by an OpenID Connect provider.
type OIDCDecoder struct {
	verifier   *oidc.IDTokenVerifier
	rolesClaim string
}

// NewOIDCDecoder discovers the issuer's keys. rolesClaim names the claim
// carrying roles, which providers often namespace.
func NewOIDCDecoder(ctx context.Context, issuer, clientID, rolesClaim string) (*OIDCDecoder, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover issuer %s: %w", issuer, err)
	}
	if rolesClaim == "" {
		rolesClaim = DefaultRolesClaim
	}
	return &OIDCDecoder{
		verifier:   provider.Verifier(&oidc.Config{ClientID: clientID}),
		rolesClaim: rolesClaim,
	}, nil
}

func (d *OIDCDecoder) Decode(ctx context.Context, raw string) (Claims, error) {
	idToken, err := d.verifier.Verify(ctx, strings.TrimSpace(raw))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var all map[string]any
	if err := idToken.Claims(&all); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claimsFromMap(idToken.Subject, all, d.rolesClaim), nil
}

func claimsFromMap(subject string, all map[string]any, rolesClaim string) Claims {
	str := func(key string) string {
		s, _ := all[key].(string)
		return s
	}
	c := Claims{Subject: subject, Email: str("email"), Name: str("name"), Picture: str("picture")}
	switch v := all[rolesClaim].(type) {
	case []any:
		for _, r := range v {
			if s, ok := r.(string); ok {
				c.Roles = append(c.Roles, s)
			}
		}
	case string:
		c.Roles = []string{v}
	}
	return c
}
