package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"boardline/internal/domain"
)

func TestHMACRoundTripMapsAdminRole(t *testing.T) {
	secret := []byte("dev-secret")
	raw, err := Mint(secret, Claims{Subject: "abc", Email: "a@example.com", Roles: []string{"ADMIN"}}, time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := HMACDecoder{Secret: secret}.Decode(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "abc", claims.Subject)
	require.Equal(t, domain.RoleAdmin, claims.User().Role)
}

func TestHMACRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	raw, err := Mint([]byte("one"), Claims{Subject: "abc"}, time.Hour, time.Now())
	require.NoError(t, err)
	_, err = HMACDecoder{Secret: []byte("two")}.Decode(ctx, raw)
	require.True(t, errors.Is(err, ErrInvalidToken))

	expired, err := Mint([]byte("one"), Claims{Subject: "abc"}, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = HMACDecoder{Secret: []byte("one")}.Decode(ctx, expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	noSub, err := Mint([]byte("one"), Claims{Email: "x"}, 0, time.Now())
	require.NoError(t, err)
	_, err = HMACDecoder{Secret: []byte("one")}.Decode(ctx, noSub)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaimsUserDefaults(t *testing.T) {
	u := Claims{Email: "e@example.com"}.User()
	require.Equal(t, domain.RoleUser, u.Role)
	require.Nil(t, u.Name)
	require.Nil(t, u.PictureURL)

	u = Claims{Email: "e", Name: "E", Picture: "http://p", Roles: []string{"user", "ADMIN"}}.User()
	require.Equal(t, domain.RoleUser, u.Role)
	require.Equal(t, "E", *u.Name)
	require.Equal(t, "http://p", *u.PictureURL)
}

func TestClaimsFromMapNamespacedRoles(t *testing.T) {
	c := claimsFromMap("s", map[string]any{
		"email":                       "a@example.com",
		"https://boardline.dev/roles": []any{"ADMIN", 3},
	}, "https://boardline.dev/roles")
	require.Equal(t, []string{"ADMIN"}, c.Roles)
	require.Equal(t, "a@example.com", c.Email)

	c = claimsFromMap("s", map[string]any{"roles": "ADMIN"}, DefaultRolesClaim)
	require.Equal(t, []string{"ADMIN"}, c.Roles)
}
