package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func porterInput() AccessTokenInput {
	return AccessTokenInput{UserID: "porter-1", OrganizationID: "org-1", Role: "PORTER", DeviceID: "gate-1"}
}

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	svc, err := NewJWTService(JWTConfig{
		Secret:         "super-secret",
		Issuer:         "atlas",
		AccessTokenTTL: time.Hour,
		Clock:          now,
	})
	require.NoError(t, err)

	input := porterInput()
	input.Audience = []string{"gate"}
	token, err := svc.GenerateAccessToken(input)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)

	require.Equal(t, "porter-1", claims.UserID)
	require.Equal(t, "org-1", claims.OrganizationID)
	require.Equal(t, "PORTER", claims.Role)
	require.Equal(t, "gate-1", claims.DeviceID)
	require.Equal(t, "atlas", claims.Issuer)
	require.Equal(t, jwt.ClaimStrings{"gate"}, claims.Audience)
	require.True(t, claims.IssuedAt.Time.Equal(current))
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestGenerateAccessTokenRequiresTenantAndRole(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "secret"})
	require.NoError(t, err)

	_, err = svc.GenerateAccessToken(AccessTokenInput{UserID: "u", Role: "ADMIN"})
	require.EqualError(t, err, "jwt: organization id is required")

	_, err = svc.GenerateAccessToken(AccessTokenInput{UserID: "u", OrganizationID: "org-1"})
	require.EqualError(t, err, "jwt: role is required")
}

func TestValidateAccessTokenRejectsMissingClaims(t *testing.T) {
	secret := []byte("secret")
	svc, err := NewJWTService(JWTConfig{Secret: string(secret)})
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "u",
		Role:   "ADMIN",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(signed)
	require.EqualError(t, err, "jwt: missing organization claim")
}

func TestValidateAccessTokenInvalidSignature(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC) }

	issuer, err := NewJWTService(JWTConfig{
		Secret:         "issuer-secret",
		AccessTokenTTL: time.Minute,
		Clock:          now,
	})
	require.NoError(t, err)

	token, err := issuer.GenerateAccessToken(porterInput())
	require.NoError(t, err)

	verifier, err := NewJWTService(JWTConfig{
		Secret:         "other-secret",
		AccessTokenTTL: time.Minute,
		Clock:          now,
	})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
}

func TestValidateAccessTokenExpired(t *testing.T) {
	current := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	svc, err := NewJWTService(JWTConfig{
		Secret:         "secret",
		AccessTokenTTL: time.Minute,
		Clock:          now,
	})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(porterInput())
	require.NoError(t, err)

	// Move time forward beyond expiry.
	current = current.Add(2 * time.Minute)

	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, jwt.ErrTokenExpired))
}
