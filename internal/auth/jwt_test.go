package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.Claims, method jwt.SigningMethod) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestValidate_ProviderToken(t *testing.T) {
	uid := uuid.New()
	svc := NewJWTService("secret")
	tok := sign(t, "secret", Claims{
		Email:       "ana@example.com",
		Role:        "authenticated",
		AppMetadata: AppMetadata{Role: RoleAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, jwt.SigningMethodHS256)

	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uid, got)
	assert.Equal(t, RoleAdmin, claims.AppRole())
	assert.Equal(t, "ana@example.com", claims.Email)
}

func TestValidate_Rejects(t *testing.T) {
	svc := NewJWTService("secret")
	valid := jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	_, err := svc.Validate(sign(t, "other", Claims{RegisteredClaims: valid}, jwt.SigningMethodHS256))
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}
	_, err = svc.Validate(sign(t, "secret", Claims{RegisteredClaims: expired}, jwt.SigningMethodHS256))
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	_, err = svc.Validate(sign(t, "secret", Claims{RegisteredClaims: noSubject}, jwt.SigningMethodHS256))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAppRole_FallsBackToProviderRole(t *testing.T) {
	c := &Claims{Role: "authenticated"}
	assert.Equal(t, "authenticated", c.AppRole())
}
