package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mealrun-backend/pkg/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "mealrun",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()
	userID := uuid.New()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{UserID: userID, Email: " Hokie@VT.edu "})
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)

	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "hokie@vt.edu", claims.Email)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
	assert.Equal(t, Identity{UserID: userID, Email: "hokie@vt.edu"}, claims.Identity())

	exp := now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)
	assert.WithinDuration(t, exp, claims.ExpiresAt.Time, time.Second)
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Email: "a@vt.edu"})
	require.NoError(t, err)

	other := cfg
	other.Secret = "different"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err)
}

func TestParseAccessTokenExpired(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{UserID: uuid.New(), Email: "a@vt.edu"})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "expired"), err.Error())
}

func TestMintRejectsMissingIdentity(t *testing.T) {
	cfg := testJWTConfig()
	_, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Email: "a@vt.edu"})
	assert.Error(t, err)
	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Email: "not-an-email"})
	assert.Error(t, err)
}

func TestEmailAllowList(t *testing.T) {
	isAdmin := EmailAllowList([]string{" Admin@VT.edu", "", "ops@vt.edu"})

	assert.True(t, isAdmin(Identity{UserID: uuid.New(), Email: "admin@vt.edu"}))
	assert.True(t, isAdmin(Identity{UserID: uuid.New(), Email: "OPS@vt.edu "}))
	assert.False(t, isAdmin(Identity{UserID: uuid.New(), Email: "student@vt.edu"}))
	assert.False(t, isAdmin(Identity{UserID: uuid.New()}))

	assert.False(t, EmailAllowList(nil)(Identity{Email: "admin@vt.edu"}))
	assert.False(t, DenyAll(Identity{Email: "admin@vt.edu"}))
}

func TestParseAccessTokenHonorsLeeway(t *testing.T) {
	cfg := testJWTConfig()
	cfg.ExpirationMinutes = 1
	token, err := MintAccessToken(cfg, time.Now().Add(-70*time.Second), AccessTokenPayload{UserID: uuid.New(), Email: "a@vt.edu"})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	cfg.Leeway = time.Minute
	_, err = ParseAccessToken(cfg, token)
	assert.NoError(t, err)
}

func TestParseAccessTokenRejectsOtherIssuerAndAlgorithm(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Email: "a@vt.edu"})
	require.NoError(t, err)

	other := cfg
	other.Issuer = "someone-else"
	_, err = ParseAccessToken(other, token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, AccessTokenClaims{UserID: uuid.New()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, unsigned)
	assert.Error(t, err)
}

func TestTokenConfigErrors(t *testing.T) {
	_, err := ParseAccessToken(config.JWTConfig{Issuer: "mealrun"}, "x")
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = MintAccessToken(config.JWTConfig{Secret: "s"}, time.Now(), AccessTokenPayload{UserID: uuid.New(), Email: "a@vt.edu"})
	assert.ErrorIs(t, err, ErrMissingIssuer)

	cfg := testJWTConfig()
	cfg.ExpirationMinutes = 0
	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{UserID: uuid.New(), Email: "a@vt.edu"})
	assert.ErrorIs(t, err, ErrInvalidTTL)
}
