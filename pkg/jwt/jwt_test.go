package jwt

import (
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret    = "test-relay-secret-key-for-testing-purposes"
	testProjectID = "cms-project-1"
)

func TestNewService(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	assert.NotNil(t, service)
	assert.Equal(t, testSecret, service.secret)
	assert.Equal(t, time.Hour, service.expiry)
}

func TestGenerateRelayToken(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	token, err := service.GenerateRelayToken(testProjectID)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := service.ValidateRelayToken(token)
	require.NoError(t, err)
	assert.Equal(t, testProjectID, claims.ProjectID)
	assert.Equal(t, RelayToken, claims.TokenType)
	assert.Equal(t, issuer, claims.Issuer)
	assert.Equal(t, testProjectID, claims.Subject)
	require.NotNil(t, claims.ExpiresAt)
}

func TestGenerateRelayToken_NoExpiry(t *testing.T) {
	service := NewService(testSecret, 0)

	token, err := service.GenerateRelayToken(testProjectID)
	require.NoError(t, err)

	claims, err := service.ValidateRelayToken(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
	assert.False(t, service.IsTokenExpired(token))
}

func TestValidateRelayToken_WrongSecret(t *testing.T) {
	token, err := NewService("other-secret", time.Hour).GenerateRelayToken(testProjectID)
	require.NoError(t, err)

	_, err = NewService(testSecret, time.Hour).ValidateRelayToken(token)
	assert.Error(t, err)
}

func TestValidateRelayToken_Invalid(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.token"},
		{"random string", "randomstring"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ValidateRelayToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestTokenTypeMismatch(t *testing.T) {
	claims := Claims{
		ProjectID: testProjectID,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewService(testSecret, time.Hour).ValidateRelayToken(token)
	assert.ErrorContains(t, err, "invalid token type")
}

func TestExpiredToken(t *testing.T) {
	service := NewService(testSecret, -time.Hour)

	token, err := service.GenerateRelayToken(testProjectID)
	require.NoError(t, err)

	_, err = service.ValidateRelayToken(token)
	assert.Error(t, err)
	assert.True(t, service.IsTokenExpired(token))
}

func TestTokenSigningMethod(t *testing.T) {
	claims := Claims{ProjectID: testProjectID, TokenType: RelayToken}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewService(testSecret, time.Hour).ValidateRelayToken(token)
	assert.Error(t, err)
}

func TestExtractClaims(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	token, err := service.GenerateRelayToken(testProjectID)
	require.NoError(t, err)

	claims, err := service.ExtractClaims(token)
	require.NoError(t, err)
	assert.Equal(t, testProjectID, claims.ProjectID)
}

func TestConcurrentTokenGeneration(t *testing.T) {
	service := NewService(testSecret, time.Hour)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := service.GenerateRelayToken(testProjectID)
			if err == nil {
				_, err = service.ValidateRelayToken(token)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
