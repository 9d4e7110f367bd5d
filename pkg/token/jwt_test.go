package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 1)

	tokenString, err := manager.GenerateToken("user-42", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	claims, err := manager.VerifyToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	manager := NewJWTManager("secret-a", 1)
	tokenString, err := manager.GenerateToken("user-42", "alice")
	require.NoError(t, err)

	other := NewJWTManager("secret-b", 1)
	_, err = other.VerifyToken(tokenString)
	require.Error(t, err)
}

func TestVerifyTokenExpired(t *testing.T) {
	// 负有效期直接生成一个已过期的 token
	manager := NewJWTManager("test-secret", -1)
	tokenString, err := manager.GenerateToken("user-42", "alice")
	require.NoError(t, err)

	_, err = manager.VerifyToken(tokenString)
	require.Error(t, err)
}

func TestVerifyTokenGarbage(t *testing.T) {
	manager := NewJWTManager("test-secret", 1)
	_, err := manager.VerifyToken("not.a.token")
	require.Error(t, err)
}
