// Package identity resolves the acting user from a signed JWT.
package identity

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/groupchat/internal/client/models"
	"github.com/dmitrijs2005/groupchat/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the standard claims plus the chat user identifier.
type Claims struct {
	jwt.RegisteredClaims
	UserID string
}

// GenerateToken signs an HS256 token for userID valid for validityDuration.
func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	if !validUserID(userID) {
		return "", fmt.Errorf("%w: user id must be 1..%d bytes", common.ErrInvalidToken, models.MaxSenderIDBytes)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid || !validUserID(claims.UserID) {
		return "", common.ErrInvalidToken
	}

	return claims.UserID, nil
}

func validUserID(id string) bool {
	return id != "" && len(id) <= models.MaxSenderIDBytes
}

// TokenIdentity implements client.Identity on top of a bearer token. The user
// is considered logged in while a valid token is held.
type TokenIdentity struct {
	mu     sync.RWMutex
	secret []byte
	token  string
	userID string
}

func NewTokenIdentity(secretKey []byte) *TokenIdentity {
	return &TokenIdentity{secret: secretKey}
}

// SetToken validates and stores token. On error the previous identity is kept.
func (i *TokenIdentity) SetToken(token string) (string, error) {
	userID, err := GetUserIDFromToken(token, i.secret)
	if err != nil {
		return "", err
	}

	i.mu.Lock()
	i.token = token
	i.userID = userID
	i.mu.Unlock()

	return userID, nil
}

func (i *TokenIdentity) Clear() {
	i.mu.Lock()
	i.token = ""
	i.userID = ""
	i.mu.Unlock()
}

// CurrentUserID re-checks the stored token so an expired session reads as
// logged out.
func (i *TokenIdentity) CurrentUserID() (string, bool) {
	i.mu.RLock()
	token := i.token
	i.mu.RUnlock()

	if token == "" {
		return "", false
	}

	userID, err := GetUserIDFromToken(token, i.secret)
	if err != nil {
		return "", false
	}
	return userID, true
}
