// Package auth выпускает и проверяет JWT для HTTP API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/erp/internal/domain"
)

const issuer = "erp-service"

var (
	// ErrInvalidToken: подпись, формат или тип токена не подходят.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	// ErrExpiredToken: срок действия токена истёк.
	ErrExpiredToken = fmt.Errorf("%w: token expired", domain.ErrUnauthenticated)
)

// TokenType различает access и refresh токены.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims: полезная нагрузка токена. Subject содержит идентификатор пользователя.
type Claims struct {
	OrganizationID string          `json:"org"`
	Role           domain.UserRole `json:"role"`
	Type           TokenType       `json:"typ"`
	jwt.RegisteredClaims
}

// UserID возвращает идентификатор пользователя из Subject.
func (c *Claims) UserID() string { return c.Subject }

// TokenPair: результат входа или обновления.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// JWTManager подписывает токены HS256.
type JWTManager struct {
	secretKey  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *log.Entry
}

// NewJWTManager создаёт менеджер токенов.
func NewJWTManager(secretKey string, accessTTL, refreshTTL time.Duration, logger *log.Entry) *JWTManager {
	if logger == nil {
		logger = log.WithField("component", "jwt")
	}
	return &JWTManager{
		secretKey:  []byte(secretKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
}

// GenerateTokenPair выпускает access и refresh токены пользователя.
func (j *JWTManager) GenerateTokenPair(user domain.User) (TokenPair, error) {
	now := time.Now()
	access, accessExp, err := j.sign(user, TokenAccess, now, j.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := j.sign(user, TokenRefresh, now, j.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (j *JWTManager) sign(user domain.User, typ TokenType, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	claims := Claims{
		OrganizationID: user.OrganizationID,
		Role:           user.Role,
		Type:           typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   user.ID,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		j.logger.WithError(err).Error("failed to sign token")
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return token, expiresAt, nil
}

// ValidateToken проверяет подпись, срок и тип токена.
func (j *JWTManager) ValidateToken(tokenString string, expected TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return j.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		j.logger.WithError(err).Debug("token rejected")
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != expected || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
