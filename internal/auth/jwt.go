// Package auth выпускает и проверяет JWT операторов, которым разрешено
// менять фокусы и воксели через API.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "voxel-stream"

// DefaultTTL срок жизни токена по умолчанию
const DefaultTTL = 24 * time.Hour

var (
	// ErrInvalidToken подпись, срок или формат токена неверны
	ErrInvalidToken = errors.New("invalid token")
	// ErrShortSecret секрет короче 32 байт
	ErrShortSecret = errors.New("secret key must be at least 32 bytes")
)

// Claims утверждения токена оператора
type Claims struct {
	Operator string `json:"operator"`
	ReadOnly bool   `json:"read_only,omitempty"`
	jwt.RegisteredClaims
}

// Issuer подписывает и проверяет токены одним секретом
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer создаёт выпускающего с секретом в base64. Пустой секрет
// заменяется случайным: токены живут до перезапуска процесса.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if secret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		return &Issuer{secret: key, ttl: ttl}, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if len(decoded) < 32 {
		return nil, ErrShortSecret
	}
	return &Issuer{secret: decoded, ttl: ttl}, nil
}

// Issue выпускает токен оператора
func (i *Issuer) Issue(operator string, readOnly bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		Operator: operator,
		ReadOnly: readOnly,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   operator,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate проверяет подпись и срок токена
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// GenerateSecureSecret случайный секрет в base64 для конфигурации
func GenerateSecureSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
