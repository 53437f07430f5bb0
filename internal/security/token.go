package security

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatrelay/internal/domain"
)

// TokenService wraps JWT creation and validation. The subject claim carries
// the user ID issued by the identity service.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

var _ domain.TokenVerifier = (*TokenService)(nil)

// CreateForUser creates a JWT for the given user ID using the default TTL.
func (t *TokenService) CreateForUser(userID int64) (string, error) {
	return t.CreateWithTTL(userID, t.expiresIn)
}

// CreateWithTTL creates a JWT for the given user ID with an explicit TTL.
func (t *TokenService) CreateWithTTL(userID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify validates a token and returns the user ID from its subject.
func (t *TokenService) Verify(tokenStr string) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		return 0, domain.ErrAuth
	}
	if !token.Valid {
		return 0, domain.ErrAuth
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, domain.ErrAuth
	}
	sub, _ := claims["sub"].(string)
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrAuth
	}
	return id, nil
}
