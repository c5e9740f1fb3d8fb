package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrEmptySecret = errors.New("jwt secret is empty")

// IssueToken: 連携システム向けのトークンを発行する (運用コマンドから使う)
func IssueToken(secret []byte, sub, role string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	if sub == "" {
		return "", jwt.ErrTokenRequiredClaimMissing
	}
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// AdminKey: 平文か bcrypt ハッシュのどちらかで持つ。両方あればハッシュ優先
type AdminKey struct {
	Plain string
	Hash  string
}

func (k AdminKey) Configured() bool { return k.Plain != "" || k.Hash != "" }

func (k AdminKey) Verify(presented string) bool {
	if k.Hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(presented)) == nil
	}
	if k.Plain == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(k.Plain)) == 1
}

func HashAdminKey(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
