package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	CtxSubjectKey = "subject"
	CtxRoleKey    = "role"

	HeaderAPIKey   = "X-API-Key"
	HeaderAdminKey = "X-Admin-Key"
)

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": msg}})
}

// RequireAPIAccess: X-API-Key か Authorization: Bearer <token> のどちらかで通す。
// どちらも設定されていなければ何もしない (社内ネットワーク運用)
func RequireAPIAccess(apiKey string, jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" && len(jwtSecret) == 0 {
			c.Next()
			return
		}

		if k := c.GetHeader(HeaderAPIKey); k != "" {
			if apiKey != "" && subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
				c.Set(CtxSubjectKey, "api-key")
				c.Next()
				return
			}
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
			return
		}

		h := c.GetHeader("Authorization")
		if h == "" || len(jwtSecret) == 0 {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing credentials")
			return
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid Authorization header")
			return
		}
		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "empty token")
			return
		}

		sub, role, err := ParseToken(jwtSecret, tokenStr)
		if err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}

		c.Set(CtxSubjectKey, sub)
		c.Set(CtxRoleKey, role)
		c.Next()
	}
}

// ParseToken: HS256 固定。sub 必須、role は任意
func ParseToken(secret []byte, tokenStr string) (sub, role string, err error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		// alg 固定（none攻撃とか回避）
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", "", err
	}
	if token == nil || !token.Valid {
		return "", "", jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	sub, _ = claims["sub"].(string)
	if sub == "" {
		return "", "", jwt.ErrTokenRequiredClaimMissing
	}
	role, _ = claims["role"].(string)
	return sub, role, nil
}

// RequireAdminKey: ?key= か X-Admin-Key で管理者キーを確認する。
// キー未設定なら管理エンドポイント自体を隠す (404)
func RequireAdminKey(k AdminKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !k.Configured() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		presented := c.Query("key")
		if presented == "" {
			presented = c.GetHeader(HeaderAdminKey)
		}
		if presented == "" || !k.Verify(presented) {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
			return
		}
		c.Next()
	}
}
