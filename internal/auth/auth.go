package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/chat"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	IdentityID string `json:"iid"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// GenerateAccessToken 签发与身份绑定的 HS256 令牌，同时用于 websocket 握手。
func GenerateAccessToken(identityID, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		IdentityID: identityID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.IdentityID != "" {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// BearerToken 从 Authorization 头中提取 bearer token，不存在时返回空串。
func BearerToken(authz string) string {
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("Bearer "):])
}

// TokenFromRequest 优先读取 token 查询参数（浏览器 websocket 无法设置请求头），其次读取 Authorization 头。
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return BearerToken(r.Header.Get("Authorization"))
}

// Authenticator resolves a token to a live identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (chat.Identity, error)
}

func AuthMiddleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := BearerToken(c.GetHeader("Authorization"))
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		identity, err := a.Authenticate(c.Request.Context(), tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("identity", identity)
		c.Next()
	}
}

func GetIdentity(c *gin.Context) (chat.Identity, bool) {
	if v, ok := c.Get("identity"); ok {
		if id, ok2 := v.(chat.Identity); ok2 {
			return id, true
		}
	}
	return chat.Identity{}, false
}
