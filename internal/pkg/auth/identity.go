// Package auth 校验上游签发的访问令牌，并把调用者身份放进 context。
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

type Role string

const (
	RolePlayer Role = "PLAYER"
	RoleStaff  Role = "STAFF"
	RoleAdmin  Role = "ADMIN"
)

var (
	ErrTokenMissing = errors.New("access token not provided")
	ErrTokenInvalid = errors.New("access token invalid")
	ErrTokenExpired = errors.New("access token has expired")
	ErrInactiveUser = errors.New("access denied, user is deactivated")
)

// Identity 是已认证的调用者。
type Identity struct {
	UserID string
	Role   Role
	Active bool
}

// IsStaff 对 STAFF 和 ADMIN 返回 true。
func (i Identity) IsStaff() bool {
	return i.Role == RoleStaff || i.Role == RoleAdmin
}

// Claims 与用户服务签发的 JWT 载荷保持一致。
type Claims struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	Active bool   `json:"active"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify 校验 HS256 令牌并返回调用者身份。
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrTokenMissing
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, errors.Wrap(ErrTokenInvalid, err.Error())
	}
	if claims.UserID == "" {
		return Identity{}, errors.Wrap(ErrTokenInvalid, "missing userId")
	}
	return Identity{UserID: claims.UserID, Role: claims.Role, Active: claims.Active}, nil
}

// IssueToken 签发令牌，用于测试与本地调试；生产令牌由用户服务签发。
func IssueToken(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: id.UserID,
		Role:   id.Role,
		Active: id.Active,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// BearerToken 从 "Bearer <token>" 中取出令牌。
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type ctxKey struct{}

type principal struct {
	identity   Identity
	credential string
}

// WithIdentity 把身份和原始令牌放入 context。
func WithIdentity(ctx context.Context, id Identity, credential string) context.Context {
	return context.WithValue(ctx, ctxKey{}, principal{identity: id, credential: credential})
}

func FromContext(ctx context.Context) (Identity, bool) {
	p, ok := ctx.Value(ctxKey{}).(principal)
	return p.identity, ok
}

// CredentialFromContext 返回调用者的原始令牌，用于向下游转发。
func CredentialFromContext(ctx context.Context) string {
	p, _ := ctx.Value(ctxKey{}).(principal)
	return p.credential
}

// 与用户服务共享的认证错误码
const (
	CodeForbidden       = "AU01"
	CodeTokenExpired    = "AU03"
	CodeTokenMissing    = "AU04"
	CodeTokenInvalid    = "AU05"
	CodeUserDeactivated = "AU06"
)

// ErrorCode 返回认证错误对应的错误码。
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return CodeTokenMissing
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, ErrInactiveUser):
		return CodeUserDeactivated
	default:
		return CodeTokenInvalid
	}
}

// Authenticate 校验令牌并要求用户处于激活状态。
func (v *Verifier) Authenticate(token string) (Identity, error) {
	id, err := v.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	if !id.Active {
		return Identity{}, ErrInactiveUser
	}
	return id, nil
}

// Middleware 校验 Authorization 头；未认证返回 401，已停用用户返回 403。
func Middleware(v *Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r.Header.Get("Authorization"))
		id, err := v.Authenticate(token)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrInactiveUser) {
				status = http.StatusForbidden
			}
			WriteError(w, status, ErrorCode(err), errors.Cause(err).Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id, token)))
	})
}

// WriteError 输出统一的错误响应 {success:false, message, error:{code}}。
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
		"error":   map[string]string{"code": code},
	})
}
