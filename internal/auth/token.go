package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenPurpose はメールで送るトークンの用途を表す。
type TokenPurpose string

const (
	// PurposeVerifyEmail はメールアドレス検証用トークン。
	PurposeVerifyEmail TokenPurpose = "verify_email"
	// PurposeResetPassword はパスワードリセット用トークン。
	PurposeResetPassword TokenPurpose = "reset_password"
)

// ErrTokenPurpose はトークンの用途が期待と異なる場合のエラー。
var ErrTokenPurpose = errors.New("token purpose mismatch")

// TokenClaims はメールトークンのクレーム。
type TokenClaims struct {
	Purpose     TokenPurpose `json:"purpose"`
	Fingerprint string       `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// IdentityID はトークンの対象identityのIDを返す。
func (c *TokenClaims) IdentityID() string {
	return c.Subject
}

// TokenIssuer はHS256署名のメールトークンを発行・検証する。
type TokenIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret, issuer string) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// Issue は指定用途のトークンを発行する。
// fingerprintは空でもよい（リセットトークンのみが使用する）。
func (t *TokenIssuer) Issue(purpose TokenPurpose, identityID, fingerprint string, ttl time.Duration) (string, error) {
	now := t.now().UTC()
	claims := TokenClaims{
		Purpose:     purpose,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse はトークンを検証し、期待する用途であればクレームを返す。
func (t *TokenIssuer) Parse(purpose TokenPurpose, tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Purpose != purpose {
		return nil, ErrTokenPurpose
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidSubject
	}
	return claims, nil
}
