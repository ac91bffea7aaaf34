// Package clerk はIdPであるClerkとの連携機能を提供する。
// セッションJWTの検証、リクエストからのトークン取得、Backend APIからのユーザー取得を含む。
package clerk

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	clerksdk "github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/jwks"
	clerkjwt "github.com/clerk/clerk-sdk-go/v2/jwt"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// clockSkew はexp・nbf・iatの検証で許容する時刻のずれ。
	clockSkew = 5 * time.Second
	// jwksTTL は取得した公開鍵のキャッシュ有効期間。
	jwksTTL = time.Hour
	// jwksMinRefresh は未知のkidによる再取得の最小間隔。
	jwksMinRefresh = time.Minute
)

// Claims はClerkのセッショントークンのクレーム。
type Claims struct {
	SessionID       string `json:"sid"`
	AuthorizedParty string `json:"azp,omitempty"`
	jwt.RegisteredClaims
}

// UserID はClerkのユーザーID（sub）を返す。
func (c *Claims) UserID() string {
	return c.Subject
}

// VerifierConfig はVerifierの設定。
type VerifierConfig struct {
	// JWTKey はPEM形式の公開鍵。設定されている場合はJWKSを取得せずに検証する。
	JWTKey string
	// SecretKey はJWKS取得に使用するBackend APIのシークレットキー。
	SecretKey string
	// APIURL はBackend APIのベースURL。
	APIURL string
	// AuthorizedParties はazpとして許可するオリジン。空の場合はazpを検証しない。
	AuthorizedParties []string
}

// Verifier はClerkのセッションJWTを検証する。
type Verifier struct {
	staticKey         *clerksdk.JSONWebKey
	jwks              *jwksCache
	authorizedParties func(string) bool
	now               func() time.Time
}

// NewVerifier はVerifierを生成する。
func NewVerifier(cfg VerifierConfig, httpClient *http.Client) (*Verifier, error) {
	v := &Verifier{
		authorizedParties: clerkjwt.AuthorizedPartyMatches(cfg.AuthorizedParties...),
		now:               time.Now,
	}

	if cfg.JWTKey != "" {
		key, err := clerksdk.JSONWebKeyFromPEM(normalizePEM(cfg.JWTKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse CLERK_JWT_KEY: %w", err)
		}
		v.staticKey = key
		return v, nil
	}

	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("clerk secret key is required when CLERK_JWT_KEY is not set")
	}
	v.jwks = newJWKSCache(jwks.NewClient(backendConfig(httpClient, cfg.APIURL, cfg.SecretKey)))
	return v, nil
}

// Verify はトークンの署名とクレームを検証し、クレームを返す。
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	key := v.staticKey
	if key == nil {
		decoded, err := clerkjwt.Decode(ctx, &clerkjwt.DecodeParams{Token: tokenString})
		if err != nil {
			return nil, ErrTokenInvalid
		}
		if key, err = v.jwks.key(ctx, decoded.KeyID); err != nil {
			return nil, err
		}
	}

	session, err := clerkjwt.Verify(ctx, &clerkjwt.VerifyParams{
		Token:                  tokenString,
		JWK:                    key,
		Leeway:                 clockSkew,
		AuthorizedPartyHandler: v.authorizedParties,
	})
	if err != nil {
		return nil, v.classify(tokenString)
	}
	if session.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return &Claims{
		SessionID:       session.SessionID,
		AuthorizedParty: session.AuthorizedParty,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: session.Subject,
			Issuer:  session.Issuer,
		},
	}, nil
}

// classify は検証に失敗したトークンの失敗理由を判定する。
// 署名は検証済みでないため、結果はエラー種別の選択にのみ使う。
func (v *Verifier) classify(tokenString string) error {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ErrTokenInvalid
	}

	now := v.now()
	switch {
	case claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Add(clockSkew)):
		return ErrTokenExpired
	case claims.NotBefore != nil && now.Add(clockSkew).Before(claims.NotBefore.Time),
		claims.IssuedAt != nil && now.Add(clockSkew).Before(claims.IssuedAt.Time):
		return ErrTokenNotYetValid
	case !v.authorizedParties(claims.AuthorizedParty):
		return ErrUnauthorizedParty
	}
	return ErrTokenInvalid
}

// normalizePEM は環境変数で改行が\nとしてエスケープされたPEMを復元する。
func normalizePEM(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `\n`, "\n")
}

// jwksCache はJWKSから取得した公開鍵をkid単位でキャッシュする。
type jwksCache struct {
	client *jwks.Client
	now    func() time.Time

	mu        sync.Mutex
	keys      map[string]*clerksdk.JSONWebKey
	fetchedAt time.Time
}

func newJWKSCache(client *jwks.Client) *jwksCache {
	return &jwksCache{client: client, now: time.Now}
}

// key はkidに対応する公開鍵を返す。
// キャッシュ切れの場合、またはkidが未知の場合は（最小間隔を空けて）JWKSを再取得する。
func (c *jwksCache) key(ctx context.Context, kid string) (*clerksdk.JSONWebKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	age := c.now().Sub(c.fetchedAt)
	if c.keys != nil && age < jwksTTL {
		if k := c.lookup(kid); k != nil {
			return k, nil
		}
		if age < jwksMinRefresh {
			return nil, ErrUnknownKey
		}
	}

	set, err := c.client.Get(ctx, &jwks.GetParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jwks: %w", err)
	}
	keys := make(map[string]*clerksdk.JSONWebKey, len(set.Keys))
	for _, k := range set.Keys {
		if k != nil {
			keys[k.KeyID] = k
		}
	}
	c.keys = keys
	c.fetchedAt = c.now()

	if k := c.lookup(kid); k != nil {
		return k, nil
	}
	return nil, ErrUnknownKey
}

// lookup はkidに対応する鍵を返す。kidが空で鍵が1つだけの場合はその鍵を返す。
func (c *jwksCache) lookup(kid string) *clerksdk.JSONWebKey {
	if kid == "" && len(c.keys) == 1 {
		for _, k := range c.keys {
			return k
		}
	}
	return c.keys[kid]
}
