package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/anrongyuuu/recipeapp/internal/recipe"
)

const (
	jscode2sessionURL = "https://api.weixin.qq.com/sns/jscode2session"
	guestOpenID       = "web_guest"
	tokenTTL          = 7 * 24 * time.Hour
	userIDKey         = "userID"
)

var errLoginRejected = errors.New("login code rejected")

// Authenticator exchanges WeChat mini-program login codes for users and
// issues the bearer tokens the rest of the API trusts.
type Authenticator struct {
	store      recipe.Store
	httpClient *http.Client
	appID      string
	secret     string
	jwtSecret  []byte
	allowGuest bool
	log        *logrus.Entry
}

func NewAuthenticator(store recipe.Store, appID, secret, jwtSecret string, allowGuest bool, log *logrus.Entry) *Authenticator {
	return &Authenticator{
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		appID:      appID,
		secret:     secret,
		jwtSecret:  []byte(jwtSecret),
		allowGuest: allowGuest,
		log:        log,
	}
}

// Login resolves a login code to a user. Without WeChat credentials, or with
// an empty code, a shared guest identity is used when guests are allowed.
func (a *Authenticator) Login(ctx context.Context, code, nickname string) (*recipe.User, error) {
	openid := ""
	if code != "" && a.appID != "" && a.secret != "" {
		resolved, err := a.exchangeCode(ctx, code)
		if err != nil {
			a.log.WithError(err).Warn("wechat code exchange failed")
			if !a.allowGuest {
				return nil, errLoginRejected
			}
		} else {
			openid = resolved
		}
	}
	if openid == "" {
		if !a.allowGuest {
			return nil, errLoginRejected
		}
		openid = guestOpenID
	}

	if existing, err := a.store.GetUserByOpenID(ctx, openid); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}
	return a.store.CreateUser(ctx, openid, nickname)
}

type jscodeResponse struct {
	OpenID  string `json:"openid"`
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (a *Authenticator) exchangeCode(ctx context.Context, code string) (string, error) {
	return a.exchangeCodeAt(ctx, jscode2sessionURL, code)
}

func (a *Authenticator) exchangeCodeAt(ctx context.Context, baseURL, code string) (string, error) {
	q := url.Values{}
	q.Set("appid", a.appID)
	q.Set("secret", a.secret)
	q.Set("js_code", code)
	q.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	var parsed jscodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode jscode2session response: %w", err)
	}
	if parsed.ErrCode != 0 || parsed.OpenID == "" {
		return "", fmt.Errorf("jscode2session error %d: %s", parsed.ErrCode, parsed.ErrMsg)
	}
	return parsed.OpenID, nil
}

// IssueToken signs a bearer token for a resolved user.
func (a *Authenticator) IssueToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

func (a *Authenticator) verifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Middleware resolves the caller from a bearer token. Requests without a
// valid token fall back to the guest identity when guests are allowed, and
// are rejected otherwise.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) > 7 && header[:7] == "Bearer " {
			if userID, err := a.verifyToken(header[7:]); err == nil {
				c.Set(userIDKey, userID)
				c.Next()
				return
			} else {
				a.log.WithError(err).Debug("bearer token rejected")
			}
		}

		if !a.allowGuest {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未登录"})
			return
		}
		user, err := a.guestUser(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "登录状态异常"})
			return
		}
		c.Set(userIDKey, user.ID)
		c.Next()
	}
}

func (a *Authenticator) guestUser(ctx context.Context) (*recipe.User, error) {
	if existing, err := a.store.GetUserByOpenID(ctx, guestOpenID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}
	return a.store.CreateUser(ctx, guestOpenID, "")
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
