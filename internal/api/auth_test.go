package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	a := NewAuthenticator(newMemStore(), "", "", "test-secret", true, testLog())

	token, err := a.IssueToken("user-1")
	require.NoError(t, err)

	userID, err := a.verifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthenticator(newMemStore(), "", "", "secret-a", true, testLog())
	verifier := NewAuthenticator(newMemStore(), "", "", "secret-b", true, testLog())

	token, err := issuer.IssueToken("user-1")
	require.NoError(t, err)

	_, err = verifier.verifyToken(token)
	assert.Error(t, err)
}

func TestLoginGuestWithoutCode(t *testing.T) {
	store := newMemStore()
	a := NewAuthenticator(store, "", "", "test-secret", true, testLog())

	user, err := a.Login(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, guestOpenID, user.OpenID)

	// Repeat logins reuse the same guest.
	again, err := a.Login(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}

func TestLoginRejectedWhenGuestsDisallowed(t *testing.T) {
	a := NewAuthenticator(newMemStore(), "", "", "test-secret", false, testLog())

	_, err := a.Login(context.Background(), "", "")
	assert.ErrorIs(t, err, errLoginRejected)
}

func TestMiddlewareRejectsWithoutGuest(t *testing.T) {
	store := newMemStore()
	auth := NewAuthenticator(store, "", "", "test-secret", false, testLog())
	h := NewHandler(store, auth, &stubPipeline{}, nil, nil, &stubInspiration{}, testLog())

	w := doJSON(t, h.Router(), http.MethodGet, "/api/favorites", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareAcceptsBearerToken(t *testing.T) {
	store := newMemStore()
	user, err := store.CreateUser(context.Background(), "openid-1", "测试用户")
	require.NoError(t, err)

	auth := NewAuthenticator(store, "", "", "test-secret", false, testLog())
	h := NewHandler(store, auth, &stubPipeline{}, nil, nil, &stubInspiration{}, testLog())

	token, err := auth.IssueToken(user.ID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/user", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "测试用户")
}

func TestWechatCodeExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-code", r.URL.Query().Get("js_code"))
		w.Write([]byte(`{"openid": "wx-openid-1", "session_key": "ignored"}`))
	}))
	defer srv.Close()

	store := newMemStore()
	a := NewAuthenticator(store, "appid", "secret", "test-secret", false, testLog())

	// Point the exchange at the fake endpoint.
	openid, err := a.exchangeCodeAt(context.Background(), srv.URL, "test-code")
	require.NoError(t, err)
	assert.Equal(t, "wx-openid-1", openid)
}
