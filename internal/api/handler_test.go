package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anrongyuuu/recipeapp/internal/extract"
	"github.com/anrongyuuu/recipeapp/internal/pipeline"
	"github.com/anrongyuuu/recipeapp/internal/recipe"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// memStore is an in-memory recipe.Store for handler tests.
type memStore struct {
	recipes      map[string]*recipe.Recipe
	users        map[string]*recipe.User
	usersByOpen  map[string]*recipe.User
	favorites    map[string]map[string]bool
	inspirations map[string][]recipe.Draft
}

func newMemStore() *memStore {
	return &memStore{
		recipes:      map[string]*recipe.Recipe{},
		users:        map[string]*recipe.User{},
		usersByOpen:  map[string]*recipe.User{},
		favorites:    map[string]map[string]bool{},
		inspirations: map[string][]recipe.Draft{},
	}
}

func (m *memStore) SaveRecipe(ctx context.Context, r *recipe.Recipe) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	m.recipes[r.ID] = r
	return nil
}

func (m *memStore) GetRecipe(ctx context.Context, id string) (*recipe.Recipe, error) {
	return m.recipes[id], nil
}

func (m *memStore) UpdateRecipe(ctx context.Context, r *recipe.Recipe) error {
	m.recipes[r.ID] = r
	return nil
}

func (m *memStore) SetRecipeImage(ctx context.Context, id, imageURL string) error {
	if r, ok := m.recipes[id]; ok {
		r.ImageURL = imageURL
	}
	return nil
}

func (m *memStore) IncrementViewCount(ctx context.Context, id string) error {
	if r, ok := m.recipes[id]; ok {
		r.ViewCount++
	}
	return nil
}

func (m *memStore) ListPublicRecipes(ctx context.Context, query string, limit int) ([]*recipe.Recipe, error) {
	var out []*recipe.Recipe
	for _, r := range m.recipes {
		if r.IsPublic {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) GetUserByOpenID(ctx context.Context, openid string) (*recipe.User, error) {
	return m.usersByOpen[openid], nil
}

func (m *memStore) CreateUser(ctx context.Context, openid, nickname string) (*recipe.User, error) {
	if nickname == "" {
		nickname = "美食爱好者"
	}
	u := &recipe.User{ID: uuid.New().String(), OpenID: openid, Nickname: nickname}
	m.users[u.ID] = u
	m.usersByOpen[openid] = u
	return u, nil
}

func (m *memStore) GetUser(ctx context.Context, id string) (*recipe.User, error) {
	return m.users[id], nil
}

func (m *memStore) UpdateUserProfile(ctx context.Context, id, nickname, avatar string) error {
	if u, ok := m.users[id]; ok {
		if nickname != "" {
			u.Nickname = nickname
		}
		if avatar != "" {
			u.Avatar = avatar
		}
	}
	return nil
}

func (m *memStore) ListFavorites(ctx context.Context, userID string) ([]*recipe.Recipe, error) {
	var out []*recipe.Recipe
	for id := range m.favorites[userID] {
		if r, ok := m.recipes[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) AddFavorite(ctx context.Context, userID, recipeID string) (bool, error) {
	if m.favorites[userID] == nil {
		m.favorites[userID] = map[string]bool{}
	}
	if m.favorites[userID][recipeID] {
		return false, nil
	}
	m.favorites[userID][recipeID] = true
	return true, nil
}

func (m *memStore) RemoveFavorite(ctx context.Context, userID, recipeID string) (bool, error) {
	if !m.favorites[userID][recipeID] {
		return false, nil
	}
	delete(m.favorites[userID], recipeID)
	return true, nil
}

func (m *memStore) UpsertDailyInspiration(ctx context.Context, date string, items []recipe.Draft) error {
	m.inspirations[date] = items
	return nil
}

func (m *memStore) GetDailyInspiration(ctx context.Context, date string) ([]recipe.Draft, error) {
	return m.inspirations[date], nil
}

type stubPipeline struct {
	outcome *pipeline.Outcome
	err     error
}

func (s *stubPipeline) Run(ctx context.Context, videoURL string) (*pipeline.Outcome, error) {
	return s.outcome, s.err
}

type stubInspiration struct {
	items []recipe.Draft
}

func (s *stubInspiration) Today(ctx context.Context) ([]recipe.Draft, error) { return s.items, nil }
func (s *stubInspiration) Refresh(ctx context.Context) error                 { return nil }

func newTestHandler(store recipe.Store, pipe VideoPipeline) *Handler {
	auth := NewAuthenticator(store, "", "", "test-secret", true, testLog())
	return NewHandler(store, auth, pipe, nil, nil, &stubInspiration{}, testLog())
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newTestHandler(newMemStore(), &stubPipeline{})
	w := doJSON(t, h.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGuestLoginIssuesToken(t *testing.T) {
	h := newTestHandler(newMemStore(), &stubPipeline{})
	w := doJSON(t, h.Router(), http.MethodPost, "/api/auth/login", gin.H{})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string      `json:"token"`
		User  recipe.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.NotEmpty(t, resp.User.ID)
	assert.Equal(t, "美食爱好者", resp.User.Nickname)
}

func TestParseVideoHappyPath(t *testing.T) {
	store := newMemStore()
	pipe := &stubPipeline{outcome: &pipeline.Outcome{
		Recipe: &recipe.Draft{
			Title:       "照烧鸡腿饭",
			Type:        recipe.TypeLunch,
			Ingredients: []string{"2个 鸡腿"},
			Steps:       []string{"煎制"},
		},
		Info: &extract.VideoInfo{
			Platform:  extract.PlatformDouyin,
			Title:     "照烧鸡腿饭教程",
			Thumbnail: "https://p.example.com/c.jpg",
		},
		IsFallback: false,
	}}
	h := newTestHandler(store, pipe)

	w := doJSON(t, h.Router(), http.MethodPost, "/api/video/parse",
		gin.H{"url": "看看这个 https://v.douyin.com/abc/ 复制打开"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Recipe     recipe.Recipe `json:"recipe"`
		IsFallback bool          `json:"isFallback"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "照烧鸡腿饭", resp.Recipe.Title)
	assert.Equal(t, "https://v.douyin.com/abc/", resp.Recipe.VideoURL)
	assert.Equal(t, "douyin", resp.Recipe.VideoSource)
	assert.Equal(t, "https://p.example.com/c.jpg", resp.Recipe.ImageURL)
	assert.False(t, resp.IsFallback)

	// Persisted.
	assert.Len(t, store.recipes, 1)
}

func TestParseVideoContentRejected(t *testing.T) {
	pipe := &stubPipeline{err: &pipeline.ContentRejectedError{Reason: "内容与美食无关"}}
	h := newTestHandler(newMemStore(), pipe)

	w := doJSON(t, h.Router(), http.MethodPost, "/api/video/parse",
		gin.H{"url": "https://v.douyin.com/abc/"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "内容与美食无关")
}

func TestParseVideoMissingURL(t *testing.T) {
	h := newTestHandler(newMemStore(), &stubPipeline{})

	w := doJSON(t, h.Router(), http.MethodPost, "/api/video/parse", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h.Router(), http.MethodPost, "/api/video/parse", gin.H{"url": "没有链接的文本"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRecipeNotFound(t *testing.T) {
	h := newTestHandler(newMemStore(), &stubPipeline{})
	w := doJSON(t, h.Router(), http.MethodGet, "/api/recipes/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRecipeBumpsViewCount(t *testing.T) {
	store := newMemStore()
	r := &recipe.Recipe{ID: "r1", Title: "红烧肉", IsPublic: true}
	require.NoError(t, store.SaveRecipe(context.Background(), r))

	h := newTestHandler(store, &stubPipeline{})
	w := doJSON(t, h.Router(), http.MethodGet, "/api/recipes/r1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, store.recipes["r1"].ViewCount)
}

func TestFavoriteLifecycle(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveRecipe(context.Background(), &recipe.Recipe{ID: "r1", Title: "红烧肉"}))
	h := newTestHandler(store, &stubPipeline{})
	router := h.Router()

	w := doJSON(t, router, http.MethodPost, "/api/favorites/r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"added":true`)

	// Second add is a no-op.
	w = doJSON(t, router, http.MethodPost, "/api/favorites/r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"added":false`)

	w = doJSON(t, router, http.MethodGet, "/api/favorites", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "红烧肉")

	w = doJSON(t, router, http.MethodDelete, "/api/favorites/r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"removed":true`)
}

func TestUpdateRecipeOwnership(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SaveRecipe(context.Background(),
		&recipe.Recipe{ID: "r1", Title: "红烧肉", UserID: "somebody-else"}))
	h := newTestHandler(store, &stubPipeline{})

	w := doJSON(t, h.Router(), http.MethodPut, "/api/recipes/r1", gin.H{"title": "改名"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestExtractURL(t *testing.T) {
	assert.Equal(t, "https://v.douyin.com/abc/",
		extractURL("7.43 复制打开抖音 https://v.douyin.com/abc/ 看看"))
	assert.Equal(t, "https://b23.tv/xyz", extractURL("https://b23.tv/xyz"))
	assert.Equal(t, "", extractURL("没有链接"))
}

func TestDailyInspirationEndpoint(t *testing.T) {
	store := newMemStore()
	auth := NewAuthenticator(store, "", "", "test-secret", true, testLog())
	h := NewHandler(store, auth, &stubPipeline{}, nil, nil,
		&stubInspiration{items: []recipe.Draft{{Title: "元气厚蛋烧"}}}, testLog())

	w := doJSON(t, h.Router(), http.MethodGet, "/api/inspiration/daily", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "元气厚蛋烧")
}
