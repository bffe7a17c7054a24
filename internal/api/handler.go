// Package api exposes the HTTP surface: auth, video parsing, recipes,
// favorites, and the daily inspiration feed.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/anrongyuuu/recipeapp/internal/pipeline"
	"github.com/anrongyuuu/recipeapp/internal/recipe"
)

// Collaborator contracts, defined on the consumer side.

type VideoPipeline interface {
	Run(ctx context.Context, videoURL string) (*pipeline.Outcome, error)
}

type ImageGenerator interface {
	GenerateRecipeImage(ctx context.Context, title, description string, ingredients []string) (string, error)
	Available() bool
}

type CoverStore interface {
	Configured() bool
	PersistImageFromURL(ctx context.Context, imageURL string) (string, error)
}

type InspirationSource interface {
	Today(ctx context.Context) ([]recipe.Draft, error)
	Refresh(ctx context.Context) error
}

// Parsing a video can involve a download, a transcription job, and one or
// two generation calls; the request budget has to cover all of them.
const parseTimeout = 8 * time.Minute

type Handler struct {
	store       recipe.Store
	auth        *Authenticator
	pipeline    VideoPipeline
	images      ImageGenerator
	covers      CoverStore
	inspiration InspirationSource
	log         *logrus.Entry
}

func NewHandler(store recipe.Store, auth *Authenticator, pipe VideoPipeline, images ImageGenerator, covers CoverStore, inspiration InspirationSource, log *logrus.Entry) *Handler {
	return &Handler{
		store:       store,
		auth:        auth,
		pipeline:    pipe,
		images:      images,
		covers:      covers,
		inspiration: inspiration,
		log:         log,
	}
}

// Router wires the routes and middleware onto a fresh engine.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
	}))

	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.POST("/auth/login", h.Login)

	authed := api.Group("")
	authed.Use(h.auth.Middleware())
	{
		authed.GET("/auth/user", h.GetProfile)
		authed.PUT("/auth/user", h.UpdateProfile)

		authed.POST("/video/parse", h.ParseVideo)

		authed.GET("/recipes", h.ListRecipes)
		authed.GET("/recipes/:id", h.GetRecipe)
		authed.PUT("/recipes/:id", h.UpdateRecipe)
		authed.POST("/recipes/:id/generate-image", h.GenerateRecipeImage)
		authed.POST("/recipes/from-inspiration", h.SaveInspiration)

		authed.GET("/favorites", h.ListFavorites)
		authed.POST("/favorites/:id", h.AddFavorite)
		authed.DELETE("/favorites/:id", h.RemoveFavorite)

		authed.GET("/inspiration/daily", h.DailyInspiration)
		authed.GET("/inspiration/list", h.DailyInspiration)
		authed.POST("/inspiration/refresh", h.RefreshInspiration)
	}
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type loginRequest struct {
	Code     string `json:"code"`
	Nickname string `json:"nickname"`
}

func (h *Handler) Login(c *gin.Context) {
	// An empty or malformed body is a valid guest login.
	var req loginRequest
	_ = c.ShouldBindJSON(&req)

	user, err := h.auth.Login(c.Request.Context(), req.Code, req.Nickname)
	if err != nil {
		if errors.Is(err, errLoginRejected) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "登录凭证无效"})
			return
		}
		h.log.WithError(err).Error("login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "登录失败"})
		return
	}
	token, err := h.auth.IssueToken(user.ID)
	if err != nil {
		h.log.WithError(err).Error("token issue failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "登录失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.log.WithError(err).Error("profile lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取用户信息失败"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "用户不存在"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type profileRequest struct {
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误"})
		return
	}
	if err := h.store.UpdateUserProfile(c.Request.Context(), currentUserID(c), req.Nickname, req.Avatar); err != nil {
		h.log.WithError(err).Error("profile update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新用户信息失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type parseRequest struct {
	URL string `json:"url" binding:"required"`
}

// ParseVideo runs the full video-to-recipe pipeline and persists the result.
func (h *Handler) ParseVideo(c *gin.Context) {
	var req parseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少视频链接"})
		return
	}
	rawURL := extractURL(req.URL)
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无法识别视频链接"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), parseTimeout)
	defer cancel()

	outcome, err := h.pipeline.Run(ctx, rawURL)
	if err != nil {
		var rejected *pipeline.ContentRejectedError
		if errors.As(err, &rejected) {
			c.JSON(http.StatusBadRequest, gin.H{"error": rejected.Reason})
			return
		}
		h.log.WithError(err).Error("video parse failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "视频解析失败，请稍后重试"})
		return
	}

	saved := recipe.FromDraft(outcome.Recipe, rawURL, string(outcome.Info.Platform), currentUserID(c))
	if saved.ImageURL == "" {
		saved.ImageURL = outcome.Info.Thumbnail
	}
	if err := h.store.SaveRecipe(ctx, saved); err != nil {
		h.log.WithError(err).Error("recipe save failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "菜谱保存失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recipe":     saved,
		"videoInfo":  outcome.Info,
		"isFallback": outcome.IsFallback,
	})
}

// extractURL digs the first http(s) link out of a share-sheet blob, which
// usually pads the link with emoji and promo text.
func extractURL(text string) string {
	idx := strings.Index(text, "http")
	if idx < 0 {
		return ""
	}
	link := text[idx:]
	if end := strings.IndexAny(link, " \n\t，,"); end > 0 {
		link = link[:end]
	}
	return link
}

func (h *Handler) ListRecipes(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	recipes, err := h.store.ListPublicRecipes(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		h.log.WithError(err).Error("recipe list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取菜谱列表失败"})
		return
	}
	if recipes == nil {
		recipes = []*recipe.Recipe{}
	}
	c.JSON(http.StatusOK, gin.H{"recipes": recipes})
}

func (h *Handler) GetRecipe(c *gin.Context) {
	id := c.Param("id")
	r, err := h.store.GetRecipe(c.Request.Context(), id)
	if err != nil {
		h.log.WithError(err).Error("recipe lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取菜谱失败"})
		return
	}
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "菜谱不存在"})
		return
	}
	if err := h.store.IncrementViewCount(c.Request.Context(), id); err != nil {
		h.log.WithError(err).Warn("view count bump failed")
	}
	c.JSON(http.StatusOK, gin.H{"recipe": r})
}

type updateRecipeRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Time        string   `json:"time"`
	Type        string   `json:"type"`
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
	Tips        string   `json:"tips"`
}

func (h *Handler) UpdateRecipe(c *gin.Context) {
	id := c.Param("id")
	var req updateRecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误"})
		return
	}

	existing, err := h.store.GetRecipe(c.Request.Context(), id)
	if err != nil {
		h.log.WithError(err).Error("recipe lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取菜谱失败"})
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "菜谱不存在"})
		return
	}
	if existing.UserID != currentUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "只能编辑自己的菜谱"})
		return
	}

	if req.Title != "" {
		existing.Title = req.Title
	}
	if req.Description != "" {
		existing.Description = req.Description
	}
	if req.Time != "" {
		existing.Time = req.Time
	}
	if req.Type != "" {
		existing.Type = recipe.CoerceType(req.Type)
	}
	if req.Ingredients != nil {
		existing.Ingredients = req.Ingredients
	}
	if req.Steps != nil {
		existing.Steps = req.Steps
	}
	if req.Tips != "" {
		existing.Tips = req.Tips
	}

	if err := h.store.UpdateRecipe(c.Request.Context(), existing); err != nil {
		h.log.WithError(err).Error("recipe update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新菜谱失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipe": existing})
}

// GenerateRecipeImage creates an illustrative photo for a recipe that lacks
// one and persists it as the recipe cover.
func (h *Handler) GenerateRecipeImage(c *gin.Context) {
	id := c.Param("id")
	if h.images == nil || !h.images.Available() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "图片生成服务未配置"})
		return
	}

	r, err := h.store.GetRecipe(c.Request.Context(), id)
	if err != nil {
		h.log.WithError(err).Error("recipe lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取菜谱失败"})
		return
	}
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "菜谱不存在"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	imageURL, err := h.images.GenerateRecipeImage(ctx, r.Title, r.Description, r.Ingredients)
	if err != nil {
		h.log.WithError(err).Error("image generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "图片生成失败"})
		return
	}

	// Generated URLs expire quickly; re-host when storage is configured.
	if h.covers != nil && h.covers.Configured() {
		if stored, err := h.covers.PersistImageFromURL(ctx, imageURL); err == nil {
			imageURL = stored
		} else {
			h.log.WithError(err).Warn("cover persist failed, using provider url")
		}
	}

	if err := h.store.SetRecipeImage(ctx, id, imageURL); err != nil {
		h.log.WithError(err).Error("cover save failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "图片保存失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imageUrl": imageURL})
}

// SaveInspiration turns an inspiration draft into a recipe of the caller's.
func (h *Handler) SaveInspiration(c *gin.Context) {
	var draft recipe.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误"})
		return
	}
	draft.Normalize()

	saved := recipe.FromDraft(&draft, "", "inspiration", currentUserID(c))
	if err := h.store.SaveRecipe(c.Request.Context(), saved); err != nil {
		h.log.WithError(err).Error("inspiration save failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "菜谱保存失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipe": saved})
}

func (h *Handler) ListFavorites(c *gin.Context) {
	recipes, err := h.store.ListFavorites(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.log.WithError(err).Error("favorite list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取收藏失败"})
		return
	}
	if recipes == nil {
		recipes = []*recipe.Recipe{}
	}
	c.JSON(http.StatusOK, gin.H{"recipes": recipes})
}

func (h *Handler) AddFavorite(c *gin.Context) {
	added, err := h.store.AddFavorite(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.log.WithError(err).Error("favorite add failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "收藏失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (h *Handler) RemoveFavorite(c *gin.Context) {
	removed, err := h.store.RemoveFavorite(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.log.WithError(err).Error("favorite remove failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "取消收藏失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) DailyInspiration(c *gin.Context) {
	items, err := h.inspiration.Today(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("inspiration fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取每日灵感失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipes": items})
}

func (h *Handler) RefreshInspiration(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()
	if err := h.inspiration.Refresh(ctx); err != nil {
		h.log.WithError(err).Error("inspiration refresh failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "刷新每日灵感失败"})
		return
	}
	items, err := h.inspiration.Today(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("inspiration fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取每日灵感失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipes": items})
}
