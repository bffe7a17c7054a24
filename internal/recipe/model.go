package recipe

import (
	"strings"
	"time"
)

// Meal type labels. Anything the generator returns outside this set collapses
// to TypeOther.
const (
	TypeBreakfast = "早餐"
	TypeLunch     = "午餐"
	TypeDinner    = "晚餐"
	TypeOther     = "其他"
)

var validTypes = []string{TypeBreakfast, TypeLunch, TypeDinner, TypeOther}

var typeColors = map[string]string{
	TypeBreakfast: "#FFF7ED",
	TypeLunch:     "#F5F3FF",
	TypeDinner:    "#EFF6FF",
	TypeOther:     "#F0F9FF",
}

// CoerceType maps an arbitrary type string onto one of the four meal types.
// Exact match wins, then substring match, then TypeOther.
func CoerceType(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, t := range validTypes {
		if raw == t {
			return t
		}
	}
	for _, t := range validTypes {
		if strings.Contains(raw, t) {
			return t
		}
	}
	return TypeOther
}

// ColorFor returns the card background color for a meal type.
func ColorFor(mealType string) string {
	if c, ok := typeColors[mealType]; ok {
		return c
	}
	return typeColors[TypeOther]
}

// Draft is a synthesized recipe before it is stamped with provenance and
// persisted. Ingredients are ordered primary → secondary → seasonings, with
// same-category seasonings merged onto one line; that contract is enforced by
// the synthesis prompt.
type Draft struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Time        string   `json:"time"`
	Type        string   `json:"type"`
	Emoji       string   `json:"emoji"`
	Color       string   `json:"color"`
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
	Tips        string   `json:"tips"`
	ImageURL    string   `json:"imageUrl,omitempty"`
}

// Normalize fills defaults and coerces the meal type.
func (d *Draft) Normalize() {
	if d.Title == "" {
		d.Title = "美味菜谱 🍳"
	}
	if d.Description == "" {
		d.Description = "AI 生成的精美菜谱"
	}
	if d.Time == "" {
		d.Time = "15 min"
	}
	if d.Emoji == "" {
		d.Emoji = "🍳"
	}
	d.Type = CoerceType(d.Type)
	d.Color = ColorFor(d.Type)
}

// Recipe is the persisted entity: a Draft plus provenance and ownership.
type Recipe struct {
	ID          string `db:"id" json:"id"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	Emoji       string `db:"emoji" json:"emoji"`
	Type        string `db:"type" json:"type"`
	Time        string `db:"time" json:"time"`
	Color       string `db:"color" json:"color"`

	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
	Tips        string   `db:"tips" json:"tips"`

	ImageURL    string `db:"image_url" json:"imageUrl"`
	VideoURL    string `db:"video_url" json:"videoUrl"`
	VideoSource string `db:"video_source" json:"videoSource"`

	UserID        string `db:"user_id" json:"userId,omitempty"`
	IsPublic      bool   `db:"is_public" json:"isPublic"`
	ViewCount     int    `db:"view_count" json:"viewCount"`
	FavoriteCount int    `db:"favorite_count" json:"favoriteCount"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// FromDraft builds a Recipe out of a synthesized draft and its provenance.
func FromDraft(d *Draft, videoURL, videoSource, userID string) *Recipe {
	t := CoerceType(d.Type)
	return &Recipe{
		Title:       d.Title,
		Description: d.Description,
		Emoji:       d.Emoji,
		Type:        t,
		Time:        d.Time,
		Color:       ColorFor(t),
		Ingredients: d.Ingredients,
		Steps:       d.Steps,
		Tips:        d.Tips,
		ImageURL:    d.ImageURL,
		VideoURL:    videoURL,
		VideoSource: videoSource,
		UserID:      userID,
		IsPublic:    true,
	}
}

// User is an authenticated caller, identified by the platform-issued openid.
type User struct {
	ID        string    `db:"id" json:"userId"`
	OpenID    string    `db:"openid" json:"-"`
	Nickname  string    `db:"nickname" json:"nickname"`
	Avatar    string    `db:"avatar" json:"avatar"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
