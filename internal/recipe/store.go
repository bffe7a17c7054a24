package recipe

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store defines the persistence operations the handlers and jobs need.
type Store interface {
	SaveRecipe(ctx context.Context, r *Recipe) error
	GetRecipe(ctx context.Context, id string) (*Recipe, error)
	UpdateRecipe(ctx context.Context, r *Recipe) error
	SetRecipeImage(ctx context.Context, id, imageURL string) error
	IncrementViewCount(ctx context.Context, id string) error
	ListPublicRecipes(ctx context.Context, query string, limit int) ([]*Recipe, error)

	GetUserByOpenID(ctx context.Context, openid string) (*User, error)
	CreateUser(ctx context.Context, openid, nickname string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	UpdateUserProfile(ctx context.Context, id, nickname, avatar string) error

	ListFavorites(ctx context.Context, userID string) ([]*Recipe, error)
	AddFavorite(ctx context.Context, userID, recipeID string) (added bool, err error)
	RemoveFavorite(ctx context.Context, userID, recipeID string) (removed bool, err error)

	UpsertDailyInspiration(ctx context.Context, date string, items []Draft) error
	GetDailyInspiration(ctx context.Context, date string) ([]Draft, error)
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects and bootstraps the schema.
func NewPostgresStore(dataSourceName string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	schemas := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			openid TEXT UNIQUE NOT NULL,
			nickname TEXT NOT NULL DEFAULT '美食爱好者',
			avatar TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS recipes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			emoji TEXT NOT NULL DEFAULT '🍳',
			type TEXT NOT NULL DEFAULT '其他',
			time TEXT NOT NULL DEFAULT '15 min',
			color TEXT NOT NULL DEFAULT '#FFF7ED',
			ingredients JSONB NOT NULL DEFAULT '[]',
			steps JSONB NOT NULL DEFAULT '[]',
			tips TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			video_url TEXT NOT NULL DEFAULT '',
			video_source TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			is_public BOOLEAN NOT NULL DEFAULT true,
			view_count INTEGER NOT NULL DEFAULT 0,
			favorite_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recipes_user ON recipes (user_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_recipes_public ON recipes (is_public, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS favorites (
			user_id TEXT NOT NULL,
			recipe_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, recipe_id)
		);`,
		`CREATE TABLE IF NOT EXISTS daily_inspirations (
			date DATE PRIMARY KEY,
			recipes JSONB NOT NULL DEFAULT '[]',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}

	return &PostgresStore{db: db}, nil
}

const recipeColumns = `id, title, description, emoji, type, time, color, ingredients, steps, tips,
	image_url, video_url, video_source, user_id, is_public, view_count, favorite_count, created_at, updated_at`

func scanRecipe(row interface {
	Scan(dest ...interface{}) error
}) (*Recipe, error) {
	var r Recipe
	var ingredientsJSON, stepsJSON []byte
	err := row.Scan(
		&r.ID, &r.Title, &r.Description, &r.Emoji, &r.Type, &r.Time, &r.Color,
		&ingredientsJSON, &stepsJSON, &r.Tips,
		&r.ImageURL, &r.VideoURL, &r.VideoSource, &r.UserID, &r.IsPublic,
		&r.ViewCount, &r.FavoriteCount, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ingredientsJSON, &r.Ingredients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ingredients: %w", err)
	}
	if err := json.Unmarshal(stepsJSON, &r.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	return &r, nil
}

// SaveRecipe inserts a recipe, assigning an ID when missing.
func (s *PostgresStore) SaveRecipe(ctx context.Context, r *Recipe) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	ingredientsJSON, err := json.Marshal(r.Ingredients)
	if err != nil {
		return fmt.Errorf("failed to marshal ingredients: %w", err)
	}
	stepsJSON, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recipes (id, title, description, emoji, type, time, color, ingredients, steps, tips,
			image_url, video_url, video_source, user_id, is_public)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.Title, r.Description, r.Emoji, r.Type, r.Time, r.Color,
		ingredientsJSON, stepsJSON, r.Tips,
		r.ImageURL, r.VideoURL, r.VideoSource, r.UserID, r.IsPublic,
	)
	if err != nil {
		return fmt.Errorf("failed to save recipe: %w", err)
	}
	return nil
}

// GetRecipe returns nil when the recipe does not exist.
func (s *PostgresStore) GetRecipe(ctx context.Context, id string) (*Recipe, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recipeColumns+" FROM recipes WHERE id = $1", id)
	r, err := scanRecipe(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get recipe: %w", err)
	}
	return r, nil
}

// UpdateRecipe persists user edits to an existing recipe.
func (s *PostgresStore) UpdateRecipe(ctx context.Context, r *Recipe) error {
	ingredientsJSON, err := json.Marshal(r.Ingredients)
	if err != nil {
		return fmt.Errorf("failed to marshal ingredients: %w", err)
	}
	stepsJSON, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE recipes SET title = $2, description = $3, time = $4, type = $5, color = $6,
			ingredients = $7, steps = $8, tips = $9, updated_at = now()
		 WHERE id = $1`,
		r.ID, r.Title, r.Description, r.Time, r.Type, ColorFor(r.Type),
		ingredientsJSON, stepsJSON, r.Tips,
	)
	if err != nil {
		return fmt.Errorf("failed to update recipe: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetRecipeImage(ctx context.Context, id, imageURL string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE recipes SET image_url = $2, updated_at = now() WHERE id = $1", id, imageURL)
	if err != nil {
		return fmt.Errorf("failed to set recipe image: %w", err)
	}
	return nil
}

func (s *PostgresStore) IncrementViewCount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE recipes SET view_count = view_count + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to increment view count: %w", err)
	}
	return nil
}

// ListPublicRecipes returns public recipes, newest first, optionally filtered
// by a title/description substring.
func (s *PostgresStore) ListPublicRecipes(ctx context.Context, query string, limit int) ([]*Recipe, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sqlQuery := "SELECT " + recipeColumns + " FROM recipes WHERE is_public = true"
	args := []interface{}{}
	if query != "" {
		sqlQuery += " AND (title ILIKE $1 OR description ILIKE $1)"
		args = append(args, "%"+query+"%")
	}
	sqlQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var recipes []*Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipe row: %w", err)
		}
		recipes = append(recipes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return recipes, nil
}

// GetUserByOpenID returns nil when no such user exists.
func (s *PostgresStore) GetUserByOpenID(ctx context.Context, openid string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		"SELECT id, openid, nickname, avatar, created_at, updated_at FROM users WHERE openid = $1", openid)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by openid: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, openid, nickname string) (*User, error) {
	if nickname == "" {
		nickname = "美食爱好者"
	}
	u := &User{ID: uuid.New().String(), OpenID: openid, Nickname: nickname}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (id, openid, nickname) VALUES ($1, $2, $3)
		 ON CONFLICT (openid) DO UPDATE SET updated_at = now()
		 RETURNING id, nickname, avatar, created_at, updated_at`,
		u.ID, openid, nickname,
	).Scan(&u.ID, &u.Nickname, &u.Avatar, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		"SELECT id, openid, nickname, avatar, created_at, updated_at FROM users WHERE id = $1", id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id, nickname, avatar string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET
			nickname = COALESCE(NULLIF($2, ''), nickname),
			avatar = COALESCE(NULLIF($3, ''), avatar),
			updated_at = now()
		 WHERE id = $1`, id, nickname, avatar)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFavorites(ctx context.Context, userID string) ([]*Recipe, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recipeColumns+` FROM recipes r
		 JOIN favorites f ON f.recipe_id = r.id
		 WHERE f.user_id = $1
		 ORDER BY f.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}
	defer rows.Close()

	var recipes []*Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan favorite row: %w", err)
		}
		recipes = append(recipes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return recipes, nil
}

// AddFavorite records a favorite and bumps the recipe's counter. Returns
// false when the recipe was already favorited.
func (s *PostgresStore) AddFavorite(ctx context.Context, userID, recipeID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO favorites (user_id, recipe_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, recipe_id) DO NOTHING`, userID, recipeID)
	if err != nil {
		return false, fmt.Errorf("failed to add favorite: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE recipes SET favorite_count = favorite_count + 1 WHERE id = $1", recipeID); err != nil {
		return true, fmt.Errorf("failed to bump favorite count: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) RemoveFavorite(ctx context.Context, userID, recipeID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM favorites WHERE user_id = $1 AND recipe_id = $2", userID, recipeID)
	if err != nil {
		return false, fmt.Errorf("failed to remove favorite: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE recipes SET favorite_count = GREATEST(favorite_count - 1, 0) WHERE id = $1", recipeID); err != nil {
		return true, fmt.Errorf("failed to drop favorite count: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) UpsertDailyInspiration(ctx context.Context, date string, items []Draft) error {
	recipesJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal inspiration recipes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO daily_inspirations (date, recipes, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (date) DO UPDATE SET recipes = $2, updated_at = now()`,
		date, recipesJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert daily inspiration: %w", err)
	}
	return nil
}

// GetDailyInspiration returns an empty slice when no entry exists for the date.
func (s *PostgresStore) GetDailyInspiration(ctx context.Context, date string) ([]Draft, error) {
	var recipesJSON []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT recipes FROM daily_inspirations WHERE date = $1", date).Scan(&recipesJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return []Draft{}, nil
		}
		return nil, fmt.Errorf("failed to get daily inspiration: %w", err)
	}
	var items []Draft
	if err := json.Unmarshal(recipesJSON, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inspiration recipes: %w", err)
	}
	return items, nil
}
