// Package jobs holds the scheduled work: the daily inspiration feed is
// regenerated every morning and cached so the first reader of the day does
// not pay the generation latency.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/anrongyuuu/recipeapp/internal/recipe"
)

const (
	dateLayout = "2006-01-02"
	cacheTTL   = 24 * time.Hour
)

// DraftGenerator is the slice of the synthesizer this job needs.
type DraftGenerator interface {
	DailyInspiration(ctx context.Context, count int) ([]recipe.Draft, bool)
}

// InspirationStore is the slice of the recipe store this job needs.
type InspirationStore interface {
	UpsertDailyInspiration(ctx context.Context, date string, items []recipe.Draft) error
	GetDailyInspiration(ctx context.Context, date string) ([]recipe.Draft, error)
}

// InspirationJob generates and serves the daily feed. The Redis client is
// optional; without it the database is the only cache.
type InspirationJob struct {
	synth DraftGenerator
	store InspirationStore
	cache *redis.Client
	count int
	log   *logrus.Entry
}

func NewInspirationJob(synth DraftGenerator, store InspirationStore, cache *redis.Client, log *logrus.Entry) *InspirationJob {
	return &InspirationJob{
		synth: synth,
		store: store,
		cache: cache,
		count: 6,
		log:   log,
	}
}

// Refresh regenerates today's feed and writes it through to store and cache.
func (j *InspirationJob) Refresh(ctx context.Context) error {
	date := time.Now().Format(dateLayout)
	drafts, fallback := j.synth.DailyInspiration(ctx, j.count)
	if fallback {
		j.log.Warn("daily inspiration fell back to the canned set")
	}

	if err := j.store.UpsertDailyInspiration(ctx, date, drafts); err != nil {
		return err
	}
	j.cacheSet(ctx, date, drafts)
	j.log.WithField("count", len(drafts)).Info("daily inspiration refreshed")
	return nil
}

// Run is the cron entrypoint. Errors are logged, not returned; the scheduler
// has nobody to hand them to.
func (j *InspirationJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	if err := j.Refresh(ctx); err != nil {
		j.log.WithError(err).Error("scheduled inspiration refresh failed")
	}
}

// Today returns the current feed, generating it on demand when neither cache
// nor store has one yet.
func (j *InspirationJob) Today(ctx context.Context) ([]recipe.Draft, error) {
	date := time.Now().Format(dateLayout)

	if cached := j.cacheGet(ctx, date); cached != nil {
		return cached, nil
	}

	items, err := j.store.GetDailyInspiration(ctx, date)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		j.cacheSet(ctx, date, items)
		return items, nil
	}

	if err := j.Refresh(ctx); err != nil {
		return nil, err
	}
	return j.store.GetDailyInspiration(ctx, date)
}

func cacheKey(date string) string {
	return "inspiration:" + date
}

func (j *InspirationJob) cacheGet(ctx context.Context, date string) []recipe.Draft {
	if j.cache == nil {
		return nil
	}
	raw, err := j.cache.Get(ctx, cacheKey(date)).Bytes()
	if err != nil {
		if err != redis.Nil {
			j.log.WithError(err).Debug("inspiration cache read failed")
		}
		return nil
	}
	var items []recipe.Draft
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

func (j *InspirationJob) cacheSet(ctx context.Context, date string, items []recipe.Draft) {
	if j.cache == nil {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := j.cache.Set(ctx, cacheKey(date), raw, cacheTTL).Err(); err != nil {
		j.log.WithError(err).Debug("inspiration cache write failed")
	}
}
