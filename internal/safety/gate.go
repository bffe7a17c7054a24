// Package safety screens pipeline text before and after recipe generation.
// A keyword pass always runs first; when a chat provider is available its
// verdict refines the food-relatedness call, and a keyword hit on the
// sensitive list is final regardless.
package safety

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/anrongyuuu/recipeapp/internal/platform"
)

// ChatCompleter is the slice of the generation backend this package needs.
type ChatCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts platform.ChatOptions) (string, error)
	Available() bool
}

// Verdict is the outcome of a safety check.
type Verdict struct {
	Safe        bool
	FoodRelated bool
	Reason      string
}

var sensitiveKeywords = []string{
	"人肉", "人体", "器官", "血液", "尸体",
	"毒品", "违禁", "非法", "政治", "色情", "暴力",
}

var nonFoodKeywords = []string{
	"游戏", "音乐", "电影", "电视剧", "综艺", "新闻", "体育",
	"科技", "教育", "旅游", "汽车", "房产", "财经", "时尚",
	"美妆", "健身", "宠物", "搞笑", "段子", "剧情", "动画",
	"动漫", "直播", "聊天",
}

var foodKeywords = []string{
	"菜", "饭", "汤", "面", "肉", "鱼", "虾", "鸡", "鸭", "鹅", "牛", "羊", "猪",
	"炒", "煮", "蒸", "炸", "烤", "炖", "煎", "烧", "卤", "拌", "腌",
	"食谱", "菜谱", "做法", "教程", "制作", "烹饪", "料理", "美食", "小吃",
	"早餐", "午餐", "晚餐", "夜宵", "点心", "甜品", "蛋糕", "面包",
	"调料", "食材", "配料", "佐料", "香料",
}

// Gate runs the checks. A nil or unavailable chat backend degrades it to the
// keyword heuristics alone.
type Gate struct {
	chat ChatCompleter
	log  *logrus.Entry
}

func NewGate(chat ChatCompleter, log *logrus.Entry) *Gate {
	return &Gate{chat: chat, log: log}
}

// CheckTranscript vets transcribed speech before it is fed to generation.
// Very short transcripts carry no signal and are treated as safe but not
// food related, letting the caller fall back to title-based generation.
func (g *Gate) CheckTranscript(ctx context.Context, transcript string) Verdict {
	text := strings.TrimSpace(transcript)
	if utf8.RuneCountInString(text) < 10 {
		return Verdict{Safe: true, FoodRelated: false, Reason: "内容过短"}
	}
	if hit := matchAny(text, sensitiveKeywords); hit != "" {
		g.log.WithField("keyword", hit).Warn("transcript hit the sensitive keyword list")
		return Verdict{Safe: false, FoodRelated: false, Reason: "内容包含敏感词汇"}
	}

	if g.chat != nil && g.chat.Available() {
		if v, err := g.askModel(ctx, text); err == nil {
			return v
		} else {
			g.log.WithError(err).Warn("model safety check failed, falling back to keyword heuristics")
		}
	}
	return g.heuristic(text)
}

// CheckRecipe vets a generated recipe. Food-relatedness is a given at this
// point, only safety is judged.
func (g *Gate) CheckRecipe(ctx context.Context, title, description string, ingredients, steps []string) Verdict {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(description)
	sb.WriteString("\n")
	sb.WriteString(strings.Join(ingredients, "\n"))
	sb.WriteString("\n")
	sb.WriteString(strings.Join(steps, "\n"))
	text := sb.String()

	if hit := matchAny(text, sensitiveKeywords); hit != "" {
		g.log.WithField("keyword", hit).Warn("generated recipe hit the sensitive keyword list")
		return Verdict{Safe: false, FoodRelated: true, Reason: "生成内容包含敏感词汇"}
	}
	return Verdict{Safe: true, FoodRelated: true}
}

// heuristic decides food-relatedness by keyword counts. Mostly-off-topic
// text with little food vocabulary is rejected; any food vocabulary at all
// otherwise counts as food related.
func (g *Gate) heuristic(text string) Verdict {
	foodCount := countMatches(text, foodKeywords)
	nonFoodCount := countMatches(text, nonFoodKeywords)

	if nonFoodCount > 2 && foodCount < 2 {
		return Verdict{Safe: true, FoodRelated: false, Reason: "内容与美食无关"}
	}
	return Verdict{Safe: true, FoodRelated: foodCount > 0, Reason: ""}
}

const safetySystemPrompt = `你是一个内容审核助手。判断用户提供的文本是否与美食、烹饪、食谱相关，以及是否包含不当内容（暴力、色情、违禁品、危险行为等）。
只输出 JSON，格式：{"isFoodRelated": true/false, "isSafe": true/false, "reason": "简短原因"}`

type modelVerdict struct {
	IsFoodRelated bool   `json:"isFoodRelated"`
	IsSafe        bool   `json:"isSafe"`
	Reason        string `json:"reason"`
}

func (g *Gate) askModel(ctx context.Context, text string) (Verdict, error) {
	if runes := []rune(text); len(runes) > 2000 {
		text = string(runes[:2000])
	}
	raw, err := g.chat.Complete(ctx, safetySystemPrompt, text, platform.ChatOptions{
		Temperature: 0.1,
		MaxTokens:   500,
	})
	if err != nil {
		return Verdict{}, err
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Verdict{}, &platform.ProviderError{Message: "verdict is not JSON"}
	}
	var v modelVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return Verdict{}, err
	}
	return Verdict{Safe: v.IsSafe, FoodRelated: v.IsFoodRelated, Reason: v.Reason}, nil
}

func matchAny(text string, keywords []string) string {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return k
		}
	}
	return ""
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}
