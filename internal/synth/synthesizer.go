// Package synth turns extracted video content into a structured recipe
// draft. When a chat backend is available it does the heavy lifting; when it
// is not, or its answer cannot be parsed, a deterministic mock recipe keeps
// the product working and the result is flagged as a fallback.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/anrongyuuu/recipeapp/internal/platform"
	"github.com/anrongyuuu/recipeapp/internal/recipe"
)

// ChatCompleter is the slice of the generation backend this package needs.
type ChatCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts platform.ChatOptions) (string, error)
	Available() bool
}

// asrMarker labels transcribed narration in the source text, switching the
// synthesizer into its transcript-aware prompt.
const asrMarker = "【视频旁白/解说转写内容】"

// BuildSource assembles the generation input from whatever extraction
// produced. Transcript first when present, title and description otherwise.
func BuildSource(transcript, title, description string) string {
	var sb strings.Builder
	if strings.TrimSpace(transcript) != "" {
		sb.WriteString(asrMarker)
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(transcript))
		sb.WriteString("\n\n")
	}
	if title != "" {
		sb.WriteString("【视频标题】")
		sb.WriteString(title)
		sb.WriteString("\n")
	}
	if description != "" {
		sb.WriteString("【视频描述】")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// The transcript-aware prompt. Speech recognition of cooking videos garbles
// ingredient names, so the prompt demands phonetic correction and forbids
// inventing quantities beyond what the narration supports.
const asrSystemPrompt = `你是一位有20年经验的大厨，擅长把做菜视频的口述讲解整理成可执行的菜谱。
用户提供的文本里，【视频旁白/解说转写内容】是语音识别的结果，可能包含同音字错误（如"生凑"应为"生抽"、"耗油"应为"蚝油"）、口语填充词（嗯、呃、然后呢）和重复。请：
1. 纠正明显的同音字错误，去掉口语填充词，但不要改变原意。
2. 食材用"数量+食材"格式（如"2个 鸡蛋"、"300克 鸡腿肉"），按主料、辅料、调味料排序，同一行可合并多种调味料。
3. 旁白里分多次使用的同一食材，只记总量并在步骤中注明"分次使用"，不要凭空增加数量。
4. 步骤要具体可执行，包含火候和时长（若旁白提到）。
5. 小贴士提炼旁白中的经验之谈。
只输出 JSON，不要输出其他内容，格式：
{"title": "菜名", "description": "一句话描述", "time": "预计用时", "type": "早餐/午餐/晚餐/其他", "emoji": "一个代表这道菜的emoji", "ingredients": ["数量 食材", ...], "steps": ["步骤1", ...], "tips": "小贴士"}`

// The title-only prompt, for videos where no transcript survived.
const simpleSystemPrompt = `你是一位经验丰富的大厨。根据用户提供的视频标题和描述，推断这是一道什么菜，并生成一份合理、可执行的家常做法菜谱。
只输出 JSON，不要输出其他内容，格式：
{"title": "菜名", "description": "一句话描述", "time": "预计用时", "type": "早餐/午餐/晚餐/其他", "emoji": "一个代表这道菜的emoji", "ingredients": ["数量 食材", ...], "steps": ["步骤1", ...], "tips": "小贴士"}`

// Synthesizer drives recipe generation.
type Synthesizer struct {
	chat ChatCompleter
	log  *logrus.Entry
}

func NewSynthesizer(chat ChatCompleter, log *logrus.Entry) *Synthesizer {
	return &Synthesizer{chat: chat, log: log}
}

// Synthesize produces a recipe draft from the source text. The second return
// reports whether the draft is a canned fallback rather than a real
// generation.
func (s *Synthesizer) Synthesize(ctx context.Context, sourceText, sourceTitle string) (*recipe.Draft, bool) {
	if s.chat == nil || !s.chat.Available() {
		s.log.Info("generation backend unavailable, serving mock recipe")
		return mockRecipe(sourceTitle), true
	}

	systemPrompt := simpleSystemPrompt
	opts := platform.ChatOptions{}
	if strings.Contains(sourceText, asrMarker) {
		systemPrompt = asrSystemPrompt
		opts.Temperature = 0.3
		opts.MaxTokens = 3000
	}

	raw, err := s.chat.Complete(ctx, systemPrompt, sourceText, opts)
	if err != nil {
		s.log.WithError(err).Warn("recipe generation failed, serving mock recipe")
		return mockRecipe(sourceTitle), true
	}

	draft, err := parseDraft(raw)
	if err != nil {
		s.log.WithError(err).Warn("generated recipe unparseable, serving mock recipe")
		return mockRecipe(sourceTitle), true
	}
	draft.Type = recipe.CoerceType(draft.Type)
	draft.Color = recipe.ColorFor(draft.Type)
	draft.Normalize()
	return draft, false
}

// parseDraft tolerates models that wrap the JSON in markdown fences or
// surround it with prose.
func parseDraft(raw string) (*recipe.Draft, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var draft recipe.Draft
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &draft); err != nil {
		return nil, fmt.Errorf("failed to decode recipe draft: %w", err)
	}
	if draft.Title == "" && len(draft.Ingredients) == 0 && len(draft.Steps) == 0 {
		return nil, fmt.Errorf("recipe draft is empty")
	}
	return &draft, nil
}

const inspirationSystemPrompt = `你是一位美食编辑。生成指定数量的多样化家常菜谱，覆盖不同餐次和口味。
只输出 JSON 数组，不要输出其他内容，每个元素格式：
{"title": "菜名", "description": "一句话描述", "time": "预计用时", "type": "早餐/午餐/晚餐/其他", "emoji": "一个代表这道菜的emoji", "ingredients": ["数量 食材", ...], "steps": ["步骤1", ...], "tips": "小贴士"}`

// DailyInspiration generates a batch of recipe drafts for the daily feed.
// Backend failures fall back to the canned set.
func (s *Synthesizer) DailyInspiration(ctx context.Context, count int) ([]recipe.Draft, bool) {
	if count <= 0 {
		count = 6
	}
	if s.chat == nil || !s.chat.Available() {
		return mockInspiration(count), true
	}

	prompt := fmt.Sprintf("请生成 %d 道不同的家常菜谱。", count)
	raw, err := s.chat.Complete(ctx, inspirationSystemPrompt, prompt, platform.ChatOptions{
		Temperature: 0.9,
		MaxTokens:   4000,
	})
	if err != nil {
		s.log.WithError(err).Warn("inspiration generation failed, serving mock set")
		return mockInspiration(count), true
	}

	drafts, err := parseDraftList(raw)
	if err != nil {
		s.log.WithError(err).Warn("inspiration batch unparseable, serving mock set")
		return mockInspiration(count), true
	}
	for i := range drafts {
		drafts[i].Type = recipe.CoerceType(drafts[i].Type)
		drafts[i].Color = recipe.ColorFor(drafts[i].Type)
		drafts[i].Normalize()
	}
	return drafts, false
}

func parseDraftList(raw string) ([]recipe.Draft, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var drafts []recipe.Draft
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &drafts); err != nil {
		return nil, fmt.Errorf("failed to decode recipe drafts: %w", err)
	}
	if len(drafts) == 0 {
		return nil, fmt.Errorf("recipe draft list is empty")
	}
	return drafts, nil
}
