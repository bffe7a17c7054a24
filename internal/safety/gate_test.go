package safety

import (
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/anrongyuuu/recipeapp/internal/platform"
)

type fakeChat struct {
	response  string
	err       error
	available bool
	calls     int
}

func (f *fakeChat) Complete(ctx context.Context, systemPrompt, userPrompt string, opts platform.ChatOptions) (string, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeChat) Available() bool { return f.available }

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestCheckTranscriptSensitiveKeywordShortCircuits(t *testing.T) {
	chat := &fakeChat{available: true, response: `{"isFoodRelated": true, "isSafe": true}`}
	g := NewGate(chat, testLog())

	v := g.CheckTranscript(context.Background(), "今天我们来做人肉叉烧，先准备配料和调味料")

	assert.False(t, v.Safe)
	assert.False(t, v.FoodRelated)
	// A keyword hit is final; the model is never consulted.
	assert.Equal(t, 0, chat.calls)
}

func TestCheckTranscriptShortTextSkipsChecks(t *testing.T) {
	chat := &fakeChat{available: true}
	g := NewGate(chat, testLog())

	v := g.CheckTranscript(context.Background(), "好吃")

	assert.True(t, v.Safe)
	assert.False(t, v.FoodRelated)
	assert.Equal(t, 0, chat.calls)
}

func TestCheckTranscriptModelVerdict(t *testing.T) {
	chat := &fakeChat{
		available: true,
		response:  "判断结果如下：\n{\"isFoodRelated\": true, \"isSafe\": true, \"reason\": \"烹饪教学\"}",
	}
	g := NewGate(chat, testLog())

	v := g.CheckTranscript(context.Background(), "先把鸡腿去骨，然后用生抽和蚝油腌制十五分钟")

	assert.True(t, v.Safe)
	assert.True(t, v.FoodRelated)
	assert.Equal(t, "烹饪教学", v.Reason)
	assert.Equal(t, 1, chat.calls)
}

func TestCheckTranscriptFallsBackToHeuristicOnModelError(t *testing.T) {
	chat := &fakeChat{available: true, err: platform.ErrTimeout}
	g := NewGate(chat, testLog())

	v := g.CheckTranscript(context.Background(), "先把鸡腿去骨，然后用生抽和蚝油腌制，下锅煎至金黄")

	assert.True(t, v.Safe)
	assert.True(t, v.FoodRelated)
}

func TestCheckTranscriptHeuristicRejectsOffTopic(t *testing.T) {
	g := NewGate(nil, testLog())

	v := g.CheckTranscript(context.Background(), "今天聊聊这款游戏的剧情和动画表现，顺便说说最近的电影和综艺节目")

	assert.True(t, v.Safe)
	assert.False(t, v.FoodRelated)
}

func TestCheckTranscriptHeuristicAcceptsCooking(t *testing.T) {
	g := NewGate(nil, testLog())

	v := g.CheckTranscript(context.Background(), "这道菜先把牛肉切片，大火爆炒，最后加一点调料就可以出锅了")

	assert.True(t, v.Safe)
	assert.True(t, v.FoodRelated)
}

func TestCheckRecipeSensitiveKeyword(t *testing.T) {
	g := NewGate(nil, testLog())

	v := g.CheckRecipe(context.Background(), "奇怪的菜", "", []string{"500克 毒品"}, nil)

	assert.False(t, v.Safe)
}

func TestCheckRecipeCleanContent(t *testing.T) {
	g := NewGate(nil, testLog())

	v := g.CheckRecipe(context.Background(), "番茄炒蛋", "家常快手菜",
		[]string{"2个 番茄", "3个 鸡蛋"}, []string{"番茄切块", "炒蛋后合炒"})

	assert.True(t, v.Safe)
	assert.True(t, v.FoodRelated)
}

func TestAskModelTruncatesLongInput(t *testing.T) {
	chat := &fakeChat{available: true, response: `{"isFoodRelated": true, "isSafe": true}`}
	g := NewGate(chat, testLog())

	long := strings.Repeat("今天做菜先切食材再下锅炒，", 500)
	v := g.CheckTranscript(context.Background(), long)

	assert.True(t, v.Safe)
	assert.Equal(t, 1, chat.calls)
}
