package synth

import (
	"strings"

	"github.com/anrongyuuu/recipeapp/internal/recipe"
)

// Canned recipes served whenever real generation is impossible. They are
// deterministic so the product behaves predictably without credentials.
var mockRecipes = map[string]recipe.Draft{
	recipe.TypeBreakfast: {
		Title:       "元气厚蛋烧",
		Description: "松软香甜的日式厚蛋烧，开启活力满满的一天",
		Time:        "15 分钟",
		Type:        recipe.TypeBreakfast,
		Emoji:       "🍳",
		Ingredients: []string{"3个 鸡蛋", "30毫升 牛奶", "5克 糖", "2克 盐", "适量 食用油"},
		Steps: []string{
			"鸡蛋打入碗中，加入牛奶、糖和盐，充分搅打均匀",
			"平底锅小火加热，薄薄刷一层油",
			"倒入三分之一蛋液，铺满锅底，底部凝固后从一端卷起",
			"重复两次倒蛋液并卷起，卷成厚实的蛋卷",
			"出锅稍凉后切段装盘",
		},
		Tips: "全程小火，蛋液半凝固时就开始卷，成品才嫩",
	},
	recipe.TypeLunch: {
		Title:       "照烧鸡腿饭",
		Description: "酱汁浓郁的照烧鸡腿，配米饭一绝",
		Time:        "30 分钟",
		Type:        recipe.TypeLunch,
		Emoji:       "🍗",
		Ingredients: []string{"2个 鸡腿", "2勺 生抽", "1勺 老抽", "1勺 蜂蜜", "1勺 料酒", "适量 白芝麻", "1碗 米饭"},
		Steps: []string{
			"鸡腿去骨，用刀背轻拍松弛肉质",
			"生抽、老抽、蜂蜜、料酒调成照烧汁",
			"平底锅中火，鸡皮朝下煎至金黄出油",
			"翻面煎熟后倒入照烧汁，小火收汁至浓稠",
			"切块盖在米饭上，撒白芝麻",
		},
		Tips: "鸡皮朝下先煎能逼出鸡油，不用额外放油",
	},
	recipe.TypeDinner: {
		Title:       "暖心番茄面",
		Description: "酸甜开胃的番茄汤面，晚餐来一碗暖胃又舒心",
		Time:        "20 分钟",
		Type:        recipe.TypeDinner,
		Emoji:       "🍜",
		Ingredients: []string{"2个 番茄", "1把 面条", "1个 鸡蛋", "2瓣 蒜", "适量 葱花", "适量 盐"},
		Steps: []string{
			"番茄划十字用开水烫后去皮，切小块",
			"热锅下油爆香蒜末，下番茄炒出沙",
			"加入开水煮开，下面条煮至八分熟",
			"淋入打散的蛋液，加盐调味",
			"出锅撒葱花",
		},
		Tips: "番茄炒得越久汤越浓，喜欢浓汤可以多炒一会儿",
	},
}

// mockRecipe picks a canned recipe by hints in the title, defaulting to the
// lunch dish.
func mockRecipe(titleHint string) *recipe.Draft {
	mealType := recipe.TypeLunch
	switch {
	case strings.Contains(titleHint, "早") || strings.Contains(titleHint, "蛋"):
		mealType = recipe.TypeBreakfast
	case strings.Contains(titleHint, "午") || strings.Contains(titleHint, "饭"):
		mealType = recipe.TypeLunch
	case strings.Contains(titleHint, "晚") || strings.Contains(titleHint, "面"):
		mealType = recipe.TypeDinner
	}

	draft := mockRecipes[mealType]
	draft.Color = recipe.ColorFor(draft.Type)
	return &draft
}

func mockInspiration(count int) []recipe.Draft {
	order := []string{recipe.TypeBreakfast, recipe.TypeLunch, recipe.TypeDinner}
	drafts := make([]recipe.Draft, 0, count)
	for i := 0; i < count; i++ {
		d := mockRecipes[order[i%len(order)]]
		d.Color = recipe.ColorFor(d.Type)
		drafts = append(drafts, d)
	}
	return drafts
}
