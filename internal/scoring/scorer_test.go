package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-mealmatch/internal/domain"
	"github.com/ahrav/go-mealmatch/internal/signal"
)

func TestScore_NutritionalAccuracy(t *testing.T) {
	tests := []struct {
		name string
		text string
		tags domain.DietTagSet
		want int
	}{
		{
			name: "full coverage for anemia",
			text: "Focus on iron from beef and lentils, pair it with vitamin C, add spinach, and cover B12 and folate.",
			tags: domain.NewDietTagSet(domain.TagAnemia),
			want: 10,
		},
		{
			name: "partial coverage for anemia",
			text: "Add iron and spinach to your meals, plus vitamin C to absorb it.",
			tags: domain.NewDietTagSet(domain.TagAnemia),
			want: 4,
		},
		{
			name: "baseline macronutrients without tags",
			text: "Balance your protein, carbs, and healthy fats every day.",
			tags: domain.NewDietTagSet(),
			want: 8,
		},
		{
			name: "no coverage",
			text: "Drink more water.",
			tags: domain.NewDietTagSet(),
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Score(tt.text, tt.tags)
			assert.Equal(t, tt.want, b.NutritionalAccuracy)
		})
	}
}

func TestScore_Personalization(t *testing.T) {
	tags := domain.NewDietTagSet(domain.TagAnemia)
	text := "Since you have anemia and weigh 140 lbs, this plan is personalized for your goals."

	b := Score(text, tags)

	// One tag echo, two markers, one stat class: four signals at two points each.
	assert.Equal(t, 8, b.Personalization)
}

func TestScore_Personalization_Cap(t *testing.T) {
	tags := domain.NewDietTagSet(domain.TagAnemia, domain.TagKeto)
	text := `Your anemia and keto goals: this customized, personalized plan fits your dietary needs at 140 lbs, 5'4", 1800 calories, 35 years old.`

	b := Score(text, tags)

	assert.Equal(t, 10, b.Personalization)
}

func TestScore_SupplementIntegration(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{
			name: "no supplement mention",
			text: "Eat whole foods and stay hydrated.",
			want: 0,
		},
		{
			name: "generic mention scores base band",
			text: "Consider a supplement if levels stay low.",
			want: 5,
		},
		{
			name: "named supplement adds to base",
			text: "Consider an iron supplement.",
			want: 7,
		},
		{
			name: "many distinct supplements cap at ten",
			text: "Try a multivitamin, fish oil, zinc, and probiotics, plus whey protein shakes.",
			want: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Score(tt.text, domain.NewDietTagSet())
			assert.Equal(t, tt.want, b.SupplementIntegration)
		})
	}
}

func TestScore_Readability(t *testing.T) {
	structured := "# Your meal plan\n\n- Breakfast: oatmeal with berries and nuts for slow energy\n- Lunch: grilled chicken salad with olive oil dressing\n- Dinner: salmon with quinoa and roasted vegetables\n\nThese three meals keep your energy steady through the day."

	b := Score(structured, domain.NewDietTagSet())
	// Length, paragraph breaks, bullets, and a header; sentence-length band
	// misses because the list reads as one long sentence.
	assert.Equal(t, 7, b.Readability)

	tabular := "Compare options:\n| Meal | Calories |\n| Oats | 300 |\nPick what fits your morning."
	b = Score(tabular, domain.NewDietTagSet())
	assert.Equal(t, 5, b.Readability)

	terse := "Drink more water."
	b = Score(terse, domain.NewDietTagSet())
	assert.Equal(t, 0, b.Readability)
}

func TestScore_AnemiaScenario(t *testing.T) {
	prompt := `I'm 5'4", 140lbs, and have anemia. Build me a meal plan to not feel tired all day.`
	tags := signal.Extract(prompt)
	require.True(t, tags.Has(domain.TagAnemia))

	rich := "Since anemia means low iron, build meals around beef, lentils, and spinach, add vitamin C for absorption, and consider an iron supplement plus B12.\n\n- Breakfast: fortified oatmeal\n- Lunch: lentil soup\n- Dinner: beef stir-fry"
	poor := "Just eat better and sleep more."

	richScore := Score(rich, tags)
	poorScore := Score(poor, tags)

	assert.Equal(t, 9, richScore.NutritionalAccuracy)
	assert.Equal(t, 2, richScore.Personalization)
	assert.Equal(t, 7, richScore.SupplementIntegration)
	assert.Equal(t, 8, richScore.Readability)
	assert.Equal(t, 26, richScore.Total)

	assert.Equal(t, 0, poorScore.Total)
	assert.Greater(t, richScore.Total, poorScore.Total)
}

func TestScore_DeterministicAndBounded(t *testing.T) {
	texts := []string{
		"",
		"short",
		"Protein, carbs, fats, macros, iron, B12, spinach, supplements, multivitamin, fish oil.",
		"日本語のテキスト with mixed содержание and emoji 🥦",
	}
	tagSets := []domain.DietTagSet{
		domain.NewDietTagSet(),
		domain.NewDietTagSet(domain.TagAnemia),
		domain.NewDietTagSet(domain.TagKeto, domain.TagVegan, domain.TagDiabetes),
	}

	for _, text := range texts {
		for _, tags := range tagSets {
			first := Score(text, tags)
			second := Score(text, tags)
			assert.Equal(t, first, second)

			for _, sub := range []int{first.NutritionalAccuracy, first.Personalization, first.SupplementIntegration, first.Readability} {
				assert.GreaterOrEqual(t, sub, domain.SubScoreMin)
				assert.LessOrEqual(t, sub, domain.SubScoreMax)
			}
			assert.Equal(t, first.Sum(), first.Total)
			assert.NoError(t, first.Validate())
		}
	}
}

func TestExpectedNutrients_UnionDedupes(t *testing.T) {
	// Vegan and anemia both expect iron, b12, protein, and legumes; the
	// union must carry each label once.
	union := expectedNutrients(domain.NewDietTagSet(domain.TagAnemia, domain.TagVegan))

	seen := make(map[string]int)
	for _, term := range union {
		seen[term.label]++
	}
	for label, n := range seen {
		assert.Equal(t, 1, n, "label %q appears %d times", label, n)
	}
	assert.Contains(t, seen, "iron")
	assert.Contains(t, seen, "vitamin b12")
	assert.Contains(t, seen, "legumes")
}
