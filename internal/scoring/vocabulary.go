package scoring

import (
	"regexp"
	"strings"

	"github.com/ahrav/go-mealmatch/internal/domain"
)

// RubricVersion identifies the vocabulary revision baked into this build.
// Bump it whenever the lists below change so stored scores stay comparable.
const RubricVersion = "v1"

// term is one scoreable concept together with the surface forms that count
// as a mention. A term is found when any of its forms appears in the text.
// Forms are whole-word and hyphen tolerant, matching the extraction rules:
// "omega 3" also matches "omega-3", "carb" also matches "carbs".
type term struct {
	label    string
	patterns []*regexp.Regexp
}

func newTerm(label string, forms ...string) term {
	if len(forms) == 0 {
		forms = []string{label}
	}
	patterns := make([]*regexp.Regexp, 0, len(forms))
	for _, form := range forms {
		patterns = append(patterns, compileForm(form))
	}
	return term{label: label, patterns: patterns}
}

// compileForm turns a space-separated surface form into a case-insensitive
// whole-word pattern. Spaces tolerate hyphens, and the final word accepts a
// simple plural.
func compileForm(form string) *regexp.Regexp {
	parts := strings.Fields(form)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := `(?i)\b` + strings.Join(parts, `[-\s]+`) + `(?:e?s)?\b`
	return regexp.MustCompile(expr)
}

func (t term) matches(text string) bool {
	for _, p := range t.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// baselineNutrients applies when no diet tags were detected. General dietary
// advice is expected to at least cover the macronutrients.
var baselineNutrients = []term{
	newTerm("protein"),
	newTerm("carbohydrates", "carb", "carbohydrate"),
	newTerm("fats", "fat"),
	newTerm("macronutrients", "macronutrient", "macro"),
}

// nutrientsByTag maps each diet tag to the nutrient concepts a good answer
// for that context should cover. Labels are shared across tags so that the
// union for a multi-tag prompt never counts the same concept twice.
var nutrientsByTag = map[domain.DietTag][]term{
	domain.TagVegan: {
		newTerm("protein"),
		newTerm("legumes", "legume", "lentil", "bean", "chickpea"),
		newTerm("tofu", "tofu", "tempeh"),
		newTerm("vitamin b12", "b12", "cobalamin"),
		newTerm("iron"),
		newTerm("nuts and seeds", "nut", "seed", "almond"),
	},
	domain.TagVegetarian: {
		newTerm("protein"),
		newTerm("legumes", "legume", "lentil", "bean", "chickpea"),
		newTerm("eggs", "egg"),
		newTerm("dairy", "dairy", "yogurt", "cheese", "milk"),
		newTerm("iron"),
		newTerm("vitamin b12", "b12", "cobalamin"),
	},
	domain.TagKeto: {
		newTerm("fats", "fat"),
		newTerm("protein"),
		newTerm("carbohydrates", "carb", "carbohydrate"),
		newTerm("avocado", "avocado", "olive oil"),
		newTerm("ketosis", "ketosis", "ketone"),
		newTerm("electrolytes", "electrolyte", "sodium", "magnesium", "potassium"),
	},
	domain.TagPaleo: {
		newTerm("protein"),
		newTerm("lean meat", "lean meat", "meat", "fish"),
		newTerm("vegetables", "vegetable", "veggie"),
		newTerm("nuts and seeds", "nut", "seed", "almond"),
		newTerm("fruit", "fruit", "berry", "berries"),
	},
	domain.TagGlutenFree: {
		newTerm("whole grains", "quinoa", "rice", "buckwheat"),
		newTerm("oats", "oat", "oatmeal"),
		newTerm("gluten"),
		newTerm("fiber", "fiber", "fibre"),
		newTerm("vegetables", "vegetable", "veggie"),
	},
	domain.TagDairyFree: {
		newTerm("calcium"),
		newTerm("plant milk", "almond milk", "soy milk", "oat milk", "plant milk"),
		newTerm("vitamin d", "vitamin d"),
		newTerm("lactose"),
		newTerm("fortified foods", "fortified"),
	},
	domain.TagLowCarb: {
		newTerm("protein"),
		newTerm("fats", "fat"),
		newTerm("carbohydrates", "carb", "carbohydrate"),
		newTerm("fiber", "fiber", "fibre"),
		newTerm("vegetables", "vegetable", "veggie"),
	},
	domain.TagHighProtein: {
		newTerm("protein"),
		newTerm("chicken", "chicken", "turkey", "lean meat"),
		newTerm("eggs", "egg"),
		newTerm("legumes", "legume", "lentil", "bean", "chickpea"),
		newTerm("dairy", "yogurt", "cottage cheese", "dairy"),
	},
	domain.TagMediterranean: {
		newTerm("olive oil"),
		newTerm("fish", "fish", "salmon", "sardine"),
		newTerm("vegetables", "vegetable", "tomato"),
		newTerm("whole grains", "whole grain"),
		newTerm("legumes", "legume", "lentil", "bean", "chickpea"),
		newTerm("nuts and seeds", "nut", "walnut"),
	},
	domain.TagAnemia: {
		newTerm("iron"),
		newTerm("vitamin b12", "b12", "cobalamin"),
		newTerm("folate", "folate", "folic acid"),
		newTerm("vitamin c", "vitamin c"),
		newTerm("leafy greens", "leafy green", "spinach", "kale"),
		newTerm("red meat", "red meat", "beef", "liver"),
		newTerm("legumes", "legume", "lentil", "bean", "chickpea"),
	},
	domain.TagDiabetes: {
		newTerm("fiber", "fiber", "fibre"),
		newTerm("whole grains", "whole grain"),
		newTerm("sugar"),
		newTerm("glycemic control", "glycemic", "glucose", "blood sugar"),
		newTerm("vegetables", "vegetable", "veggie"),
		newTerm("protein"),
	},
	domain.TagHypertension: {
		newTerm("sodium", "sodium", "salt"),
		newTerm("potassium", "potassium", "banana"),
		newTerm("vegetables", "vegetable", "leafy green"),
		newTerm("whole grains", "whole grain", "oat"),
		newTerm("fats", "saturated fat", "fat"),
		newTerm("dash diet", "dash diet"),
	},
}

// supplementTerms lists the supplements the rubric recognizes. The generic
// "supplement" entry guarantees any explicit supplement advice scores at
// least the base band.
var supplementTerms = []term{
	newTerm("supplement", "supplement", "supplementation"),
	newTerm("multivitamin"),
	newTerm("iron supplement", "iron supplement", "ferrous sulfate"),
	newTerm("b12 supplement", "b12 supplement", "b12 injection"),
	newTerm("folic acid"),
	newTerm("vitamin d", "vitamin d3", "vitamin d supplement"),
	newTerm("omega-3", "omega 3", "fish oil"),
	newTerm("creatine"),
	newTerm("whey protein", "whey", "protein powder", "protein shake"),
	newTerm("magnesium"),
	newTerm("zinc"),
	newTerm("probiotic"),
}

// markerPatterns detect language that addresses the user's situation rather
// than generic advice. Each counts as one personalization signal.
var markerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcustom(?:i[sz]ed)?\b`),
	regexp.MustCompile(`(?i)\bpersonali[sz]ed\b`),
	regexp.MustCompile(`(?i)\bgoals?\b`),
	regexp.MustCompile(`(?i)\bdietary\s+needs?\b`),
}

// statPatterns detect echoed numeric stats, one class each: body weight,
// height, energy intake, and age.
var statPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{2,3}\s?(?:lbs?|pounds?|kg|kilograms?)\b`),
	regexp.MustCompile(`(?i)(?:\d\s?'\s?\d{1,2}"?|\b\d{2,3}\s?cm\b|\b\d(?:\.\d)?\s?(?:ft|feet)\b)`),
	regexp.MustCompile(`(?i)\b\d{2,4}\s?(?:k?cal(?:orie)?s?)\b`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s?years?\s?old\b|\bage\s?\d{1,2}\b`),
}

// expectedNutrients returns the union of nutrient terms for the given tags,
// de-duplicated by label in first-seen order. With no tags the baseline
// macronutrient list applies.
func expectedNutrients(tags domain.DietTagSet) []term {
	if tags.IsEmpty() {
		return baselineNutrients
	}
	var union []term
	seen := make(map[string]struct{})
	for _, tag := range tags {
		for _, t := range nutrientsByTag[tag] {
			if _, ok := seen[t.label]; ok {
				continue
			}
			seen[t.label] = struct{}{}
			union = append(union, t)
		}
	}
	return union
}
