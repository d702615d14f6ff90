package domain

import (
	"slices"
	"strings"
)

// DietTag is a normalized label for a dietary or health-condition signal
// detected in user text. Tags are drawn from a fixed controlled vocabulary;
// free-form values are rejected by validation so downstream vocabularies
// (nutrient terms, supplement terms) stay aligned with extraction.
type DietTag string

// Controlled vocabulary of diet and condition tags.
const (
	// TagVegan indicates a fully plant-based diet.
	TagVegan DietTag = "vegan"

	// TagVegetarian indicates a meat-free diet.
	TagVegetarian DietTag = "vegetarian"

	// TagKeto indicates a ketogenic, very-low-carbohydrate diet.
	TagKeto DietTag = "keto"

	// TagPaleo indicates a paleolithic-style whole-food diet.
	TagPaleo DietTag = "paleo"

	// TagGlutenFree indicates gluten avoidance.
	TagGlutenFree DietTag = "gluten_free"

	// TagDairyFree indicates dairy avoidance, including lactose intolerance.
	TagDairyFree DietTag = "dairy_free"

	// TagLowCarb indicates a reduced-carbohydrate diet.
	TagLowCarb DietTag = "low_carb"

	// TagHighProtein indicates a protein-focused diet.
	TagHighProtein DietTag = "high_protein"

	// TagMediterranean indicates a Mediterranean-style diet.
	TagMediterranean DietTag = "mediterranean"

	// TagAnemia indicates an iron-deficiency or related anemia condition.
	TagAnemia DietTag = "anemia"

	// TagDiabetes indicates a diabetic or pre-diabetic condition.
	TagDiabetes DietTag = "diabetes"

	// TagHypertension indicates high blood pressure.
	TagHypertension DietTag = "hypertension"
)

// AllDietTags returns the complete controlled vocabulary in sorted order.
// Returns a fresh slice to prevent mutation of the canonical list.
func AllDietTags() []DietTag {
	return []DietTag{
		TagAnemia,
		TagDairyFree,
		TagDiabetes,
		TagGlutenFree,
		TagHighProtein,
		TagHypertension,
		TagKeto,
		TagLowCarb,
		TagMediterranean,
		TagPaleo,
		TagVegan,
		TagVegetarian,
	}
}

// IsKnownDietTag reports whether the tag belongs to the controlled vocabulary.
func IsKnownDietTag(tag DietTag) bool {
	return slices.Contains(AllDietTags(), tag)
}

// String returns the tag's wire representation.
func (t DietTag) String() string { return string(t) }

// DietTagSet is a de-duplicated, sorted collection of diet tags derived from
// a prompt. Sorted-slice representation (rather than a map) keeps JSON
// round-trips, workflow replays, and test assertions deterministic.
// The empty set is valid: it means no recognized signal.
type DietTagSet []DietTag

// NewDietTagSet builds a normalized tag set: duplicates collapse and the
// result is sorted. Unknown tags are preserved here and rejected by Validate,
// keeping construction infallible for internal callers.
func NewDietTagSet(tags ...DietTag) DietTagSet {
	if len(tags) == 0 {
		return DietTagSet{}
	}
	set := make(DietTagSet, 0, len(tags))
	seen := make(map[DietTag]struct{}, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		set = append(set, tag)
	}
	slices.Sort(set)
	return set
}

// Validate checks that every member belongs to the controlled vocabulary
// and that the set is sorted and free of duplicates.
func (s DietTagSet) Validate() error {
	for i, tag := range s {
		if !IsKnownDietTag(tag) {
			return ErrInvalidConfig
		}
		if i > 0 && s[i-1] >= tag {
			return ErrInvalidConfig
		}
	}
	return nil
}

// Has reports whether the set contains the given tag.
func (s DietTagSet) Has(tag DietTag) bool { return slices.Contains(s, tag) }

// IsEmpty reports whether no signal was detected.
func (s DietTagSet) IsEmpty() bool { return len(s) == 0 }

// Strings returns the tags as plain strings, preserving sorted order.
func (s DietTagSet) Strings() []string {
	out := make([]string, len(s))
	for i, tag := range s {
		out[i] = string(tag)
	}
	return out
}

// String renders the set for display, "general" when empty. Used by the CLI
// diet echo line and by log fields.
func (s DietTagSet) String() string {
	if len(s) == 0 {
		return "general"
	}
	return strings.Join(s.Strings(), ", ")
}

// Equal reports whether two sets contain the same tags.
func (s DietTagSet) Equal(other DietTagSet) bool { return slices.Equal(s, other) }
