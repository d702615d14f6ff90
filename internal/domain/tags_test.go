package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDietTagSet(t *testing.T) {
	tests := []struct {
		name string
		tags []DietTag
		want DietTagSet
	}{
		{
			name: "empty input yields empty set",
			tags: nil,
			want: DietTagSet{},
		},
		{
			name: "single tag",
			tags: []DietTag{TagVegan},
			want: DietTagSet{TagVegan},
		},
		{
			name: "duplicates collapse",
			tags: []DietTag{TagKeto, TagKeto, TagKeto},
			want: DietTagSet{TagKeto},
		},
		{
			name: "result is sorted regardless of input order",
			tags: []DietTag{TagVegan, TagAnemia, TagKeto},
			want: DietTagSet{TagAnemia, TagKeto, TagVegan},
		},
		{
			name: "duplicates collapse and order normalizes together",
			tags: []DietTag{TagGlutenFree, TagAnemia, TagGlutenFree, TagAnemia},
			want: DietTagSet{TagAnemia, TagGlutenFree},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewDietTagSet(tt.tags...)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
			assert.NoError(t, got.Validate())
		})
	}
}

func TestDietTagSet_Validate(t *testing.T) {
	tests := []struct {
		name    string
		set     DietTagSet
		wantErr bool
	}{
		{name: "empty set is valid", set: DietTagSet{}, wantErr: false},
		{name: "sorted known tags are valid", set: DietTagSet{TagAnemia, TagVegan}, wantErr: false},
		{name: "unknown tag rejected", set: DietTagSet{DietTag("carnivore")}, wantErr: true},
		{name: "unsorted set rejected", set: DietTagSet{TagVegan, TagAnemia}, wantErr: true},
		{name: "duplicate tags rejected", set: DietTagSet{TagKeto, TagKeto}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDietTagSet_Has(t *testing.T) {
	set := NewDietTagSet(TagAnemia, TagKeto)

	assert.True(t, set.Has(TagAnemia))
	assert.True(t, set.Has(TagKeto))
	assert.False(t, set.Has(TagVegan))
	assert.False(t, DietTagSet{}.Has(TagVegan))
}

func TestDietTagSet_String(t *testing.T) {
	assert.Equal(t, "general", DietTagSet{}.String())
	assert.Equal(t, "anemia", NewDietTagSet(TagAnemia).String())
	assert.Equal(t, "anemia, keto", NewDietTagSet(TagKeto, TagAnemia).String())
}

func TestDietTagSet_JSONRoundTrip(t *testing.T) {
	original := NewDietTagSet(TagVegan, TagAnemia, TagGlutenFree)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded DietTagSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, original.Equal(decoded))
}

func TestAllDietTags(t *testing.T) {
	tags := AllDietTags()

	assert.Len(t, tags, 12)
	for _, tag := range tags {
		assert.True(t, IsKnownDietTag(tag), "tag %q should be known", tag)
	}

	// Mutating the returned slice must not affect the canonical list.
	tags[0] = DietTag("mutated")
	assert.True(t, IsKnownDietTag(AllDietTags()[0]))
}
