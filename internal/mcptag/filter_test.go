package mcptag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagSet(ts ...string) map[string]bool {
	m := make(map[string]bool, len(ts))
	for _, t := range ts {
		m[t] = true
	}
	return m
}

func TestFilter_None_AdmitsEverything(t *testing.T) {
	ok, err := None().Admits(tagSet(), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilter_SimpleOr(t *testing.T) {
	f := SimpleOr([]string{"db", "cache"})

	ok, err := f.Admits(tagSet("db", "web"), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Admits(tagSet("web"), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilter_SimpleOr_EmptyTagsAdmitsAll(t *testing.T) {
	ok, err := SimpleOr(nil).Admits(tagSet("anything"), nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilter_Advanced_AndOrNot(t *testing.T) {
	expr := Expr{And: []Expr{
		{Term: "db"},
		{Not: &Expr{Term: "readonly"}},
	}}
	f := Advanced(expr)

	ok, err := f.Admits(tagSet("db"), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Admits(tagSet("db", "readonly"), nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilter_Preset_ResolvesThroughStore(t *testing.T) {
	store := NewMemoryStore(map[string]Filter{
		"backend": SimpleOr([]string{"db", "cache"}),
	})

	f := Preset("backend")
	ok, err := f.Admits(tagSet("cache"), store)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilter_Preset_UnknownIsInvalidRequest(t *testing.T) {
	store := NewMemoryStore(nil)
	_, err := Preset("missing").Admits(tagSet(), store)
	require.Error(t, err)
}

func TestCompileAndAdmitsString_Agree(t *testing.T) {
	expr := Expr{Or: []Expr{
		{Term: "db"},
		{And: []Expr{{Term: "web"}, {Not: &Expr{Term: "staging"}}}},
	}}

	for _, tags := range []map[string]bool{
		tagSet("db"),
		tagSet("web"),
		tagSet("web", "staging"),
		tagSet("other"),
	} {
		astResult, err := Advanced(expr).Admits(tags, nil)
		require.NoError(t, err)

		strResult, err := AdmitsString(Compile(expr), tags)
		require.NoError(t, err)

		assert.Equal(t, astResult, strResult, "tags=%v", tags)
	}
}

func TestAdmitsString_InvalidExpression(t *testing.T) {
	_, err := AdmitsString("tags.includes(", tagSet("db"))
	require.Error(t, err)
}
