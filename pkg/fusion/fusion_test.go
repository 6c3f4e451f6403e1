package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDisjointSources(t *testing.T) {
	sum, err := Merge(
		map[string]any{"audience": "founders"},
		map[string]any{"tone": "direct"},
	)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Sources)
	assert.Equal(t, map[string]any{"audience": "founders", "tone": "direct"}, sum.Merged)
	assert.Empty(t, sum.Conflicts)
}

func TestMergeNestedMaps(t *testing.T) {
	sum, err := Merge(
		map[string]any{"seo": map[string]any{"keywords": []any{"a"}}},
		map[string]any{"seo": map[string]any{"volume": 120}},
	)
	require.NoError(t, err)

	seo := sum.Merged["seo"].(map[string]any)
	assert.Equal(t, []any{"a"}, seo["keywords"])
	assert.Equal(t, 120, seo["volume"])
}

func TestMergeConflictLastWriterWins(t *testing.T) {
	sum, err := Merge(
		map[string]any{"tone": "direct", "meta": map[string]any{"lang": "en"}},
		map[string]any{"tone": "playful", "meta": map[string]any{"lang": "de"}},
	)
	require.NoError(t, err)

	assert.Equal(t, "playful", sum.Merged["tone"])
	assert.Equal(t, "de", sum.Merged["meta"].(map[string]any)["lang"])
	assert.Equal(t, []string{"meta.lang", "tone"}, sum.Conflicts)
}

func TestMergeAgreementIsNotAConflict(t *testing.T) {
	sum, err := Merge(
		map[string]any{"tone": "direct"},
		map[string]any{"tone": "direct"},
	)
	require.NoError(t, err)
	assert.Empty(t, sum.Conflicts)
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	src := map[string]any{"nested": map[string]any{"v": 1}}
	sum, err := Merge(src)
	require.NoError(t, err)

	sum.Merged["nested"].(map[string]any)["v"] = 99
	assert.Equal(t, 1, src["nested"].(map[string]any)["v"])
}

func TestMergeSkipsNilSources(t *testing.T) {
	sum, err := Merge(nil, map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sources)
}

func TestMergeRejectsExoticPayloads(t *testing.T) {
	_, err := Merge(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
