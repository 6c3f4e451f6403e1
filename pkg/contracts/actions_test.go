package contracts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	assert.Len(t, c.Actions(), 6)
	assert.True(t, c.Recognized(ActionIdeatorRun))
	assert.False(t, c.Recognized(Action("mystery.run")))

	// Root actions pass recency trivially: no groups.
	assert.Empty(t, c[ActionSignalsCapture].Groups)
	assert.Empty(t, c[ActionFusionRun].Groups)

	draft, ok := c.DraftAction()
	require.True(t, ok)
	assert.Equal(t, ActionCopywriterRun, draft)
}

func TestLoadCatalog(t *testing.T) {
	src := `
signals.capture: {}
ideator.run:
  groups:
    - [fusionAt, signalsAt]
copywriter.run:
  draft: true
  groups:
    - [ideaAt]
`
	c, err := LoadCatalog(strings.NewReader(src))
	require.NoError(t, err)
	assert.Len(t, c, 3)
	assert.Equal(t, RequirementGroup{"fusionAt", "signalsAt"}, c[ActionIdeatorRun].Groups[0])

	draft, ok := c.DraftAction()
	require.True(t, ok)
	assert.Equal(t, ActionCopywriterRun, draft)
}

func TestLoadCatalogRejectsBadShapes(t *testing.T) {
	cases := map[string]string{
		"empty":       ``,
		"no draft":    `signals.capture: {}`,
		"two drafts":  "a.run:\n  draft: true\nb.run:\n  draft: true\n",
		"empty group": "a.run:\n  draft: true\n  groups:\n    - []\n",
		"not yaml":    `{{{`,
		"empty key":   "a.run:\n  draft: true\n  groups:\n    - [\"\"]\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestDedupeActions(t *testing.T) {
	in := []Action{ActionFusionRun, ActionIdeatorRun, ActionFusionRun, "", ActionBenchmarkRun}
	out := DedupeActions(in)
	assert.Equal(t, []Action{ActionBenchmarkRun, ActionFusionRun, ActionIdeatorRun}, out)
}
