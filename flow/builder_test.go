package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderAssemblesValidDefinition(t *testing.T) {
	def, err := NewBuilder("etl").
		WithName("ETL Pipeline").
		WithVersion("2.1.0").
		WithProperty("region", "eu-west-1").
		Sync().
		Step("extract", "http.request", map[string]any{"url": "https://example.com"}).
		Step("transform", "script", nil).
		Step("load", "http.request", nil).
		DependsOn("transform", "extract").
		DependsOn("load", "transform").
		Build()

	require.NoError(t, err)
	assert.Equal(t, "etl", def.ID)
	assert.Equal(t, "ETL Pipeline", def.Name)
	assert.Equal(t, "2.1.0", def.Version)
	assert.Equal(t, "eu-west-1", def.Properties["region"])
	assert.True(t, def.Sync)
	require.Len(t, def.Steps, 3)
	assert.Equal(t, []string{"transform"}, def.Dependencies["load"])
}

func TestBuilderPreservesStepOrder(t *testing.T) {
	def, err := NewBuilder("ordered").
		Step("first", "noop", nil).
		Step("second", "noop", nil).
		Step("third", "noop", nil).
		Build()

	require.NoError(t, err)
	ids := make([]string, len(def.Steps))
	for i, s := range def.Steps {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"first", "second", "third"}, ids)
}

func TestBuilderRejectsInvalidGraph(t *testing.T) {
	_, err := NewBuilder("broken").
		Step("a", "noop", nil).
		Step("b", "noop", nil).
		DependsOn("a", "b").
		DependsOn("b", "a").
		Build()

	require.Error(t, err)
	assert.True(t, IsKind(err, KindDefinition))
}

func TestBuilderRejectsEmptyFlow(t *testing.T) {
	_, err := NewBuilder("empty").Build()
	require.Error(t, err)
}
