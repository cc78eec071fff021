package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShow(t *testing.T) {
	input := NewStage("jsonlines", KindInput)
	input.AddField("path", "people.jsonl")

	older := NewStage("older", KindTupleOperator)
	older.AddField("language", "starlark")
	older.AddField("output", "{name: String, age: Int}")
	older.Feed(0, "(name: String, age: Int)", input)

	count := NewStage("older", KindTableOperator)
	count.AddField("batch_size", "2")
	count.Feed(0, "(name: String, age: Int)", older)

	g, err := Show("people.yaml", count)
	require.NoError(t, err)

	out := g.String()
	assert.Contains(t, out, `"older"`)
	assert.Contains(t, out, `"older#1"`)
	assert.Contains(t, out, `"jsonlines"`)
	assert.Contains(t, out, `\{name: String, age: Int\}`)
	assert.Contains(t, out, "(table operator)")
	assert.Contains(t, out, "fillcolor=lightgrey")
	assert.Contains(t, out, "rankdir=LR")
	assert.Contains(t, out, `label="people.yaml"`)
	require.Len(t, g.Edges.Edges, 2)
	for _, edge := range g.Edges.Edges {
		assert.Equal(t, "port_0", edge.DstPort)
		assert.Equal(t, `"(name: String, age: Int)"`, edge.Attrs["label"])
	}
}

func TestShowSourceWithoutInput(t *testing.T) {
	source := NewStage("numbers", KindSourceOperator)

	g, err := Show("numbers.yaml", source)
	require.NoError(t, err)
	assert.Empty(t, g.Edges.Edges)
	assert.Contains(t, g.String(), "(source)")
}
