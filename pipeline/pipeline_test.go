package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/udfbridge/config"
	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/graph"
	"github.com/cube2222/udfbridge/largebinary"
	"github.com/cube2222/udfbridge/outputs"
	_ "github.com/cube2222/udfbridge/runtime/starlarkudf"
	"github.com/cube2222/udfbridge/udferr"
)

func readConfig(t *testing.T, files map[string]string) *config.Config {
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	cfg, err := config.ReadConfig(filepath.Join(dir, "pipeline.yaml"))
	require.NoError(t, err)
	return cfg
}

func runJSON(t *testing.T, cfg *config.Config, store largebinary.Store) (string, error) {
	p, err := New(cfg, store)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	if err := p.Open(ctx); err != nil {
		return "", err
	}
	node, err := p.Node()
	require.NoError(t, err)

	var buf bytes.Buffer
	format, err := outputs.NewFormat("json", &buf)
	require.NoError(t, err)
	err = outputs.NewOutputPrinter(node, format).Run(execution.Context{Context: ctx})
	return buf.String(), err
}

func TestInputThroughTupleAndTableOperators(t *testing.T) {
	cfg := readConfig(t, map[string]string{
		"pipeline.yaml": `
input:
  path: people.jsonl
operators:
  - name: older
    language: starlark
    file: older.star
  - name: count
    language: starlark
    api: table
    batchSize: 2
    code: |
      def process_table(table, port):
          return {"count": [len(table["name"])], "oldest": [max([age for age in table["age"] if age != None])]}
`,
		"older.star": `
def process_tuple(tuple, port):
    if tuple["age"] != None:
        tuple["age"] = tuple["age"] + 1
    return tuple
`,
		"people.jsonl": `{"name": "alice", "age": 30}
{"name": "bob", "age": 25}
{"name": "carol", "age": 41}
`,
	})

	out, err := runJSON(t, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"count":2,"oldest":31}`+"\n"+`{"count":1,"oldest":42}`+"\n", out)
}

func TestParquetInput(t *testing.T) {
	cfg := readConfig(t, map[string]string{
		"pipeline.yaml": `
input:
  path: cities.parquet
operators:
  - name: density
    language: starlark
    code: |
      def process_tuple(tuple, port):
          return {"city": tuple["city"], "density": tuple["population"] // tuple["area"]}
`,
	})
	type city struct {
		City       string `parquet:"city"`
		Population int64  `parquet:"population"`
		Area       int64  `parquet:"area"`
	}
	path, err := cfg.InputPath()
	require.NoError(t, err)
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewWriter(f)
	require.NoError(t, w.Write(city{City: "warsaw", Population: 1800000, Area: 500}))
	require.NoError(t, w.Write(city{City: "krakow", Population: 800000, Area: 320}))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	out, err := runJSON(t, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"city":"warsaw","density":3600}`+"\n"+`{"city":"krakow","density":2500}`+"\n", out)
}

func TestSourceWritingLargeBinaries(t *testing.T) {
	cfg := readConfig(t, map[string]string{
		"pipeline.yaml": `
operators:
  - name: generate
    language: starlark
    source: true
    code: |
      def produce():
          out = []
          for i in range(3):
              h = largebinary()
              w = open_write(h)
              w.write("payload-%d" % i)
              w.close()
              out.append({"id": i, "blob": h})
          return out
  - name: measure
    language: starlark
    code: |
      def process_tuple(tuple, port):
          r = open_read(tuple["blob"])
          data = r.read()
          r.close()
          return {"id": tuple["id"], "size": len(data)}
`,
	})

	backend := largebinary.NewMemoryBackend()
	out, err := runJSON(t, cfg, largebinary.NewObjectStore(backend, largebinary.Options{}))
	require.NoError(t, err)
	assert.Equal(t, `{"id":0,"size":9}`+"\n"+`{"id":1,"size":9}`+"\n"+`{"id":2,"size":9}`+"\n", out)
	assert.Equal(t, 3, backend.Objects())
}

func TestOpenFailsBeforeDataFlows(t *testing.T) {
	cfg := readConfig(t, map[string]string{
		"pipeline.yaml": `
input:
  path: missing.jsonl
operators:
  - name: broken
    language: starlark
    code: "def process_tuple(tuple, port) return tuple"
`,
	})

	_, err := runJSON(t, cfg, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, udferr.ErrForeignExecution))
	e, ok := udferr.As(err)
	require.True(t, ok)
	assert.Equal(t, "open", e.Op)
}

func TestCloseInReverseOrder(t *testing.T) {
	cfg := readConfig(t, map[string]string{
		"pipeline.yaml": `
operators:
  - name: numbers
    language: starlark
    source: true
    code: |
      def produce():
          return [{"n": 1}]
  - name: doubled
    language: starlark
    code: |
      def process_tuple(tuple, port):
          return {"n": tuple["n"] * 2}
`,
	})
	p, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, p.Open(context.Background()))

	var logged bytes.Buffer
	defer log.SetOutput(log.Writer())
	log.SetOutput(&logged)

	require.NoError(t, p.Close())
	downstream := strings.Index(logged.String(), "operator 'doubled'")
	upstream := strings.Index(logged.String(), "operator 'numbers'")
	require.NotEqual(t, -1, downstream, logged.String())
	require.NotEqual(t, -1, upstream, logged.String())
	assert.Less(t, downstream, upstream)
}

func TestInvalidChains(t *testing.T) {
	tests := []struct {
		name     string
		pipeline string
	}{
		{
			name: "no input",
			pipeline: `
operators:
  - name: transform
    language: starlark
    code: "def process_tuple(tuple, port): return tuple"
`,
		},
		{
			name: "source after input",
			pipeline: `
input:
  path: input.jsonl
operators:
  - name: generate
    language: starlark
    source: true
    code: "def produce(): return None"
`,
		},
		{
			name: "unknown language",
			pipeline: `
input:
  path: input.jsonl
operators:
  - name: transform
    language: cobol
    code: "IDENTIFICATION DIVISION."
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := readConfig(t, map[string]string{"pipeline.yaml": tt.pipeline})
			_, err := New(cfg, nil)
			assert.Error(t, err)
		})
	}
}

func TestVisualize(t *testing.T) {
	cfg := readConfig(t, map[string]string{
		"pipeline.yaml": `
input:
  path: people.jsonl
operators:
  - name: older
    language: starlark
    code: "def process_tuple(tuple, port): return tuple"
    outputSchema:
      - name: name
        type: string
  - name: count
    language: starlark
    api: table
    code: "def process_table(table, port): return table"
`,
	})
	p, err := New(cfg, nil)
	require.NoError(t, err)

	last := p.Visualize()
	assert.Equal(t, "count", last.Name)
	assert.Equal(t, graph.KindTableOperator, last.Kind)
	require.Len(t, last.Upstream, 1)
	assert.Equal(t, "(name: String)", last.Upstream[0].Schema)

	older := last.Upstream[0].Stage
	assert.Equal(t, "older", older.Name)
	assert.Equal(t, graph.KindTupleOperator, older.Kind)
	assert.Contains(t, older.Fields, graph.Field{Name: "language", Value: "starlark"})
	require.Len(t, older.Upstream, 1)

	input := older.Upstream[0].Stage
	assert.Equal(t, "jsonlines", input.Name)
	assert.Equal(t, graph.KindInput, input.Kind)
	assert.Empty(t, input.Upstream)
}
