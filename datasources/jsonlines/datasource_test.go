package jsonlines

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "input.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func run(t *testing.T, d *Datasource) ([]*schema.Schema, []schema.Tuple, error) {
	var schemas []*schema.Schema
	var tuples []schema.Tuple
	err := d.Run(execution.Context{Context: context.Background()}, func(produceCtx execution.ProduceContext, batch *schema.Batch) error {
		schemas = append(schemas, batch.Schema())
		batchTuples, err := marshal.TuplesFromBatch(batch)
		if err != nil {
			return err
		}
		tuples = append(tuples, batchTuples...)
		return nil
	})
	return schemas, tuples, err
}

func TestDeclaredSchema(t *testing.T) {
	path := writeFile(t, `{"name": "alice", "age": 30, "ignored": true}
{"name": "bob"}

{"name": "carol", "age": 41, "joined": "2023-04-01T10:00:00Z"}
`)
	s := schema.MustNewSchema(
		schema.Field{Name: "name", Type: schema.String},
		schema.Field{Name: "age", Type: schema.Float, Nullable: true},
		schema.Field{Name: "joined", Type: schema.Time, Nullable: true},
	)

	schemas, tuples, err := run(t, &Datasource{Path: path, Schema: s, BatchSize: 2})
	require.NoError(t, err)
	require.Len(t, schemas, 2)
	require.Len(t, tuples, 3)

	assert.Equal(t, "bob", tuples[1].Value(0).Str)
	assert.True(t, tuples[1].Value(1).IsNull())
	assert.Equal(t, 41.0, tuples[2].Value(1).Float)
	assert.Equal(t, 2023, tuples[2].Value(2).Time.Year())
}

func TestInferredSchema(t *testing.T) {
	path := writeFile(t, `{"id": 1, "blob": "s3://texera-large-binaries/objects/1/a", "tags": ["a", "b"]}
{"id": 2, "score": 0.5, "blob": null, "tags": []}
`)

	schemas, tuples, err := run(t, &Datasource{Path: path})
	require.NoError(t, err)
	require.Len(t, tuples, 2)

	assert.True(t, schemas[0].Equal(schema.MustNewSchema(
		schema.Field{Name: "id", Type: schema.Int, Nullable: true},
		schema.Field{Name: "blob", Type: schema.LargeBinary, Nullable: true},
		schema.Field{Name: "tags", Type: schema.ListOf(schema.String), Nullable: true},
		schema.Field{Name: "score", Type: schema.Float, Nullable: true},
	)), schemas[0].String())

	assert.Equal(t, "s3://texera-large-binaries/objects/1/a", tuples[0].Value(1).Handle.URI)
	assert.True(t, tuples[0].Value(3).IsNull())
	assert.Equal(t, 0.5, tuples[1].Value(3).Float)
}

func TestSchemaViolation(t *testing.T) {
	path := writeFile(t, `{"name": "alice"}
{"name": 7}
`)
	s := schema.MustNewSchema(schema.Field{Name: "name", Type: schema.String})

	_, _, err := run(t, &Datasource{Path: path, Schema: s})
	require.Error(t, err)
	assert.True(t, errors.Is(err, udferr.ErrSchemaViolation))
	assert.Contains(t, err.Error(), "line 2")
}

func TestNotAnObject(t *testing.T) {
	path := writeFile(t, `[1, 2, 3]`)

	_, _, err := run(t, &Datasource{Path: path})
	assert.Error(t, err)
}
