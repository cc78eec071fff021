// Package outputs prints the tuples a pipeline produces.
package outputs

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/outputs/formats"
	"github.com/cube2222/udfbridge/schema"
)

type Format interface {
	SetSchema(s *schema.Schema)
	Write(values []schema.Value) error
	Close() error
}

// NewFormat returns the format with the given name, table or json.
func NewFormat(name string, w io.Writer) (Format, error) {
	switch name {
	case "table", "":
		return formats.NewTableFormatter(w), nil
	case "json":
		return formats.NewJSONFormatter(w), nil
	}
	return nil, errors.Errorf("invalid output format '%s', must be one of: table, json", name)
}

type OutputPrinter struct {
	source *execution.NodeWithMeta
	format Format
}

func NewOutputPrinter(source *execution.NodeWithMeta, format Format) *OutputPrinter {
	return &OutputPrinter{
		source: source,
		format: format,
	}
}

// Run prints every tuple of the source. Sources with an inferred schema get it set on their first batch.
func (o *OutputPrinter) Run(ctx execution.Context) error {
	schemaSet := false
	if o.source.Schema != nil {
		o.format.SetSchema(o.source.Schema)
		schemaSet = true
	}

	if err := o.source.Node.Run(ctx, func(produceCtx execution.ProduceContext, batch *schema.Batch) error {
		if !schemaSet {
			o.format.SetSchema(batch.Schema())
			schemaSet = true
		}
		tuples, err := marshal.TuplesFromBatch(batch)
		if err != nil {
			return fmt.Errorf("couldn't read output batch: %w", err)
		}
		for i := range tuples {
			if err := o.format.Write(tuples[i].Values()); err != nil {
				return fmt.Errorf("couldn't write output: %w", err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := o.format.Close(); err != nil {
		return errors.Wrap(err, "couldn't close output formatter")
	}
	return nil
}
