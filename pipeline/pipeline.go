// Package pipeline chains an input and user-defined operators, as described by a pipeline file.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/pkg/errors"

	"github.com/cube2222/udfbridge/config"
	"github.com/cube2222/udfbridge/datasources/jsonlines"
	"github.com/cube2222/udfbridge/datasources/parquet"
	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/graph"
	"github.com/cube2222/udfbridge/largebinary"
	"github.com/cube2222/udfbridge/runtime"
	"github.com/cube2222/udfbridge/schema"
)

type Pipeline struct {
	// Input is nil when the first operator is a source.
	Input     *execution.NodeWithMeta
	Operators []*runtime.Operator

	inputPath   string
	inputFormat string
}

// New prepares the pipeline. Operators aren't opened yet. The store may be nil,
// leaving user code without access to large binaries.
func New(cfg *config.Config, store largebinary.Store) (*Pipeline, error) {
	specs, err := cfg.OperatorSpecs()
	if err != nil {
		return nil, err
	}
	root, err := cfg.RuntimeRootDir()
	if err != nil {
		return nil, errors.Wrap(err, "couldn't resolve runtime root")
	}

	var out Pipeline

	inputPath, err := cfg.InputPath()
	if err != nil {
		return nil, errors.Wrap(err, "couldn't resolve input path")
	}
	if inputPath != "" {
		inputSchema, err := cfg.InputSchema()
		if err != nil {
			return nil, errors.Wrap(err, "invalid input schema")
		}
		format, err := cfg.InputFormat()
		if err != nil {
			return nil, err
		}
		var node execution.Node
		switch format {
		case config.FormatParquet:
			node = &parquet.Datasource{
				Path:   inputPath,
				Schema: inputSchema,
			}
		default:
			node = &jsonlines.Datasource{
				Path:   inputPath,
				Schema: inputSchema,
			}
		}
		out.inputPath = inputPath
		out.inputFormat = format
		out.Input = &execution.NodeWithMeta{
			Node:   node,
			Schema: inputSchema,
		}
	}

	for i, spec := range specs {
		switch {
		case i == 0 && out.Input == nil && !spec.Source:
			return nil, errors.Errorf("operator '%s' needs an input, the pipeline has neither an input file nor a source operator", spec.Name)
		case (i > 0 || out.Input != nil) && spec.Source:
			return nil, errors.Errorf("source operator '%s' has to come first, without an input file", spec.Name)
		}
		op, err := runtime.NewOperator(spec, runtime.Options{
			Store: store,
			Root:  root,
		})
		if err != nil {
			return nil, fmt.Errorf("couldn't create operator '%s': %w", spec.Name, err)
		}
		out.Operators = append(out.Operators, op)
	}
	return &out, nil
}

// Open opens every operator, so that a missing runtime or broken code fails the pipeline before any data flows.
func (p *Pipeline) Open(ctx context.Context) error {
	for _, op := range p.Operators {
		if err := op.Open(ctx); err != nil {
			p.Close()
			return fmt.Errorf("couldn't open operator '%s': %w", op.Spec.Name, err)
		}
		log.Printf("operator '%s' ready", op.Spec.Name)
	}
	return nil
}

// Node chains the operators, each one feeding the next on port 0.
func (p *Pipeline) Node() (*execution.NodeWithMeta, error) {
	var inputs []*execution.NodeWithMeta
	if p.Input != nil {
		inputs = []*execution.NodeWithMeta{p.Input}
	}
	var node *execution.NodeWithMeta
	for _, op := range p.Operators {
		var err error
		node, err = op.Node(inputs)
		if err != nil {
			return nil, err
		}
		inputs = []*execution.NodeWithMeta{node}
	}
	return node, nil
}

func (p *Pipeline) Close() error {
	var firstErr error
	// Downstream operators go first, so nothing is left pulling from a closed upstream.
	for i := len(p.Operators) - 1; i >= 0; i-- {
		op := p.Operators[i]
		if err := op.Close(); err != nil {
			log.Printf("couldn't close operator '%s': %s", op.Spec.Name, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("couldn't close operator '%s': %w", op.Spec.Name, err)
			}
		}
	}
	return firstErr
}

// Visualize describes the chain ending in the last operator.
func (p *Pipeline) Visualize() *graph.Stage {
	var upstream *graph.Stage
	var flowing *schema.Schema
	if p.Input != nil {
		upstream = graph.NewStage(p.inputFormat, graph.KindInput)
		upstream.AddField("path", p.inputPath)
		flowing = p.Input.Schema
	}
	for _, op := range p.Operators {
		kind := graph.KindTupleOperator
		switch {
		case op.Spec.Source:
			kind = graph.KindSourceOperator
		case op.Spec.API == runtime.APITable:
			kind = graph.KindTableOperator
		}
		stage := graph.NewStage(op.Spec.Name, kind)
		stage.AddField("language", op.Spec.Language)
		if kind != graph.KindTupleOperator {
			stage.AddField("batch_size", fmt.Sprint(op.Spec.BatchSize))
		}
		if upstream != nil {
			stage.Feed(0, schemaString(flowing), upstream)
		}
		upstream = stage
		flowing = op.Spec.OutputSchema
	}
	return upstream
}

func schemaString(s *schema.Schema) string {
	if s == nil {
		return "inferred"
	}
	return s.String()
}
