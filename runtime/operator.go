package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/cube2222/udfbridge/execution"
	"github.com/cube2222/udfbridge/execution/nodes"
	"github.com/cube2222/udfbridge/schema"
)

type API int

const (
	APITuple API = iota
	APITable
)

func (api API) String() string {
	switch api {
	case APITuple:
		return "tuple"
	case APITable:
		return "table"
	}
	return fmt.Sprintf("API(%d)", int(api))
}

func ParseAPI(s string) (API, error) {
	switch strings.ToLower(s) {
	case "tuple", "":
		return APITuple, nil
	case "table":
		return APITable, nil
	}
	return 0, errors.Errorf("invalid operator api '%s', must be one of: tuple, table", s)
}

// OperatorSpec describes a single user-defined operator.
type OperatorSpec struct {
	Name     string
	Language string
	API      API
	// Source operators have no inputs and produce their own data.
	Source bool
	Code   []byte
	// CodeName is used in foreign tracebacks, usually the path the code was read from.
	CodeName string
	// OutputSchema may be nil, in which case it's inferred from the first output.
	OutputSchema *schema.Schema
	// BatchSize bounds the size of produced batches, and of batches passed to table transforms.
	BatchSize int
}

// Operator runs user code as a node of the execution graph.
type Operator struct {
	Spec   OperatorSpec
	bridge *Bridge
}

// NewOperator looks up the runtime of the operator's language. The runtime itself is created on Open.
func NewOperator(spec OperatorSpec, opts Options) (*Operator, error) {
	factory, err := Lookup(spec.Language)
	if err != nil {
		return nil, err
	}
	if spec.BatchSize <= 0 {
		spec.BatchSize = execution.IdealBatchSize
	}
	return &Operator{
		Spec:   spec,
		bridge: NewBridge(spec, factory, opts),
	}, nil
}

func (o *Operator) Open(ctx context.Context) error {
	return o.bridge.Open(ctx)
}

func (o *Operator) Bridge() *Bridge {
	return o.bridge
}

// Node wires the operator to its inputs. Ports are numbered in the order of inputs.
func (o *Operator) Node(inputs []*execution.NodeWithMeta) (*execution.NodeWithMeta, error) {
	if o.Spec.Source && len(inputs) > 0 {
		return nil, errors.Errorf("source operator '%s' can't have inputs, got %d", o.Spec.Name, len(inputs))
	}
	if !o.Spec.Source && len(inputs) == 0 {
		return nil, errors.Errorf("operator '%s' needs at least one input", o.Spec.Name)
	}

	var node execution.Node
	switch {
	case o.Spec.API == APITuple && o.Spec.Source:
		node = &nodes.TupleSource{
			Executor:  o.bridge,
			Schema:    o.Spec.OutputSchema,
			BatchSize: o.Spec.BatchSize,
		}
	case o.Spec.API == APITuple:
		node = &nodes.TupleTransform{
			Executor:  o.bridge,
			Sources:   inputs,
			Schema:    o.Spec.OutputSchema,
			BatchSize: o.Spec.BatchSize,
		}
	case o.Spec.API == APITable && o.Spec.Source:
		node = &nodes.TableSource{
			Executor: o.bridge,
			Schema:   o.Spec.OutputSchema,
		}
	case o.Spec.API == APITable:
		rebatched := make([]*execution.NodeWithMeta, len(inputs))
		for i := range inputs {
			rebatched[i] = &execution.NodeWithMeta{
				Node:   &nodes.Rebatch{Source: inputs[i], BatchSize: o.Spec.BatchSize},
				Schema: inputs[i].Schema,
			}
		}
		node = &nodes.TableTransform{
			Executor: o.bridge,
			Sources:  rebatched,
			Schema:   o.Spec.OutputSchema,
		}
	default:
		return nil, errors.Errorf("unsupported operator api: %s", o.Spec.API)
	}

	return &execution.NodeWithMeta{
		Node:   node,
		Schema: o.Spec.OutputSchema,
	}, nil
}

// Run opens the operator if needed, runs it to completion and closes it.
func (o *Operator) Run(ctx context.Context, inputs []*execution.NodeWithMeta, produce execution.ProduceFunc) error {
	node, err := o.Node(inputs)
	if err != nil {
		return err
	}
	if err := o.Open(ctx); err != nil {
		return err
	}
	defer o.Close()

	if err := node.Node.Run(execution.Context{Context: ctx}, produce); err != nil {
		return fmt.Errorf("couldn't run operator '%s': %w", o.Spec.Name, err)
	}
	return o.Close()
}

func (o *Operator) Close() error {
	return o.bridge.Close()
}
