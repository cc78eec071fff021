// Package graph renders pipelines as graphviz record graphs.
//
// Data flows left to right: every stage points at the port of the operator it feeds,
// and the edge carries the schema of the tuples crossing it.
package graph

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"
)

type Kind int

const (
	KindInput Kind = iota
	KindSourceOperator
	KindTupleOperator
	KindTableOperator
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindSourceOperator:
		return "source"
	case KindTupleOperator:
		return "tuple operator"
	case KindTableOperator:
		return "table operator"
	}
	return "unknown"
}

func (k Kind) color() string {
	switch k {
	case KindInput:
		return "lightgrey"
	case KindSourceOperator:
		return "palegreen"
	case KindTableOperator:
		return "lightsalmon"
	}
	return "lightblue"
}

type Field struct {
	Name, Value string
}

// Upstream is a stage feeding one input port of an operator.
type Upstream struct {
	Port   int
	Schema string
	Stage  *Stage
}

type Stage struct {
	Name     string
	Kind     Kind
	Fields   []Field
	Upstream []Upstream
}

func NewStage(name string, kind Kind) *Stage {
	return &Stage{
		Name: name,
		Kind: kind,
	}
}

func (s *Stage) AddField(name, value string) {
	s.Fields = append(s.Fields, Field{
		Name:  name,
		Value: value,
	})
}

// Feed connects upstream to the given input port of s.
func (s *Stage) Feed(port int, schema string, upstream *Stage) {
	s.Upstream = append(s.Upstream, Upstream{
		Port:   port,
		Schema: schema,
		Stage:  upstream,
	})
}

// Show lays the pipeline ending in last out left to right.
func Show(title string, last *Stage) (*gographviz.Graph, error) {
	graph := gographviz.NewGraph()
	graph.Directed = true
	for attr, value := range map[string]string{
		"rankdir":  "LR",
		"label":    quote(title),
		"labelloc": "t",
	} {
		if err := graph.AddAttr("", attr, value); err != nil {
			return nil, fmt.Errorf("couldn't set graph attribute %s: %w", attr, err)
		}
	}
	builder := &graphBuilder{
		graph: graph,
		seen:  make(map[string]int),
	}

	if _, err := builder.addStage(last); err != nil {
		return nil, err
	}
	return graph, nil
}

type graphBuilder struct {
	graph *gographviz.Graph
	seen  map[string]int
}

// Operator names are unique within a pipeline, but an input may share its format name with one.
// IDs are quoted, user-chosen names needn't be valid dot identifiers.
func (gb *graphBuilder) stageID(stage *Stage) string {
	name := strings.ReplaceAll(stage.Name, `"`, "'")
	count := gb.seen[name]
	gb.seen[name]++
	if count > 0 {
		name = fmt.Sprintf("%s#%d", name, count)
	}
	return quote(name)
}

func (gb *graphBuilder) addStage(stage *Stage) (string, error) {
	labelParts := []string{fmt.Sprintf("%s\\n(%s)", escape(stage.Name), stage.Kind)}
	if len(stage.Fields) > 0 {
		fields := make([]string, len(stage.Fields))
		for i, field := range stage.Fields {
			fields[i] = fmt.Sprintf("%s: %s", field.Name, escape(field.Value))
		}
		labelParts = append(labelParts, strings.Join(fields, "\\l")+"\\l")
	}
	if len(stage.Upstream) > 0 {
		ports := make([]string, len(stage.Upstream))
		for i, upstream := range stage.Upstream {
			ports[i] = fmt.Sprintf("<%s> port %d", portName(upstream.Port), upstream.Port)
		}
		labelParts = append(labelParts, strings.Join(ports, "|"))
	}

	id := gb.stageID(stage)
	if err := gb.graph.AddNode("", id, map[string]string{
		"shape":     "record",
		"style":     "filled",
		"fillcolor": stage.Kind.color(),
		"label":     quote(fmt.Sprintf("{%s}", strings.Join(labelParts, "|"))),
	}); err != nil {
		return "", fmt.Errorf("couldn't add stage %s: %w", id, err)
	}

	for _, upstream := range stage.Upstream {
		upstreamID, err := gb.addStage(upstream.Stage)
		if err != nil {
			return "", err
		}
		if err := gb.graph.AddPortEdge(upstreamID, "", id, portName(upstream.Port), true, map[string]string{
			"label": quote(strings.ReplaceAll(upstream.Schema, `"`, `\"`)),
		}); err != nil {
			return "", fmt.Errorf("couldn't connect %s to port %d of %s: %w", upstreamID, upstream.Port, id, err)
		}
	}
	return id, nil
}

func portName(port int) string {
	return fmt.Sprintf("port_%d", port)
}

func quote(s string) string {
	return `"` + s + `"`
}

// escape quotes characters which have a meaning in record labels.
var escape = strings.NewReplacer(
	`"`, `\"`,
	"{", `\{`,
	"}", `\}`,
	"|", `\|`,
	"<", `\<`,
	">", `\>`,
).Replace
