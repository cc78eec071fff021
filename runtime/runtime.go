// Package runtime hosts foreign interpreters. Each adapter implements the narrow Runtime interface,
// and the Bridge owns one runtime per operator instance, dispatching every call into it.
package runtime

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v13/arrow"

	"github.com/cube2222/udfbridge/largebinary"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

// Entry points of user code.
const (
	// CallProduce takes no arguments.
	// Tuple API runtimes return a RowIterator, Table API runtimes return a *Table, or nil once exhausted.
	CallProduce = "produce"
	// CallProcessTuple takes a schema.Tuple and a schema.Port, and returns a RowIterator.
	CallProcessTuple = "process_tuple"
	// CallProcessTable takes a *schema.Batch and a schema.Port, and returns a *Table.
	CallProcessTable = "process_table"
)

// Runtime is a foreign interpreter holding the user code of one operator instance.
// It's not safe for concurrent use.
type Runtime interface {
	Name() string
	// Open loads the user code. Missing interpreter pieces are reported as RuntimeUnavailable.
	Open(ctx context.Context) error
	Call(ctx context.Context, fn string, args ...interface{}) (interface{}, error)
	Close() error
}

// Row is a single record emitted by foreign code, not validated yet.
type Row struct {
	Names  []string
	Values []schema.Value
}

// RowIterator is the host side of a foreign generator. Next returns execution.ErrEndOfStream once exhausted.
type RowIterator interface {
	Next(ctx context.Context) (Row, error)
	Close() error
}

// Table is a table emitted by foreign code, not validated yet.
// It's either an arrow record, owned by the receiver, or named columns of values.
type Table struct {
	Record  arrow.Record
	Names   []string
	Columns [][]schema.Value
}

type Config struct {
	Spec OperatorSpec
	// Store is nil if large binaries aren't available to the operator.
	Store largebinary.Store
	// Root is the foreign runtime's installation root, where shared modules are looked up.
	Root string
}

// Factory creates an unopened runtime for a single operator instance.
type Factory func(cfg Config) (Runtime, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a runtime available under the given language name.
// Adapters call it from init, it panics on duplicate registrations.
func Register(language string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	language = strings.ToLower(language)
	if _, ok := registry[language]; ok {
		panic("runtime: Register called twice for language " + language)
	}
	registry[language] = factory
}

func Lookup(language string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[strings.ToLower(language)]
	if !ok {
		return nil, udferr.New(udferr.KindRuntimeUnavailable, "open", "no runtime available for language '%s', available: %s", language, strings.Join(languages(), ", "))
	}
	return factory, nil
}

func languages() []string {
	out := make([]string, 0, len(registry))
	for language := range registry {
		out = append(out, language)
	}
	sort.Strings(out)
	return out
}
