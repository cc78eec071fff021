// Package starlarkudf runs user-defined operators written in Starlark.
//
// User code defines process_tuple(tuple, port), process_table(table, port) or produce(),
// depending on the operator's API. Tuples cross as fresh dicts, tables as dicts of column lists.
// A tuple entry point may return a dict, None, a list of dicts, or a generator: a function
// returning the next dict on each call, and EXHAUSTED once done.
package starlarkudf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/cube2222/udfbridge/runtime"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

const Language = "starlark"

func init() {
	runtime.Register(Language, New)
}

var programCache = func() *ristretto.Cache {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 26, // maximum cost of cache (64MB).
		BufferItems: 64,
	})
	if err != nil {
		panic(fmt.Errorf("couldn't initialize program cache: %w", err))
	}
	return cache
}()

var predeclaredNames = map[string]bool{
	"EXHAUSTED":   true,
	"json":        true,
	"largebinary": true,
	"math":        true,
	"open_read":   true,
	"open_write":  true,
	"struct":      true,
	"time":        true,
}

// compile returns the compiled program of the given source, reusing it across operator instances.
// Programs are immutable, each instance initializes its own globals.
func compile(filename string, code []byte) (*starlark.Program, error) {
	sum := sha256.Sum256(code)
	key := filename + ":" + hex.EncodeToString(sum[:])
	if cached, ok := programCache.Get(key); ok {
		return cached.(*starlark.Program), nil
	}
	_, program, err := starlark.SourceProgram(filename, code, func(name string) bool {
		return predeclaredNames[name]
	})
	if err != nil {
		return nil, err
	}
	programCache.Set(key, program, int64(len(code)))
	return program, nil
}

type Runtime struct {
	cfg     runtime.Config
	thread  *starlark.Thread
	globals starlark.StringDict
	loaded  map[string]*loadEntry

	// ctx is the context of the call in progress, used by built-ins.
	ctx    context.Context
	tables *results
}

type loadEntry struct {
	globals starlark.StringDict
	err     error
}

func New(cfg runtime.Config) (runtime.Runtime, error) {
	if len(cfg.Spec.Code) == 0 {
		return nil, udferr.New(udferr.KindRuntimeUnavailable, "", "operator '%s' has no code", cfg.Spec.Name)
	}
	return &Runtime{
		cfg:    cfg,
		loaded: make(map[string]*loadEntry),
		ctx:    context.Background(),
	}, nil
}

func (r *Runtime) Name() string {
	return Language
}

func (r *Runtime) filename() string {
	if r.cfg.Spec.CodeName != "" {
		return r.cfg.Spec.CodeName
	}
	return r.cfg.Spec.Name + ".star"
}

func (r *Runtime) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"EXHAUSTED":   exhausted,
		"json":        json.Module,
		"largebinary": starlark.NewBuiltin("largebinary", r.largeBinary),
		"math":        math.Module,
		"open_read":   starlark.NewBuiltin("open_read", r.openRead),
		"open_write":  starlark.NewBuiltin("open_write", r.openWrite),
		"struct":      starlark.NewBuiltin("struct", starlarkstruct.Make),
		"time":        starlarktime.Module,
	}
}

func (r *Runtime) Open(ctx context.Context) error {
	program, err := compile(r.filename(), r.cfg.Spec.Code)
	if err != nil {
		return udferr.Foreign("", "SyntaxError", err)
	}

	r.thread = &starlark.Thread{
		Name: r.cfg.Spec.Name,
		Print: func(thread *starlark.Thread, msg string) {
			log.Printf("%s: %s", thread.Name, msg)
		},
		Load: r.load,
	}
	stop := r.enter(ctx)
	globals, err := program.Init(r.thread, r.predeclared())
	stop()
	if err != nil {
		return r.translate(ctx, err)
	}
	r.globals = globals

	entryPoint := r.entryPoint()
	fn, ok := r.globals[entryPoint]
	if !ok {
		return udferr.New(udferr.KindForeignExecutionError, "", "%s doesn't define %s", r.filename(), entryPoint)
	}
	if _, ok := fn.(starlark.Callable); !ok {
		return udferr.New(udferr.KindForeignExecutionError, "", "%s in %s is a %s, not a function", entryPoint, r.filename(), fn.Type())
	}
	return nil
}

func (r *Runtime) entryPoint() string {
	switch {
	case r.cfg.Spec.Source:
		return runtime.CallProduce
	case r.cfg.Spec.API == runtime.APITable:
		return runtime.CallProcessTable
	default:
		return runtime.CallProcessTuple
	}
}

// load resolves load statements against the runtime root. Each module is executed once per operator instance.
func (r *Runtime) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	if entry, ok := r.loaded[module]; ok {
		if entry == nil {
			return nil, fmt.Errorf("cycle in load graph at %s", module)
		}
		return entry.globals, entry.err
	}
	if r.cfg.Root == "" {
		return nil, udferr.New(udferr.KindRuntimeUnavailable, "", "can't load %s: no runtime root configured", module)
	}
	path := filepath.Join(r.cfg.Root, filepath.FromSlash(module))
	if !strings.HasPrefix(path, filepath.Clean(r.cfg.Root)+string(filepath.Separator)) {
		return nil, fmt.Errorf("module %s is outside of the runtime root", module)
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, udferr.Wrap(udferr.KindRuntimeUnavailable, "", err, "couldn't read module %s", module)
	}

	r.loaded[module] = nil
	program, err := compile(path, code)
	var globals starlark.StringDict
	if err == nil {
		loadThread := &starlark.Thread{
			Name:  "load " + module,
			Print: thread.Print,
			Load:  r.load,
		}
		globals, err = program.Init(loadThread, r.predeclared())
	}
	r.loaded[module] = &loadEntry{globals: globals, err: err}
	return globals, err
}

// enter prepares the thread for a call under ctx, the returned function must be called once it's done.
func (r *Runtime) enter(ctx context.Context) (stop func()) {
	r.ctx = ctx
	r.thread.Uncancel()
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			r.thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// call invokes a starlark function with the given context.
func (r *Runtime) call(ctx context.Context, fn starlark.Value, args ...starlark.Value) (starlark.Value, error) {
	stop := r.enter(ctx)
	defer stop()
	out, err := starlark.Call(r.thread, fn, args, nil)
	if err != nil {
		return nil, r.translate(ctx, err)
	}
	return out, nil
}

func (r *Runtime) translate(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if tagged, ok := udferr.As(err); ok {
		return tagged
	}
	evalErr, ok := err.(*starlark.EvalError)
	if !ok {
		return udferr.Foreign("", "Error", err)
	}
	category := "Error"
	message := evalErr.Msg
	if strings.HasPrefix(message, "fail: ") {
		category = "Fail"
		message = strings.TrimPrefix(message, "fail: ")
	}
	log.Printf("%s failed: %s", r.cfg.Spec.Name, evalErr.Backtrace())
	return udferr.Foreign("", category, errors.New(message))
}

func (r *Runtime) Call(ctx context.Context, fn string, args ...interface{}) (interface{}, error) {
	entryPoint := r.globals[fn]
	if entryPoint == nil {
		return nil, udferr.New(udferr.KindForeignExecutionError, "", "%s isn't defined", fn)
	}

	switch fn {
	case runtime.CallProcessTuple:
		tuple, port := args[0].(schema.Tuple), args[1].(schema.Port)
		out, err := r.call(ctx, entryPoint, tupleToDict(tuple), starlark.MakeInt(int(port)))
		if err != nil {
			return nil, err
		}
		return r.rows(fn, out)

	case runtime.CallProcessTable:
		batch, port := args[0].(*schema.Batch), args[1].(schema.Port)
		table, err := batchToDict(batch)
		if err != nil {
			return nil, err
		}
		out, err := r.call(ctx, entryPoint, table, starlark.MakeInt(int(port)))
		if err != nil {
			return nil, err
		}
		if out == starlark.None {
			return nil, nil
		}
		return tableFromValue(out)

	case runtime.CallProduce:
		if r.cfg.Spec.API == runtime.APITable {
			return r.produceTable(ctx, entryPoint)
		}
		out, err := r.call(ctx, entryPoint)
		if err != nil {
			return nil, err
		}
		return r.rows(fn, out)
	}
	return nil, udferr.New(udferr.KindForeignExecutionError, "", "unknown entry point %s", fn)
}

// produceTable calls produce once, and then pulls tables out of what it returned on each following call.
// It returns nil once exhausted.
func (r *Runtime) produceTable(ctx context.Context, entryPoint starlark.Value) (interface{}, error) {
	if r.tables == nil {
		out, err := r.call(ctx, entryPoint)
		if err != nil {
			return nil, err
		}
		if r.tables, err = r.results(runtime.CallProduce, out); err != nil {
			return nil, err
		}
	}
	value, ok, err := r.tables.next(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return tableFromValue(value)
}

func tableFromValue(value starlark.Value) (*runtime.Table, error) {
	names, columns, err := columnsFromDict(value)
	if err != nil {
		return nil, err
	}
	return &runtime.Table{
		Names:   names,
		Columns: columns,
	}, nil
}

func (r *Runtime) Close() error {
	if r.tables != nil {
		r.tables.close()
	}
	r.globals = nil
	r.loaded = nil
	return nil
}
