// Package wasmudf runs Table API operators compiled to WebAssembly.
//
// Batches cross as arrow IPC streams written into guest memory. The guest exports its memory,
// allocate(size i32) i32, and process_table(ptr i32, len i32, port i32) i64 or produce() i64
// for sources. Results are returned as a packed pointer and length of another IPC stream,
// a zero length meaning no table.
package wasmudf

import (
	"context"
	"fmt"
	"log"

	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/cube2222/udfbridge/marshal"
	"github.com/cube2222/udfbridge/runtime"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

const Language = "wasm"

func init() {
	runtime.Register(Language, New)
}

type Runtime struct {
	cfg runtime.Config
	mem memory.Allocator

	runtime  wazero.Runtime
	module   api.Module
	allocate api.Function
	entry    api.Function
}

func New(cfg runtime.Config) (runtime.Runtime, error) {
	if cfg.Spec.API != runtime.APITable {
		return nil, udferr.New(udferr.KindRuntimeUnavailable, "", "wasm operators only support the table api, got %s", cfg.Spec.API)
	}
	if len(cfg.Spec.Code) == 0 {
		return nil, udferr.New(udferr.KindRuntimeUnavailable, "", "operator '%s' has no module", cfg.Spec.Name)
	}
	return &Runtime{
		cfg: cfg,
		mem: memory.NewGoAllocator(),
	}, nil
}

func (r *Runtime) Name() string {
	return Language
}

func (r *Runtime) entryPoint() string {
	if r.cfg.Spec.Source {
		return runtime.CallProduce
	}
	return runtime.CallProcessTable
}

func (r *Runtime) Open(ctx context.Context) error {
	if err := checkExports(r.cfg.Spec.Code, exportAllocate, r.entryPoint()); err != nil {
		return err
	}

	r.runtime = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r.runtime); err != nil {
		return udferr.Wrap(udferr.KindRuntimeUnavailable, "", err, "couldn't instantiate wasi")
	}
	if _, err := r.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(r.hostLog).
		Export("log").
		Instantiate(ctx); err != nil {
		return udferr.Wrap(udferr.KindRuntimeUnavailable, "", err, "couldn't instantiate host module")
	}

	compiled, err := r.runtime.CompileModule(ctx, r.cfg.Spec.Code)
	if err != nil {
		return udferr.Wrap(udferr.KindRuntimeUnavailable, "", err, "couldn't compile module")
	}
	module, err := r.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().
		WithName(r.cfg.Spec.Name).
		WithStartFunctions("_initialize"))
	if err != nil {
		return udferr.Wrap(udferr.KindRuntimeUnavailable, "", err, "couldn't instantiate module")
	}
	r.module = module
	r.allocate = module.ExportedFunction(exportAllocate)
	r.entry = module.ExportedFunction(r.entryPoint())
	return nil
}

// hostLog lets the guest write to the operator log.
func (r *Runtime) hostLog(ctx context.Context, mod api.Module, ptr, length uint32) {
	msg, ok := mod.Memory().Read(ptr, length)
	if !ok {
		log.Printf("%s: log message out of guest memory range", r.cfg.Spec.Name)
		return
	}
	log.Printf("%s: %s", r.cfg.Spec.Name, string(msg))
}

func (r *Runtime) Call(ctx context.Context, fn string, args ...interface{}) (interface{}, error) {
	if fn != r.entryPoint() {
		return nil, udferr.New(udferr.KindForeignExecutionError, "", "module of operator '%s' has no %s entry point", r.cfg.Spec.Name, fn)
	}

	var params []uint64
	if fn == runtime.CallProcessTable {
		batch, port := args[0].(*schema.Batch), args[1].(schema.Port)
		data, err := marshal.EncodeRecord(batch.Record())
		if err != nil {
			return nil, err
		}
		ptr, err := r.write(ctx, data)
		if err != nil {
			return nil, err
		}
		params = []uint64{uint64(ptr), uint64(len(data)), uint64(port)}
	}

	results, err := r.entry.Call(ctx, params...)
	if err != nil {
		return nil, r.translate(ctx, err)
	}
	ptr, length := unpackPtrLen(results[0])
	if length == 0 {
		return nil, nil
	}
	data, ok := r.module.Memory().Read(ptr, length)
	if !ok {
		return nil, udferr.New(udferr.KindMarshalFailure, "", "%s returned a table out of guest memory range: %d bytes at %d", fn, length, ptr)
	}
	// The view is only valid until the next call into the guest.
	data = append([]byte(nil), data...)

	record, err := marshal.DecodeRecord(r.mem, data)
	if err != nil {
		return nil, err
	}
	return &runtime.Table{Record: record}, nil
}

// write copies data into memory allocated by the guest.
func (r *Runtime) write(ctx context.Context, data []byte) (uint32, error) {
	results, err := r.allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, r.translate(ctx, err)
	}
	ptr := uint32(results[0])
	if !r.module.Memory().Write(ptr, data) {
		return 0, udferr.New(udferr.KindMarshalFailure, "", "guest allocated %d bytes out of memory range at %d", len(data), ptr)
	}
	return ptr, nil
}

func (r *Runtime) translate(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return udferr.Foreign("", "Trap", err)
}

func (r *Runtime) Close() error {
	if r.runtime == nil {
		return nil
	}
	// Closing the runtime closes every module instantiated in it.
	if err := r.runtime.Close(context.Background()); err != nil {
		return fmt.Errorf("couldn't close wasm runtime: %w", err)
	}
	return nil
}
