package starlarkudf

import (
	"fmt"
	"io"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/cube2222/udfbridge/largebinary"
	"github.com/cube2222/udfbridge/schema"
	"github.com/cube2222/udfbridge/udferr"
)

// handleValue is a large binary handle as seen by user code. Only the handle crosses, never the payload.
type handleValue struct {
	handle schema.Handle
}

var (
	_ starlark.HasAttrs   = &handleValue{}
	_ starlark.Comparable = &handleValue{}
)

func (h *handleValue) String() string        { return h.handle.URI }
func (h *handleValue) Type() string          { return "largebinary" }
func (h *handleValue) Freeze()               {}
func (h *handleValue) Truth() starlark.Bool  { return true }
func (h *handleValue) Hash() (uint32, error) { return starlark.String(h.handle.URI).Hash() }

func (h *handleValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "uri":
		return starlark.String(h.handle.URI), nil
	}
	return nil, nil
}

func (h *handleValue) AttrNames() []string {
	return []string{"uri"}
}

func (h *handleValue) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other := y.(*handleValue)
	switch op {
	case syntax.EQL:
		return h.handle.URI == other.handle.URI, nil
	case syntax.NEQ:
		return h.handle.URI != other.handle.URI, nil
	}
	return false, fmt.Errorf("%s %s %s not implemented", h.Type(), op, y.Type())
}

func (r *Runtime) storeOrErr() (largebinary.Store, error) {
	if r.cfg.Store == nil {
		return nil, udferr.Storage(udferr.StorageUnavailable, "", nil, "large binary storage isn't configured for this operator")
	}
	return r.cfg.Store, nil
}

func handleOf(fnname string, value starlark.Value) (schema.Handle, error) {
	switch value := value.(type) {
	case *handleValue:
		return value.handle, nil
	case starlark.String:
		return schema.ParseHandle(string(value))
	}
	return schema.Handle{}, fmt.Errorf("%s: want largebinary or str, got %s", fnname, value.Type())
}

// largebinary(uri=None) returns the handle of uri, or creates a new one.
func (r *Runtime) largeBinary(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var uri starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "uri?", &uri); err != nil {
		return nil, err
	}
	if uri != starlark.None {
		h, err := handleOf(b.Name(), uri)
		if err != nil {
			return nil, err
		}
		return &handleValue{handle: h}, nil
	}

	store, err := r.storeOrErr()
	if err != nil {
		return nil, err
	}
	h, err := store.Create(r.ctx)
	if err != nil {
		return nil, err
	}
	return &handleValue{handle: h}, nil
}

func (r *Runtime) openRead(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &value); err != nil {
		return nil, err
	}
	h, err := handleOf(b.Name(), value)
	if err != nil {
		return nil, err
	}
	store, err := r.storeOrErr()
	if err != nil {
		return nil, err
	}
	stream, err := store.OpenRead(r.ctx, h)
	if err != nil {
		return nil, err
	}
	return &readStreamValue{stream: stream}, nil
}

func (r *Runtime) openWrite(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &value); err != nil {
		return nil, err
	}
	h, err := handleOf(b.Name(), value)
	if err != nil {
		return nil, err
	}
	store, err := r.storeOrErr()
	if err != nil {
		return nil, err
	}
	stream, err := store.OpenWrite(r.ctx, h)
	if err != nil {
		return nil, err
	}
	return &writeStreamValue{stream: stream}, nil
}

type readStreamValue struct {
	stream *largebinary.ReadStream
}

var readStreamMethods = map[string]*starlark.Builtin{
	"read":  starlark.NewBuiltin("read", readStreamRead),
	"close": starlark.NewBuiltin("close", readStreamClose),
}

func (s *readStreamValue) String() string {
	return fmt.Sprintf("<read stream %s>", s.stream.Handle().URI)
}
func (s *readStreamValue) Type() string          { return "read_stream" }
func (s *readStreamValue) Freeze()               {}
func (s *readStreamValue) Truth() starlark.Bool  { return true }
func (s *readStreamValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", s.Type()) }

func (s *readStreamValue) Attr(name string) (starlark.Value, error) {
	if name == "handle" {
		return &handleValue{handle: s.stream.Handle()}, nil
	}
	if method, ok := readStreamMethods[name]; ok {
		return method.BindReceiver(s), nil
	}
	return nil, nil
}

func (s *readStreamValue) AttrNames() []string {
	return []string{"close", "handle", "read"}
}

// read(n=-1) returns up to n bytes, all remaining bytes if n is negative, and b"" at the end of the payload.
func readStreamRead(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := -1
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &n); err != nil {
		return nil, err
	}
	stream := b.Receiver().(*readStreamValue).stream
	if n < 0 {
		data, err := stream.ReadAll()
		if err != nil {
			return nil, err
		}
		return starlark.Bytes(data), nil
	}
	data, err := stream.ReadChunk(n)
	if err == io.EOF {
		return starlark.Bytes(""), nil
	} else if err != nil {
		return nil, err
	}
	return starlark.Bytes(data), nil
}

func readStreamClose(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if err := b.Receiver().(*readStreamValue).stream.Close(); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

type writeStreamValue struct {
	stream *largebinary.WriteStream
}

var writeStreamMethods = map[string]*starlark.Builtin{
	"write": starlark.NewBuiltin("write", writeStreamWrite),
	"close": starlark.NewBuiltin("close", writeStreamClose),
	"abort": starlark.NewBuiltin("abort", writeStreamAbort),
}

func (s *writeStreamValue) String() string {
	return fmt.Sprintf("<write stream %s>", s.stream.Handle().URI)
}
func (s *writeStreamValue) Type() string          { return "write_stream" }
func (s *writeStreamValue) Freeze()               {}
func (s *writeStreamValue) Truth() starlark.Bool  { return true }
func (s *writeStreamValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", s.Type()) }

func (s *writeStreamValue) Attr(name string) (starlark.Value, error) {
	if name == "handle" {
		return &handleValue{handle: s.stream.Handle()}, nil
	}
	if method, ok := writeStreamMethods[name]; ok {
		return method.BindReceiver(s), nil
	}
	return nil, nil
}

func (s *writeStreamValue) AttrNames() []string {
	return []string{"abort", "close", "handle", "write"}
}

// write(data) appends bytes or a string to the payload and returns the number of bytes written.
func writeStreamWrite(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &data); err != nil {
		return nil, err
	}
	var payload []byte
	switch data := data.(type) {
	case starlark.Bytes:
		payload = []byte(data)
	case starlark.String:
		payload = []byte(data)
	default:
		return nil, fmt.Errorf("%s: want bytes or str, got %s", b.Name(), data.Type())
	}
	n, err := b.Receiver().(*writeStreamValue).stream.Write(payload)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt(n), nil
}

// close() commits the payload, after which the handle is readable.
func writeStreamClose(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if err := b.Receiver().(*writeStreamValue).stream.Close(); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func writeStreamAbort(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if err := b.Receiver().(*writeStreamValue).stream.Abort(); err != nil {
		return nil, err
	}
	return starlark.None, nil
}
