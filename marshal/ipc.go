package marshal

import (
	"bytes"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/ipc"
	"github.com/apache/arrow/go/v13/arrow/memory"

	"github.com/cube2222/udfbridge/udferr"
)

// EncodeRecord serializes a record as an arrow IPC stream, which is how records cross
// into runtimes that don't share the host's memory.
func EncodeRecord(record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(record.Schema()))
	if err := w.Write(record); err != nil {
		return nil, udferr.Wrap(udferr.KindMarshalFailure, "", err, "couldn't write record")
	}
	if err := w.Close(); err != nil {
		return nil, udferr.Wrap(udferr.KindMarshalFailure, "", err, "couldn't close record writer")
	}
	return buf.Bytes(), nil
}

// DecodeRecord reads a single record from an arrow IPC stream.
func DecodeRecord(mem memory.Allocator, data []byte) (arrow.Record, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(allocator(mem)))
	if err != nil {
		return nil, udferr.Wrap(udferr.KindMarshalFailure, "", err, "couldn't open record stream")
	}
	defer r.Release()

	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, udferr.Wrap(udferr.KindMarshalFailure, "", err, "couldn't read record")
		}
		return nil, udferr.New(udferr.KindMarshalFailure, "", "record stream is empty")
	}
	record := r.Record()
	record.Retain()

	if r.Next() {
		record.Release()
		return nil, udferr.New(udferr.KindMarshalFailure, "", "record stream contains more than one record")
	}
	if err := r.Err(); err != nil {
		record.Release()
		return nil, udferr.Wrap(udferr.KindMarshalFailure, "", err, "couldn't read record stream")
	}
	return record, nil
}
