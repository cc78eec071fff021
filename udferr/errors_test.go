package udferr

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	err := Storage(StorageHandleNotCommitted, "open_read", nil, "object %s doesn't exist", "s3://b/k")

	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, ErrHandleNotCommitted))
	assert.False(t, errors.Is(err, ErrStreamClosed))
	assert.False(t, errors.Is(err, ErrSchemaViolation))

	wrapped := fmt.Errorf("couldn't read blob: %w", err)
	assert.True(t, errors.Is(wrapped, ErrHandleNotCommitted))
	assert.Equal(t, KindStorageError, KindOf(wrapped))
	assert.Equal(t, StorageHandleNotCommitted, StorageKindOf(wrapped))
}

func TestErrorMessage(t *testing.T) {
	err := Foreign("process_tuple#17", "ValueError", errors.New("division by zero"))
	assert.Equal(t, "process_tuple#17: ForeignExecutionError [ValueError]: division by zero", err.Error())

	err = Storage(StorageNetwork, "", errors.New("connection refused"), "couldn't upload")
	assert.Equal(t, "StorageError(Network): couldn't upload: connection refused", err.Error())
}

func TestWithOp(t *testing.T) {
	tagged := New(KindSchemaViolation, "", "missing field 'x'")
	attributed := WithOp(tagged, "process_tuple#3")

	assert.Equal(t, "process_tuple#3: SchemaViolation: missing field 'x'", attributed.Error())
	assert.Equal(t, "", tagged.Op, "the original error is left untouched")
	assert.Equal(t, attributed, WithOp(attributed, "process_tuple#3"))

	inner := Storage(StorageHandleNotCommitted, "open_read", nil, "handle s3://b/k isn't committed")
	nested := WithOp(inner, "process_tuple#1")
	assert.Equal(t, "process_tuple#1: open_read: StorageError(HandleNotCommitted): handle s3://b/k isn't committed", nested.Error())
	assert.True(t, errors.Is(nested, ErrHandleNotCommitted))
	assert.Equal(t, nested, WithOp(nested, "process_tuple#1"))
	assert.Equal(t, "open_read", inner.Op, "the inner error is left untouched")

	untagged := WithOp(errors.New("boom"), "produce#1")
	assert.Equal(t, KindForeignExecutionError, KindOf(untagged))

	assert.Nil(t, WithOp(nil, "produce#1"))
}

func TestAnnotate(t *testing.T) {
	err := Annotate(New(KindSchemaViolation, "", "null value for non-nullable field 'x'"), "row %d", 2)
	assert.Equal(t, "SchemaViolation: row 2: null value for non-nullable field 'x'", err.Error())
	assert.Equal(t, KindSchemaViolation, KindOf(err))

	plain := Annotate(errors.New("boom"), "row %d", 2)
	assert.Equal(t, "row 2: boom", plain.Error())
	assert.Equal(t, KindUnknown, KindOf(plain))
}
