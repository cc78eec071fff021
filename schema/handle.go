package schema

import (
	"strings"

	"github.com/cube2222/udfbridge/udferr"
)

const HandleScheme = "s3://"

// Handle references a blob stored in the external object store.
// It owns no payload, which is only ever moved through large object streams.
// Size is -1 until the handle's write stream has been committed.
type Handle struct {
	URI  string
	Size int64
}

func NewHandle(bucket, key string) Handle {
	return Handle{
		URI:  HandleScheme + bucket + "/" + key,
		Size: -1,
	}
}

// ParseHandle validates a handle URI of the form s3://bucket/key.
func ParseHandle(uri string) (Handle, error) {
	if _, _, err := splitHandleURI(uri); err != nil {
		return Handle{}, err
	}
	return Handle{URI: uri, Size: -1}, nil
}

func (h Handle) Bucket() string {
	bucket, _, _ := splitHandleURI(h.URI)
	return bucket
}

func (h Handle) Key() string {
	_, key, _ := splitHandleURI(h.URI)
	return key
}

func (h Handle) Committed() bool {
	return h.Size >= 0
}

func splitHandleURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, HandleScheme) {
		return "", "", udferr.New(udferr.KindSchemaViolation, "", "large binary URI must start with '%s', got: %s", HandleScheme, uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, HandleScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", udferr.New(udferr.KindSchemaViolation, "", "invalid large binary URI format: %s", uri)
	}
	return parts[0], parts[1], nil
}

// LooksLikeHandleURI is used when inferring schemas of foreign output which carries handles as plain strings.
func LooksLikeHandleURI(s string) bool {
	_, _, err := splitHandleURI(s)
	return err == nil
}
