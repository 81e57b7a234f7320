package grpc

import (
	"strings"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"google.golang.org/grpc/metadata"
)

// headerMetadata validates headers and converts them to outgoing metadata.
// Keys are lowercased. Pairs keep their order; repeated keys accumulate.
func headerMetadata(headers []domain.Header) (metadata.MD, error) {
	md := metadata.MD{}
	for _, h := range headers {
		key := strings.ToLower(h.Key)
		if !validHeaderKey(key) {
			return nil, rerrors.Newf(rerrors.InvalidMetadata, "prepare headers", "",
				"invalid header key: %q", h.Key)
		}
		if !strings.HasSuffix(key, "-bin") && !validHeaderValue(h.Value) {
			return nil, rerrors.Newf(rerrors.InvalidMetadata, "prepare headers", "",
				"invalid header value for key %s: contains non-printable characters", key)
		}
		md.Append(key, h.Value)
	}
	return md, nil
}

// ValidateHeaders reports the first header that cannot be sent as gRPC
// metadata, as an InvalidMetadata error. It does no I/O.
func ValidateHeaders(headers []domain.Header) error {
	_, err := headerMetadata(headers)
	return err
}

// validHeaderKey accepts the gRPC metadata key alphabet: 0-9 a-z - _ .
func validHeaderKey(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// validHeaderValue accepts printable ASCII including space.
func validHeaderValue(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < 0x20 || v[i] > 0x7E {
			return false
		}
	}
	return true
}
