package grpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// rawCodec passes message payloads through the transport as opaque bytes.
// All structural typing happens in DynamicCodec before and after.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	default:
		return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
	// The transport may reuse data once we return.
	*b = append((*b)[:0], data...)
	return nil
}

// Name reports "proto" so the content-type stays application/grpc+proto.
func (rawCodec) Name() string { return "proto" }

// DynamicCodec converts between JSON and wire bytes using descriptors
// resolved at runtime.
type DynamicCodec struct {
	unmarshal protojson.UnmarshalOptions
	marshal   protojson.MarshalOptions
}

// NewDynamicCodec creates a codec. With emitDefaults, decoded JSON includes
// fields holding their zero value.
func NewDynamicCodec(emitDefaults bool) *DynamicCodec {
	return &DynamicCodec{
		unmarshal: protojson.UnmarshalOptions{AllowPartial: true},
		marshal:   protojson.MarshalOptions{EmitUnpopulated: emitDefaults},
	}
}

// Encode parses a JSON object as a message of type md and returns its wire
// encoding.
func (c *DynamicCodec) Encode(body json.RawMessage, md protoreflect.MessageDescriptor, types *dynamicpb.Types) ([]byte, error) {
	msg := dynamicpb.NewMessage(md)
	opts := c.unmarshal
	opts.Resolver = types
	if err := opts.Unmarshal(body, msg); err != nil {
		return nil, rerrors.New(rerrors.DecodeFailure, "encode", string(md.FullName()),
			fmt.Errorf("failed to parse request JSON: %w", err))
	}
	b, err := proto.MarshalOptions{AllowPartial: true}.Marshal(msg)
	if err != nil {
		return nil, rerrors.New(rerrors.DecodeFailure, "encode", string(md.FullName()), err)
	}
	return b, nil
}

// Decode parses wire bytes as a message of type md and returns compact JSON.
func (c *DynamicCodec) Decode(data []byte, md protoreflect.MessageDescriptor, types *dynamicpb.Types) (json.RawMessage, error) {
	msg := dynamicpb.NewMessage(md)
	if err := (proto.UnmarshalOptions{AllowPartial: true, Resolver: types}).Unmarshal(data, msg); err != nil {
		return nil, rerrors.New(rerrors.DecodeFailure, "decode", string(md.FullName()),
			fmt.Errorf("failed to decode response message: %w", err))
	}
	opts := c.marshal
	opts.Resolver = types
	out, err := opts.Marshal(msg)
	if err != nil {
		return nil, rerrors.New(rerrors.DecodeFailure, "decode", string(md.FullName()), err)
	}
	// protojson output spacing is deliberately unstable; normalize it.
	var buf bytes.Buffer
	if err := json.Compact(&buf, out); err != nil {
		return nil, rerrors.New(rerrors.DecodeFailure, "decode", string(md.FullName()), err)
	}
	return buf.Bytes(), nil
}

// splitBody turns a request body into the messages to send. A single-send
// shape takes one JSON object. A multi-send shape takes an array of objects
// or one object treated as a one-element array. An empty body is "{}".
func splitBody(body json.RawMessage, sends domain.Cardinality) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}

	switch trimmed[0] {
	case '{':
		return []json.RawMessage{trimmed}, nil
	case '[':
		if sends == domain.One {
			return nil, invalidRequestData("expected a JSON object, got an array")
		}
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, invalidRequestData(err.Error())
		}
		for i, e := range elems {
			e = bytes.TrimSpace(e)
			if len(e) == 0 || e[0] != '{' {
				return nil, invalidRequestData(fmt.Sprintf("element %d is not a JSON object", i))
			}
		}
		return elems, nil
	default:
		if sends == domain.One {
			return nil, invalidRequestData("expected a JSON object")
		}
		return nil, invalidRequestData("expected a JSON array of objects or a single object")
	}
}

func invalidRequestData(msg string) error {
	return rerrors.Newf(rerrors.DecodeFailure, "parse request", "", "invalid request data: %s", msg)
}
