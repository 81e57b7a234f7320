package domain

import (
	"fmt"
	"strings"
)

// Header is one caller-supplied metadata pair. Order is preserved.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseHeader parses "name: value". Only the first colon separates.
func ParseHeader(s string) (Header, error) {
	key, value, ok := strings.Cut(s, ":")
	if !ok {
		return Header{}, fmt.Errorf("invalid header format: %q (expected 'name: value')", s)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Header{}, fmt.Errorf("invalid header format: %q (empty name)", s)
	}
	return Header{Key: key, Value: strings.TrimSpace(value)}, nil
}

// ParseHeaders parses every entry, failing on the first bad one.
func ParseHeaders(raw []string) ([]Header, error) {
	out := make([]Header, 0, len(raw))
	for _, r := range raw {
		h, err := ParseHeader(r)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
