package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeOf(t *testing.T) {
	tests := []struct {
		client, server bool
		want           Shape
		sends, recvs   Cardinality
	}{
		{false, false, Unary, One, One},
		{false, true, ServerStream, One, Many},
		{true, false, ClientStream, Many, One},
		{true, true, BiDirectional, Many, Many},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			m := MethodDescriptor{ClientStreaming: tt.client, ServerStreaming: tt.server}
			assert.Equal(t, tt.want, m.Shape())
			assert.Equal(t, tt.want, ShapeOf(tt.client, tt.server))
			assert.Equal(t, tt.sends, tt.want.Sends())
			assert.Equal(t, tt.recvs, tt.want.Receives())
		})
	}
}

func TestNames(t *testing.T) {
	svc, err := NewServiceName("test.Service")
	require.NoError(t, err)
	assert.Equal(t, "test.Service", svc.String())

	m, err := NewMethodName("GetUser")
	require.NoError(t, err)
	assert.Equal(t, "GetUser", m.String())

	_, err = NewServiceName("")
	assert.Error(t, err)
	_, err = NewMethodName("")
	assert.Error(t, err)
}

func TestServiceDescriptorClone(t *testing.T) {
	orig := &ServiceDescriptor{
		Name:    "pkg.Svc",
		Methods: []MethodDescriptor{{Name: "A", Service: "pkg.Svc"}},
	}
	c := orig.Clone()
	c.Methods[0].Name = "B"

	m, ok := orig.Method("A")
	require.True(t, ok)
	assert.Equal(t, "pkg.Svc.A", m.FullName())

	_, ok = orig.Method("B")
	assert.False(t, ok)
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader("authorization: Bearer a:b")
	require.NoError(t, err)
	assert.Equal(t, Header{Key: "authorization", Value: "Bearer a:b"}, h)

	h, err = ParseHeader("x-empty:")
	require.NoError(t, err)
	assert.Equal(t, "", h.Value)

	_, err = ParseHeader("no-colon")
	assert.Error(t, err)
	_, err = ParseHeader(": value")
	assert.Error(t, err)

	hs, err := ParseHeaders([]string{"a: 1", "b: 2"})
	require.NoError(t, err)
	assert.Equal(t, []Header{{"a", "1"}, {"b", "2"}}, hs)
}
