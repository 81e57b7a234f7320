package domain

import "slices"

// Cardinality is how many messages flow in one direction of a call.
type Cardinality int

const (
	One Cardinality = iota
	Many
)

// Shape is the streaming shape of an RPC.
type Shape int

const (
	Unary Shape = iota
	ServerStream
	ClientStream
	BiDirectional
)

// ShapeOf derives the shape from the two streaming flags.
func ShapeOf(clientStreams, serverStreams bool) Shape {
	switch {
	case clientStreams && serverStreams:
		return BiDirectional
	case clientStreams:
		return ClientStream
	case serverStreams:
		return ServerStream
	default:
		return Unary
	}
}

func (s Shape) String() string {
	switch s {
	case Unary:
		return "unary"
	case ServerStream:
		return "server_streaming"
	case ClientStream:
		return "client_streaming"
	case BiDirectional:
		return "bidirectional"
	default:
		return "unknown"
	}
}

// Sends reports how many request messages the client sends.
func (s Shape) Sends() Cardinality {
	if s == ClientStream || s == BiDirectional {
		return Many
	}
	return One
}

// Receives reports how many response messages the client reads.
func (s Shape) Receives() Cardinality {
	if s == ServerStream || s == BiDirectional {
		return Many
	}
	return One
}

// MethodDescriptor represents a gRPC method discovered via reflection
type MethodDescriptor struct {
	Name            MethodName  `json:"name"`
	Service         ServiceName `json:"service"`
	InputType       string      `json:"input_type"` // Fully-qualified, no leading dot
	OutputType      string      `json:"output_type"`
	ClientStreaming bool        `json:"client_streaming"`
	ServerStreaming bool        `json:"server_streaming"`
	Description     string      `json:"description,omitempty"`
}

// Shape returns the streaming shape (Unary, ServerStream, ClientStream, or BiDirectional)
func (m MethodDescriptor) Shape() Shape {
	return ShapeOf(m.ClientStreaming, m.ServerStreaming)
}

// FullName returns "service.Method".
func (m MethodDescriptor) FullName() string {
	return string(m.Service) + "." + string(m.Name)
}

// ServiceDescriptor represents a gRPC service and its methods in declaration order
type ServiceDescriptor struct {
	Name        ServiceName        `json:"name"`
	Methods     []MethodDescriptor `json:"methods"`
	Description string             `json:"description,omitempty"`
}

// Method finds a method by name.
func (s *ServiceDescriptor) Method(name MethodName) (MethodDescriptor, bool) {
	for _, m := range s.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodDescriptor{}, false
}

// Clone returns a deep copy.
func (s *ServiceDescriptor) Clone() *ServiceDescriptor {
	if s == nil {
		return nil
	}
	c := *s
	c.Methods = slices.Clone(s.Methods)
	return &c
}

// SymbolKind tags the variant held by a Symbol.
type SymbolKind int

const (
	SymbolService SymbolKind = iota
	SymbolMethod
	SymbolMessage // never produced; message lookup by bare name is unsupported
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolService:
		return "service"
	case SymbolMethod:
		return "method"
	case SymbolMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Symbol is the result of resolving a free-form name. Exactly one of
// Service or Method is set, matching Kind.
type Symbol struct {
	Kind    SymbolKind
	Service *ServiceDescriptor
	Method  *MethodDescriptor
}

// Name returns the fully-qualified name of the resolved symbol.
func (s Symbol) Name() string {
	switch s.Kind {
	case SymbolService:
		if s.Service != nil {
			return string(s.Service.Name)
		}
	case SymbolMethod:
		if s.Method != nil {
			return s.Method.FullName()
		}
	}
	return ""
}
