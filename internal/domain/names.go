package domain

import "fmt"

// ServiceName is a fully-qualified gRPC service name, e.g. "pkg.Greeter".
type ServiceName string

// NewServiceName rejects empty names.
func NewServiceName(s string) (ServiceName, error) {
	if s == "" {
		return "", fmt.Errorf("service name must not be empty")
	}
	return ServiceName(s), nil
}

func (n ServiceName) String() string { return string(n) }

// MethodName is a method name local to its service, e.g. "SayHello".
type MethodName string

// NewMethodName rejects empty names.
func NewMethodName(s string) (MethodName, error) {
	if s == "" {
		return "", fmt.Errorf("method name must not be empty")
	}
	return MethodName(s), nil
}

func (n MethodName) String() string { return string(n) }
