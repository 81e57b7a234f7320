package reflection

import (
	"fmt"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoprint"
	"google.golang.org/protobuf/reflect/protoreflect"
)

var printer = &protoprint.Printer{
	Indent:  "  ",
	Compact: true,
}

// PrintFile renders a whole file as .proto source.
func PrintFile(fd protoreflect.FileDescriptor) (string, error) {
	wrapped, err := desc.WrapFile(fd)
	if err != nil {
		return "", fmt.Errorf("wrap file %s: %w", fd.Path(), err)
	}
	return printer.PrintProtoToString(wrapped)
}

// PrintDescriptor renders a single element (service, method, message or
// enum) as .proto source.
func PrintDescriptor(d protoreflect.Descriptor) (string, error) {
	wrapped, err := desc.WrapDescriptor(d)
	if err != nil {
		return "", fmt.Errorf("wrap %s: %w", d.FullName(), err)
	}
	return printer.PrintProtoToString(wrapped)
}
