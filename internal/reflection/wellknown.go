package reflection

import (
	"strings"

	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	// Link in the well-known types so they resolve even when a server
	// omits them from its reflection responses.
	_ "google.golang.org/protobuf/types/known/anypb"
	_ "google.golang.org/protobuf/types/known/apipb"
	_ "google.golang.org/protobuf/types/known/durationpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/fieldmaskpb"
	_ "google.golang.org/protobuf/types/known/sourcecontextpb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/timestamppb"
	_ "google.golang.org/protobuf/types/known/typepb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

const wellKnownPrefix = "google/protobuf/"

// IsWellKnown reports whether path names a google/protobuf file.
func IsWellKnown(path string) bool {
	return strings.HasPrefix(path, wellKnownPrefix)
}

// GlobalFile returns a file linked into this binary, if any.
func GlobalFile(path string) (protoreflect.FileDescriptor, bool) {
	fd, err := protoregistry.GlobalFiles.FindFileByPath(path)
	if err != nil {
		return nil, false
	}
	return fd, true
}

// WellKnownFile returns the linked-in descriptor of a well-known file, or
// nil when path is not one.
func WellKnownFile(path string) *descriptorpb.FileDescriptorProto {
	if !IsWellKnown(path) {
		return nil
	}
	fd, ok := GlobalFile(path)
	if !ok {
		return nil
	}
	return protodesc.ToFileDescriptorProto(fd)
}
