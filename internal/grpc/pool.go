package grpc

import (
	"context"
	"fmt"

	rerrors "github.com/shhac/reflex/internal/errors"
	"github.com/shhac/reflex/internal/reflection"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Pool is a read-only registry holding the files that define a method's
// input and output messages, plus their imports.
type Pool struct {
	files *protoregistry.Files
	types *dynamicpb.Types
}

// FindMessage returns the layout of a fully-qualified message name.
func (p *Pool) FindMessage(name string) (protoreflect.MessageDescriptor, error) {
	d, err := p.files.FindDescriptorByName(protoreflect.FullName(name))
	if err != nil {
		return nil, rerrors.Newf(rerrors.DecodeFailure, "find message", name,
			"failed to get message descriptor for: %s", name)
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, rerrors.Newf(rerrors.DecodeFailure, "find message", name,
			"%s is a %T, not a message", name, d)
	}
	return md, nil
}

// FindMethod returns a method descriptor, if the pool holds its service.
func (p *Pool) FindMethod(service, method string) (protoreflect.MethodDescriptor, bool) {
	d, err := p.files.FindDescriptorByName(protoreflect.FullName(service))
	if err != nil {
		return nil, false
	}
	sd, ok := d.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, false
	}
	md := sd.Methods().ByName(protoreflect.Name(method))
	return md, md != nil
}

// FindFile returns a file registered in the pool.
func (p *Pool) FindFile(path string) (protoreflect.FileDescriptor, bool) {
	fd, err := p.files.FindFileByPath(path)
	return fd, err == nil
}

// Types resolves message and extension types within the pool, for
// google.protobuf.Any fields.
func (p *Pool) Types() *dynamicpb.Types {
	return p.types
}

// AssemblePool builds a Pool covering the files that define input and
// output. When both live in one file it is included once. Imports are
// fetched by filename, falling back to files linked into the binary.
func AssemblePool(ctx context.Context, src SchemaSource, input, output string) (*Pool, error) {
	roots := []string{input}
	if output != input {
		roots = append(roots, output)
	}

	b := &poolBuilder{
		ctx:      ctx,
		src:      src,
		files:    new(protoregistry.Files),
		visiting: make(map[string]bool),
	}
	for _, sym := range roots {
		fd, err := src.FileContainingSymbol(ctx, sym)
		if err != nil {
			return nil, err
		}
		if err := b.add(fd); err != nil {
			if rerrors.KindOf(err) == rerrors.TransportFailure {
				return nil, err
			}
			return nil, rerrors.New(rerrors.DecodeFailure, "assemble pool", sym, err)
		}
	}

	pool := &Pool{files: b.files, types: dynamicpb.NewTypes(b.files)}
	for _, sym := range roots {
		if _, err := pool.FindMessage(sym); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

// BuildFile links a single file and its imports. Used for rendering.
func BuildFile(ctx context.Context, src SchemaSource, fd *descriptorpb.FileDescriptorProto) (protoreflect.FileDescriptor, error) {
	b := &poolBuilder{
		ctx:      ctx,
		src:      src,
		files:    new(protoregistry.Files),
		visiting: make(map[string]bool),
	}
	if err := b.add(fd); err != nil {
		return nil, rerrors.New(rerrors.DecodeFailure, "build file", fd.GetName(), err)
	}
	return b.files.FindFileByPath(fd.GetName())
}

type poolBuilder struct {
	ctx      context.Context
	src      SchemaSource
	files    *protoregistry.Files
	visiting map[string]bool
}

// add registers fd after all of its imports, depth first.
func (b *poolBuilder) add(fd *descriptorpb.FileDescriptorProto) error {
	fd = reflection.ProcessDescriptors([]*descriptorpb.FileDescriptorProto{fd})[0]
	name := fd.GetName()
	if _, err := b.files.FindFileByPath(name); err == nil {
		return nil
	}
	if b.visiting[name] {
		return fmt.Errorf("import cycle through %s", name)
	}
	b.visiting[name] = true
	defer delete(b.visiting, name)

	for _, dep := range fd.GetDependency() {
		if _, err := b.files.FindFileByPath(dep); err == nil {
			continue
		}
		if err := b.addDependency(dep); err != nil {
			return err
		}
	}

	file, err := protodesc.NewFile(fd, b.files)
	if err != nil {
		return fmt.Errorf("invalid file descriptor %s: %w", name, err)
	}
	if err := b.files.RegisterFile(file); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return nil
}

func (b *poolBuilder) addDependency(path string) error {
	if local := reflection.WellKnownFile(path); local != nil {
		return b.add(local)
	}
	depFD, err := b.src.FileByFilename(b.ctx, path)
	if err == nil {
		return b.add(depFD)
	}
	if global, ok := reflection.GlobalFile(path); ok {
		return b.add(protodesc.ToFileDescriptorProto(global))
	}
	return fmt.Errorf("resolve import %s: %w", path, err)
}
