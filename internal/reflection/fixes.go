package reflection

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ProcessDescriptors applies fixes for common server quirks before files
// are linked:
//   - well-known files are replaced by the versions linked into this binary
//   - reserved ranges with start > end are swapped
//
// The input slice is not modified; fixed files are copies.
func ProcessDescriptors(files []*descriptorpb.FileDescriptorProto) []*descriptorpb.FileDescriptorProto {
	out := make([]*descriptorpb.FileDescriptorProto, 0, len(files))
	for _, fd := range files {
		if local := WellKnownFile(fd.GetName()); local != nil {
			out = append(out, local)
			continue
		}
		out = append(out, fixReservedRanges(fd))
	}
	return out
}

func fixReservedRanges(fd *descriptorpb.FileDescriptorProto) *descriptorpb.FileDescriptorProto {
	if !hasReversedRanges(fd) {
		return fd
	}
	fixed := cloneFile(fd)
	for _, m := range fixed.GetMessageType() {
		fixMessageRanges(m)
	}
	for _, e := range fixed.GetEnumType() {
		fixEnumRanges(e)
	}
	return fixed
}

func hasReversedRanges(fd *descriptorpb.FileDescriptorProto) bool {
	var msgReversed func(m *descriptorpb.DescriptorProto) bool
	msgReversed = func(m *descriptorpb.DescriptorProto) bool {
		for _, r := range m.GetReservedRange() {
			if r.GetStart() > r.GetEnd() {
				return true
			}
		}
		for _, e := range m.GetEnumType() {
			if enumReversed(e) {
				return true
			}
		}
		for _, n := range m.GetNestedType() {
			if msgReversed(n) {
				return true
			}
		}
		return false
	}
	for _, m := range fd.GetMessageType() {
		if msgReversed(m) {
			return true
		}
	}
	for _, e := range fd.GetEnumType() {
		if enumReversed(e) {
			return true
		}
	}
	return false
}

func enumReversed(e *descriptorpb.EnumDescriptorProto) bool {
	for _, r := range e.GetReservedRange() {
		if r.GetStart() > r.GetEnd() {
			return true
		}
	}
	return false
}

func fixMessageRanges(m *descriptorpb.DescriptorProto) {
	for _, r := range m.GetReservedRange() {
		if r.GetStart() > r.GetEnd() {
			r.Start, r.End = r.End, r.Start
		}
	}
	for _, e := range m.GetEnumType() {
		fixEnumRanges(e)
	}
	for _, n := range m.GetNestedType() {
		fixMessageRanges(n)
	}
}

func fixEnumRanges(e *descriptorpb.EnumDescriptorProto) {
	for _, r := range e.GetReservedRange() {
		if r.GetStart() > r.GetEnd() {
			r.Start, r.End = r.End, r.Start
		}
	}
}

func cloneFile(fd *descriptorpb.FileDescriptorProto) *descriptorpb.FileDescriptorProto {
	return proto.Clone(fd).(*descriptorpb.FileDescriptorProto)
}
