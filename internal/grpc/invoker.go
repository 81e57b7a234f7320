package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// errNoResponse cancels a streaming call whose server has not started
// responding within the response timeout.
var errNoResponse = errors.New("no response from server")

// MessageHandler receives each decoded response in arrival order. seq
// starts at 0. Returning an error aborts the call.
type MessageHandler func(seq int, msg json.RawMessage) error

// Invoker drives resolved methods over a connection without generated
// stubs. Every streaming shape goes through one driver parametrized by how
// many messages are sent and how many are received.
type Invoker struct {
	codec   *DynamicCodec
	limits  MemoryLimits
	verbose bool
	logger  *slog.Logger
}

// NewInvoker creates an invoker.
func NewInvoker(codec *DynamicCodec, limits MemoryLimits, verbose bool, logger *slog.Logger) *Invoker {
	return &Invoker{
		codec:   codec,
		limits:  limits,
		verbose: verbose,
		logger:  logger,
	}
}

// Invoke encodes body with the method's input layout, sends it according to
// the method's shape and hands every decoded response to onMessage.
//
// Bodies for single-send shapes must be one JSON object. Multi-send shapes
// accept an array of objects, sent in array order, or a single object.
// Multi-receive shapes drain the stream until the server ends it; each
// received message counts against the memory limits.
//
// A positive responseTimeout bounds only the wait for the server's
// response headers. Once they arrive the stream may run for as long as
// ctx allows.
func (i *Invoker) Invoke(
	ctx context.Context,
	cc grpc.ClientConnInterface,
	method domain.MethodDescriptor,
	pool *Pool,
	md metadata.MD,
	body json.RawMessage,
	responseTimeout time.Duration,
	onMessage MessageHandler,
) (err error) {
	fullName := method.FullName()
	shape := method.Shape()

	inDesc, err := pool.FindMessage(method.InputType)
	if err != nil {
		return err
	}
	outDesc, err := pool.FindMessage(method.OutputType)
	if err != nil {
		return err
	}

	requests, err := splitBody(body, shape.Sends())
	if err != nil {
		return err
	}
	frames := make([][]byte, 0, len(requests))
	for _, req := range requests {
		frame, err := i.codec.Encode(req, inDesc, pool.Types())
		if err != nil {
			i.logger.Error("failed to encode request",
				slog.String("method", fullName),
				slog.Any("error", err),
			)
			return err
		}
		frames = append(frames, frame)
	}

	i.logger.Debug("invoking RPC",
		slog.String("method", fullName),
		slog.String("shape", shape.String()),
		slog.Int("request_count", len(frames)),
	)
	start := time.Now()

	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stopTimer := func() {}
	if responseTimeout > 0 {
		timer := time.AfterFunc(responseTimeout, func() { cancel(errNoResponse) })
		stopTimer = func() { timer.Stop() }
	}
	defer stopTimer()
	defer func() {
		if err != nil && errors.Is(context.Cause(ctx), errNoResponse) {
			err = rerrors.FromRPC("call", fullName, status.Error(codes.DeadlineExceeded,
				fmt.Sprintf("%v within %s", errNoResponse, responseTimeout)))
		}
	}()

	desc := &grpc.StreamDesc{
		StreamName:    string(method.Name),
		ClientStreams: shape.Sends() == domain.Many,
		ServerStreams: shape.Receives() == domain.Many,
	}
	path := "/" + string(method.Service) + "/" + string(method.Name)

	stream, err := cc.NewStream(ctx, desc, path, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		i.logger.Error("failed to start stream",
			slog.String("method", fullName),
			slog.Any("error", err),
		)
		return rerrors.FromRPC("call", fullName, err)
	}

	for n, frame := range frames {
		if err := stream.SendMsg(frame); err != nil {
			// io.EOF means the server already finished; its status
			// arrives on the receive side.
			if err == io.EOF {
				break
			}
			i.logger.Error("stream send error",
				slog.String("method", fullName),
				slog.Int("sent", n),
				slog.Any("error", err),
			)
			return rerrors.FromRPC("call", fullName, err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return rerrors.FromRPC("call", fullName, err)
	}
	// Header returns once the server starts its response or ends the
	// call; a failure surfaces again from RecvMsg with the real status.
	if _, err := stream.Header(); err == nil {
		stopTimer()
	}

	guard := newMemoryGuard(i.limits, i.verbose, i.logger, fullName)
	count := 0
	for {
		var frame []byte
		err := stream.RecvMsg(&frame)
		if err == io.EOF {
			break
		}
		if err != nil {
			i.logger.Error("stream receive error",
				slog.String("method", fullName),
				slog.Int("message_count", count),
				slog.Any("error", err),
			)
			return rerrors.FromRPC("call", fullName, err)
		}

		if err := guard.add(len(frame)); err != nil {
			return err
		}

		msg, err := i.codec.Decode(frame, outDesc, pool.Types())
		if err != nil {
			return err
		}
		if err := onMessage(count, msg); err != nil {
			return err
		}
		count++

		// Non-streaming responses are complete after one message; the
		// transport has already consumed the trailers.
		if !desc.ServerStreams {
			break
		}
	}

	i.logger.Debug("RPC completed",
		slog.String("method", fullName),
		slog.String("shape", shape.String()),
		slog.Int("message_count", count),
		slog.Int64("bytes_received", guard.received()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
