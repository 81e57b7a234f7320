package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/shhac/reflex/internal/app"
	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
	"github.com/shhac/reflex/internal/format"
	"github.com/shhac/reflex/internal/grpc"
)

// maxRecordedResponses caps the responses kept per history entry.
const maxRecordedResponses = 20

// openApp wires the application. Log records reach stderr only in verbose
// mode; failures are otherwise reported once, by the error printer.
func (c *cli) openApp(verbose bool) (*app.App, error) {
	opts := app.Options{Verbose: verbose, NoLogFile: c.noLogFile}
	if verbose {
		opts.Console = c.stderr
	}
	return app.New(app.ConfigFromEnv(), opts)
}

// target is a resolved endpoint with its transport and headers.
type target struct {
	endpoint  string
	transport domain.TransportConfig
	headers   []domain.Header
}

// session is an open client plus the positional arguments left after the
// endpoint was taken.
type session struct {
	app    *app.App
	client *grpc.Client
	target target
	args   []string
}

// connect resolves the target and creates a client. The endpoint comes
// from -server, else the first positional, else fallback. extra headers
// precede those given with -H. Headers are checked here so a bad one is
// reported before anything is dialed.
func (c *cli) connect(a *app.App, f *connectionFlags, pos []string, fallback string, extra []domain.Header, usage string) (*session, error) {
	var t target
	switch {
	case f.server != "":
		p, err := a.Servers().Server(f.server)
		if err != nil {
			return nil, &usageError{msg: err.Error(), usage: usage}
		}
		t = target{endpoint: p.Endpoint, transport: p.Transport(), headers: p.HeaderList()}
	case len(pos) > 0:
		t.endpoint, pos = pos[0], pos[1:]
	case fallback != "":
		t.endpoint = fallback
	default:
		return nil, wrongArgs(usage, "missing endpoint")
	}

	if f.plaintext {
		t.transport.Plaintext = true
	}
	if f.ca != "" {
		t.transport.CAFile = f.ca
	}
	if f.serverName != "" {
		t.transport.ServerName = f.serverName
	}
	if f.insecure {
		t.transport.InsecureSkipVerify = true
	}
	if f.connectTimeout > 0 {
		t.transport.ConnectTimeout = f.connectTimeout
	}
	if f.timeout > 0 {
		t.transport.RequestTimeout = f.timeout
	}

	flagHeaders, err := domain.ParseHeaders(f.headers)
	if err != nil {
		return nil, rerrors.New(rerrors.InvalidMetadata, "parse header", "", err)
	}
	t.headers = append(append(t.headers, extra...), flagHeaders...)
	if err := grpc.ValidateHeaders(t.headers); err != nil {
		return nil, err
	}

	client, err := a.NewClient(t.endpoint,
		grpc.WithTransport(t.transport),
		grpc.WithHeaders(t.headers...),
		grpc.WithVerbose(f.verbose),
		grpc.WithEmitDefaults(f.emitDefaults),
	)
	if err != nil {
		return nil, err
	}
	return &session{app: a, client: client, target: t, args: pos}, nil
}

func (s *session) close() {
	if err := s.client.Close(); err != nil {
		s.app.Logger().Debug("failed to close client", slog.Any("error", err))
	}
}

// withClient opens the app and a client for one command.
func (c *cli) withClient(ctx context.Context, f *connectionFlags, pos []string, usage string, fn func(context.Context, *session) error) error {
	a, err := c.openApp(f.verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := c.connect(a, f, pos, "", nil, usage)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func (c *cli) cmdList(ctx context.Context, args []string) error {
	var f connectionFlags
	fs := newFlagSet("list")
	f.register(fs)
	pos, err := parseArgs(fs, listUsage, args)
	if err != nil {
		return err
	}
	p, err := f.printer(c)
	if err != nil {
		return err
	}

	return c.withClient(ctx, &f, pos, listUsage, func(ctx context.Context, s *session) error {
		switch len(s.args) {
		case 0:
			names, err := s.client.ListServices(ctx)
			if err != nil {
				return err
			}
			return p.Services(names)
		case 1:
			methods, err := s.client.ListMethods(ctx, domain.ServiceName(s.args[0]))
			if err != nil {
				return err
			}
			return p.Methods(methods)
		default:
			return wrongArgs(listUsage, "unexpected arguments: %s", strings.Join(s.args[1:], " "))
		}
	})
}

func (c *cli) cmdDescribe(ctx context.Context, args []string) error {
	var f connectionFlags
	var proto bool
	fs := newFlagSet("describe")
	f.register(fs)
	fs.BoolVar(&proto, "proto", false, "Print .proto source")
	pos, err := parseArgs(fs, describeUsage, args)
	if err != nil {
		return err
	}
	p, err := f.printer(c)
	if err != nil {
		return err
	}

	return c.withClient(ctx, &f, pos, describeUsage, func(ctx context.Context, s *session) error {
		if len(s.args) != 1 {
			return wrongArgs(describeUsage, "expected exactly one symbol")
		}
		if proto {
			src, err := s.client.DescribeProto(ctx, s.args[0])
			if err != nil {
				return err
			}
			return p.Source(src)
		}
		sym, err := s.client.Describe(ctx, s.args[0])
		if err != nil {
			return err
		}
		return p.Symbol(sym)
	})
}

func (c *cli) cmdCall(ctx context.Context, args []string) error {
	var f connectionFlags
	var data, save string
	fs := newFlagSet("call")
	f.register(fs)
	fs.StringVar(&data, "d", "", "Request body")
	fs.StringVar(&data, "data", "", "Request body")
	fs.StringVar(&save, "save", "", "Save the request under a name")
	pos, err := parseArgs(fs, callUsage, args)
	if err != nil {
		return err
	}
	p, err := f.printer(c)
	if err != nil {
		return err
	}
	body, err := readBody(data, c.stdin)
	if err != nil {
		return err
	}

	return c.withClient(ctx, &f, pos, callUsage, func(ctx context.Context, s *session) error {
		if len(s.args) != 1 {
			return wrongArgs(callUsage, "expected exactly one method")
		}
		ref := s.args[0]
		if save != "" {
			err := s.app.Storage().SaveRequest(domain.SavedRequest{
				Name:      save,
				Endpoint:  s.target.endpoint,
				Plaintext: s.target.transport.Plaintext,
				Method:    ref,
				Body:      body,
				Headers:   slices.Clone(s.target.headers),
				SavedAt:   time.Now(),
			})
			if err != nil {
				return rerrors.ValidationError{Field: "save", Message: err.Error()}
			}
		}
		return c.invoke(ctx, s, p, ref, body)
	})
}

func (c *cli) cmdRun(ctx context.Context, args []string) error {
	var f connectionFlags
	var data string
	fs := newFlagSet("run")
	f.register(fs)
	fs.StringVar(&data, "d", "", "Request body")
	fs.StringVar(&data, "data", "", "Request body")
	pos, err := parseArgs(fs, runUsage, args)
	if err != nil {
		return err
	}
	if len(pos) == 0 || len(pos) > 2 {
		return wrongArgs(runUsage, "expected a saved request name and an optional endpoint")
	}
	p, err := f.printer(c)
	if err != nil {
		return err
	}

	a, err := c.openApp(f.verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := a.Storage().Request(pos[0])
	if err != nil {
		return rerrors.ValidationError{Field: "name", Message: err.Error()}
	}
	// The saved security mode belongs to the saved endpoint only.
	if req.Plaintext && f.server == "" && len(pos) == 1 {
		f.plaintext = true
	}
	body := req.Body
	if data != "" {
		if body, err = readBody(data, c.stdin); err != nil {
			return err
		}
	}

	s, err := c.connect(a, &f, pos[1:], req.Endpoint, req.Headers, runUsage)
	if err != nil {
		return err
	}
	defer s.close()
	if len(s.args) != 0 {
		return wrongArgs(runUsage, "unexpected arguments: %s", strings.Join(s.args, " "))
	}
	return c.invoke(ctx, s, p, req.Method, body)
}

// invoke calls ref and prints each response as it arrives. The call is
// recorded in history whatever the outcome.
func (c *cli) invoke(ctx context.Context, s *session, p *format.Printer, ref string, body json.RawMessage) (err error) {
	start := time.Now()
	entry := domain.HistoryEntry{
		Timestamp: start,
		Endpoint:  s.client.Endpoint().String(),
		Method:    ref,
		Request:   body,
		Headers:   slices.Clone(s.target.headers),
	}
	defer func() {
		entry.Duration = time.Since(start)
		entry.Status = "success"
		if err != nil {
			entry.Status = "error"
			entry.Error = err.Error()
		}
		s.app.RecordCall(entry, s.target.transport.Plaintext || !s.client.Endpoint().Secure)
	}()

	svc, name, err := grpc.ParseMethodRef(ref)
	if err != nil {
		return err
	}
	sym, err := s.client.Describe(ctx, string(svc)+"."+string(name))
	if err != nil {
		return err
	}
	if sym.Kind != domain.SymbolMethod {
		return rerrors.Newf(rerrors.SymbolNotFound, "resolve method", ref, "%s is not a method", ref)
	}
	shape := sym.Method.Shape()
	entry.Shape = shape.String()
	stream := shape.Receives() == domain.Many

	count := 0
	err = s.client.CallStream(ctx, ref, body, func(seq int, msg json.RawMessage) error {
		count++
		if len(entry.Responses) < maxRecordedResponses {
			entry.Responses = append(entry.Responses, msg)
		}
		return p.Response(seq+1, msg, stream)
	})
	if err != nil {
		return err
	}
	if stream {
		return p.StreamComplete(count)
	}
	return nil
}

func (c *cli) cmdSaved(args []string) error {
	var o outputFlags
	var del string
	fs := newFlagSet("saved")
	o.register(fs, format.Text.String())
	fs.StringVar(&del, "delete", "", "Delete a saved request")
	pos, err := parseArgs(fs, savedUsage, args)
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return wrongArgs(savedUsage, "unexpected arguments: %s", strings.Join(pos, " "))
	}
	p, err := o.printer(c)
	if err != nil {
		return err
	}

	a, err := c.openApp(o.verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	if del != "" {
		if err := a.Storage().DeleteRequest(del); err != nil {
			return rerrors.ValidationError{Field: "delete", Message: err.Error()}
		}
		fmt.Fprintf(c.stderr, "Deleted saved request %q\n", del)
		return nil
	}

	reqs, err := a.Storage().Requests()
	if err != nil {
		return err
	}
	return p.SavedRequests(reqs)
}

func (c *cli) cmdHistory(args []string) error {
	var o outputFlags
	var limit int
	var clearAll, endpoints bool
	fs := newFlagSet("history")
	o.register(fs, format.Text.String())
	fs.IntVar(&limit, "n", 20, "Maximum entries")
	fs.BoolVar(&clearAll, "clear", false, "Delete all history and recent endpoints")
	fs.BoolVar(&endpoints, "endpoints", false, "List recently used endpoints instead of calls")
	pos, err := parseArgs(fs, historyUsage, args)
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return wrongArgs(historyUsage, "unexpected arguments: %s", strings.Join(pos, " "))
	}
	p, err := o.printer(c)
	if err != nil {
		return err
	}

	a, err := c.openApp(o.verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	if clearAll {
		if err := a.Storage().ClearHistory(); err != nil {
			return err
		}
		fmt.Fprintln(c.stderr, "History cleared")
		return nil
	}

	if endpoints {
		recent, err := a.Storage().RecentEndpoints()
		if err != nil {
			return err
		}
		return p.RecentEndpoints(recent)
	}

	entries, err := a.Storage().History(limit)
	if err != nil {
		return err
	}
	return p.History(entries)
}

func (c *cli) cmdServers(args []string) error {
	var o outputFlags
	fs := newFlagSet("servers")
	o.register(fs, format.Text.String())
	pos, err := parseArgs(fs, serversUsage, args)
	if err != nil {
		return err
	}
	if len(pos) != 0 {
		return wrongArgs(serversUsage, "unexpected arguments: %s", strings.Join(pos, " "))
	}
	p, err := o.printer(c)
	if err != nil {
		return err
	}

	a, err := c.openApp(o.verbose)
	if err != nil {
		return err
	}
	defer a.Close()

	servers := a.Servers()
	rows := make([]format.ServerRow, 0, len(servers.Servers))
	for _, id := range servers.IDs() {
		prof := servers.Servers[id]
		rows = append(rows, format.ServerRow{
			ID:          id,
			Name:        prof.Name,
			Endpoint:    prof.Endpoint,
			Security:    prof.Transport().SecurityMode(),
			Description: prof.Description,
		})
	}
	return p.Servers(rows)
}

// readBody loads a request body given inline, as @file, or as @- for stdin.
// An empty body means the empty message.
func readBody(data string, stdin io.Reader) (json.RawMessage, error) {
	var raw []byte
	var err error
	switch {
	case data == "":
		return nil, nil
	case data == "@-":
		raw, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	case strings.HasPrefix(data, "@"):
		raw, err = os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", data[1:], err)
		}
	default:
		raw = []byte(data)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, rerrors.Newf(rerrors.DecodeFailure, "parse request", "",
			"invalid JSON in request: %s", raw)
	}
	return json.RawMessage(raw), nil
}
