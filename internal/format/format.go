// Package format renders client results for the terminal, as JSON or as
// human-readable text.
package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shhac/reflex/internal/domain"
	rerrors "github.com/shhac/reflex/internal/errors"
)

// Format selects the output encoding.
type Format int

const (
	JSON Format = iota
	Text
)

// ParseFormat accepts "json" or "text", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return JSON, nil
	case "text":
		return Text, nil
	default:
		return JSON, rerrors.ValidationError{Field: "format", Message: fmt.Sprintf("unknown output format %q (want json or text)", s)}
	}
}

func (f Format) String() string {
	if f == Text {
		return "text"
	}
	return "json"
}

// Printer writes results to w. Compact selects single-line JSON in both
// formats. Verbose adds error details and recovery hints.
type Printer struct {
	w       io.Writer
	format  Format
	compact bool
	verbose bool
}

// NewPrinter creates a Printer.
func NewPrinter(w io.Writer, f Format, compact, verbose bool) *Printer {
	return &Printer{w: w, format: f, compact: compact, verbose: verbose}
}

// Format reports the printer's output encoding.
func (p *Printer) Format() Format {
	return p.format
}

// methodJSON is the JSON shape of a method in list and describe output.
type methodJSON struct {
	Name            string `json:"name"`
	Service         string `json:"service,omitempty"`
	InputType       string `json:"input_type"`
	OutputType      string `json:"output_type"`
	StreamingType   string `json:"streaming_type,omitempty"`
	ClientStreaming bool   `json:"client_streaming"`
	ServerStreaming bool   `json:"server_streaming"`
	Description     string `json:"description,omitempty"`
	FullName        string `json:"full_name,omitempty"`
}

func newMethodJSON(m domain.MethodDescriptor) methodJSON {
	return methodJSON{
		Name:            string(m.Name),
		Service:         string(m.Service),
		InputType:       m.InputType,
		OutputType:      m.OutputType,
		StreamingType:   m.Shape().String(),
		ClientStreaming: m.ClientStreaming,
		ServerStreaming: m.ServerStreaming,
		Description:     m.Description,
	}
}

// Services prints one service name per line, or one {"name":...} object
// per line.
func (p *Printer) Services(names []domain.ServiceName) error {
	for _, name := range names {
		var err error
		if p.format == Text {
			_, err = fmt.Fprintln(p.w, name)
		} else {
			err = p.writeValue(struct {
				Name string `json:"name"`
			}{string(name)})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Methods prints a service's methods, one per line in text mode with a
// streaming indicator.
func (p *Printer) Methods(methods []domain.MethodDescriptor) error {
	for _, m := range methods {
		var err error
		if p.format == Text {
			_, err = fmt.Fprintf(p.w, "%s%s\n", m.FullName(), listIndicator(m.Shape()))
		} else {
			err = p.writeValue(newMethodJSON(m))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func listIndicator(s domain.Shape) string {
	switch s {
	case domain.ServerStream:
		return " (server streaming)"
	case domain.ClientStream:
		return " (client streaming)"
	case domain.BiDirectional:
		return " (bidirectional)"
	default:
		return ""
	}
}

// Symbol prints a resolved service or method.
func (p *Printer) Symbol(sym domain.Symbol) error {
	switch sym.Kind {
	case domain.SymbolService:
		return p.Service(sym.Service)
	case domain.SymbolMethod:
		return p.Method(*sym.Method)
	default:
		return fmt.Errorf("cannot print symbol of kind %s", sym.Kind)
	}
}

// Service prints a service as a .proto-like block or as JSON.
func (p *Printer) Service(sd *domain.ServiceDescriptor) error {
	if p.format == JSON {
		methods := make([]methodJSON, len(sd.Methods))
		for i, m := range sd.Methods {
			methods[i] = newMethodJSON(m)
			methods[i].Service = ""
			methods[i].StreamingType = ""
		}
		return p.writeValue(struct {
			Name        string       `json:"name"`
			Description string       `json:"description,omitempty"`
			Methods     []methodJSON `json:"methods"`
		}{string(sd.Name), sd.Description, methods})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "service %s {\n", sd.Name)
	if sd.Description != "" {
		fmt.Fprintf(&b, "  // %s\n", sd.Description)
	}
	for _, m := range sd.Methods {
		fmt.Fprintf(&b, "  %s\n", Signature(m))
		if m.Description != "" {
			fmt.Fprintf(&b, "    // %s\n", m.Description)
		}
	}
	b.WriteString("}\n")
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Method prints a single method with its signature.
func (p *Printer) Method(m domain.MethodDescriptor) error {
	if p.format == JSON {
		v := newMethodJSON(m)
		v.FullName = m.FullName()
		return p.writeValue(v)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Method: %s (%s)\n", m.FullName(), describeShape(m.Shape()))
	fmt.Fprintf(&b, "  Service: %s\n", m.Service)
	fmt.Fprintf(&b, "  Input type: %s\n", m.InputType)
	fmt.Fprintf(&b, "  Output type: %s\n", m.OutputType)
	if m.Description != "" {
		fmt.Fprintf(&b, "  Description: %s\n", m.Description)
	}
	fmt.Fprintf(&b, "  Signature: %s\n", Signature(m))
	_, err := io.WriteString(p.w, b.String())
	return err
}

func describeShape(s domain.Shape) string {
	switch s {
	case domain.ServerStream:
		return "server streaming"
	case domain.ClientStream:
		return "client streaming"
	case domain.BiDirectional:
		return "bidirectional streaming"
	default:
		return "unary"
	}
}

// Signature renders "rpc M(stream In) returns (stream Out);".
func Signature(m domain.MethodDescriptor) string {
	in, out := "", ""
	if m.ClientStreaming {
		in = "stream "
	}
	if m.ServerStreaming {
		out = "stream "
	}
	return fmt.Sprintf("rpc %s(%s%s) returns (%s%s);", m.Name, in, m.InputType, out, m.OutputType)
}

// Source prints .proto source verbatim.
func (p *Printer) Source(src string) error {
	if !strings.HasSuffix(src, "\n") {
		src += "\n"
	}
	_, err := io.WriteString(p.w, src)
	return err
}

// Response prints one response message. seq is 1-based; streams in text
// mode are prefixed with "[seq]", single responses with a "Response:"
// header and an indented field listing.
func (p *Printer) Response(seq int, msg json.RawMessage, stream bool) error {
	if p.format == JSON {
		return p.writeRaw(msg)
	}
	if stream {
		var buf bytes.Buffer
		if err := p.encodeRaw(&buf, msg); err != nil {
			return err
		}
		_, err := fmt.Fprintf(p.w, "[%d] %s\n", seq, buf.Bytes())
		return err
	}
	if _, err := fmt.Fprintln(p.w, "Response:"); err != nil {
		return err
	}
	return writeFields(p.w, msg)
}

// StreamComplete prints the end-of-stream summary.
func (p *Printer) StreamComplete(total int) error {
	if p.format == Text {
		_, err := fmt.Fprintf(p.w, "Stream completed. Total responses: %d\n", total)
		return err
	}
	return p.writeValue(struct {
		StreamComplete bool `json:"stream_complete"`
		TotalResponses int  `json:"total_responses"`
	}{true, total})
}

// Error prints a classified failure. Server statuses carry their numeric
// code; local failures report -1.
func (p *Printer) Error(rep *rerrors.Report) error {
	message := rep.Message
	var ce *rerrors.CallError
	if errors.As(rep.Err, &ce) {
		message = ce.Message
	}

	if p.format == JSON {
		type body struct {
			Code     int      `json:"code"`
			Title    string   `json:"title,omitempty"`
			Message  string   `json:"message"`
			Details  string   `json:"details,omitempty"`
			Recovery []string `json:"recovery,omitempty"`
		}
		return p.writeValue(struct {
			Error body `json:"error"`
		}{body{rep.Code, rep.Title, message, rep.Details, rep.Recovery}})
	}

	var b strings.Builder
	if rep.Code >= 0 {
		fmt.Fprintf(&b, "Error %d: %s\n", rep.Code, message)
	} else {
		fmt.Fprintf(&b, "Error: %s: %s\n", rep.Title, message)
	}
	if p.verbose {
		if rep.Details != "" && rep.Details != message {
			fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(rep.Details, "\n", "\n  "))
		}
		for _, hint := range rep.Recovery {
			fmt.Fprintf(&b, "  - %s\n", hint)
		}
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

// writeValue encodes v as one JSON document followed by a newline.
func (p *Printer) writeValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	return p.writeRaw(data)
}

func (p *Printer) writeRaw(data []byte) error {
	var buf bytes.Buffer
	if err := p.encodeRaw(&buf, data); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := p.w.Write(buf.Bytes())
	return err
}

func (p *Printer) encodeRaw(buf *bytes.Buffer, data []byte) error {
	var err error
	if p.compact {
		err = json.Compact(buf, data)
	} else {
		err = json.Indent(buf, data, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	return nil
}
