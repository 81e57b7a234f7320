package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CallError is a server status mapped to a human-readable category. Code and
// Message hold the original status for programmatic inspection.
type CallError struct {
	Code     codes.Code
	Message  string
	Category string
	Details  string // rendered errdetails, empty when the status carries none
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s (code: %s, message: %s)", e.Category, e.Code, e.Message)
}

// GRPCStatus lets status.FromError recover the original status.
func (e *CallError) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Message)
}

// ClassifyStatus maps a wire status to its message category.
func ClassifyStatus(st *status.Status) *CallError {
	if st == nil {
		return nil
	}
	ce := &CallError{
		Code:    st.Code(),
		Message: st.Message(),
		Details: formatStatusDetails(st),
	}
	switch st.Code() {
	case codes.Unavailable:
		ce.Category = "Server unavailable. Please check the server is running and accessible."
	case codes.DeadlineExceeded:
		ce.Category = "Request timed out. The server may be overloaded."
	case codes.ResourceExhausted:
		ce.Category = "Server resource exhausted. Try reducing the request size or rate."
	case codes.PermissionDenied:
		ce.Category = "Permission denied. Check authentication credentials."
	case codes.Unauthenticated:
		ce.Category = "Authentication required. Provide valid credentials."
	case codes.NotFound:
		ce.Category = "Service or method not found. Check the method name and that the server exposes it."
	default:
		ce.Category = fmt.Sprintf("gRPC error (%s): %s", st.Code(), st.Message())
	}
	return ce
}

// FromRPC converts an error returned by a stream operation into an *Error.
// Status errors become CallFailed, or TransportFailure for Unavailable and
// DeadlineExceeded. Context errors become TransportFailure.
func FromRPC(op, subject string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(TransportFailure, op, subject, ClassifyStatus(status.New(codes.DeadlineExceeded, err.Error())))
	}
	st, ok := status.FromError(err)
	if !ok {
		return New(CallFailed, op, subject, err)
	}
	kind := CallFailed
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		kind = TransportFailure
	}
	return New(kind, op, subject, ClassifyStatus(st))
}

// formatStatusDetails extracts and formats rich error details from a gRPC status.
func formatStatusDetails(st *status.Status) string {
	details := st.Details()
	if len(details) == 0 {
		return ""
	}

	var sections []string

	for _, detail := range details {
		switch d := detail.(type) {
		case *errdetails.BadRequest:
			if fvs := d.GetFieldViolations(); len(fvs) > 0 {
				var lines []string
				lines = append(lines, "Field Violations:")
				for _, fv := range fvs {
					line := fmt.Sprintf("  %s: %s", fv.GetField(), fv.GetDescription())
					if r := fv.GetReason(); r != "" {
						line += fmt.Sprintf(" (reason: %s)", r)
					}
					lines = append(lines, line)
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.DebugInfo:
			var lines []string
			lines = append(lines, "Debug Info:")
			if d.GetDetail() != "" {
				lines = append(lines, "  "+d.GetDetail())
			}
			for _, entry := range d.GetStackEntries() {
				lines = append(lines, "  "+entry)
			}
			sections = append(sections, strings.Join(lines, "\n"))

		case *errdetails.ErrorInfo:
			var lines []string
			lines = append(lines, fmt.Sprintf("Error Info: %s", d.GetReason()))
			if d.GetDomain() != "" {
				lines = append(lines, fmt.Sprintf("  Domain: %s", d.GetDomain()))
			}
			for k, v := range d.GetMetadata() {
				lines = append(lines, fmt.Sprintf("  %s: %s", k, v))
			}
			sections = append(sections, strings.Join(lines, "\n"))

		case *errdetails.RetryInfo:
			if delay := d.GetRetryDelay(); delay != nil {
				sections = append(sections, fmt.Sprintf("Retry after: %v", delay.AsDuration()))
			}

		case *errdetails.PreconditionFailure:
			if vs := d.GetViolations(); len(vs) > 0 {
				var lines []string
				lines = append(lines, "Precondition Failures:")
				for _, v := range vs {
					lines = append(lines, fmt.Sprintf("  [%s] %s: %s", v.GetType(), v.GetSubject(), v.GetDescription()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.QuotaFailure:
			if vs := d.GetViolations(); len(vs) > 0 {
				var lines []string
				lines = append(lines, "Quota Failures:")
				for _, v := range vs {
					lines = append(lines, fmt.Sprintf("  %s: %s", v.GetSubject(), v.GetDescription()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.RequestInfo:
			sections = append(sections, fmt.Sprintf("Request ID: %s", d.GetRequestId()))

		case *errdetails.ResourceInfo:
			sections = append(sections, fmt.Sprintf("Resource: %s/%s: %s", d.GetResourceType(), d.GetResourceName(), d.GetDescription()))

		case *errdetails.Help:
			if links := d.GetLinks(); len(links) > 0 {
				var lines []string
				lines = append(lines, "Help:")
				for _, link := range links {
					lines = append(lines, fmt.Sprintf("  %s: %s", link.GetDescription(), link.GetUrl()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		default:
			sections = append(sections, fmt.Sprintf("Detail: %v", detail))
		}
	}

	return strings.Join(sections, "\n\n")
}
