package errors

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Severity indicates how an error should be presented.
type Severity int

const (
	SeverityInfo    Severity = iota // User should know, not blocking
	SeverityWarning                 // Degraded functionality
	SeverityError                   // Operation failed, can retry
	SeverityFatal                   // Process must exit
)

// Report wraps an error with presentation metadata for the command line.
type Report struct {
	Err      error
	Severity Severity
	Title    string   // Short user-facing title
	Message  string   // Detailed user-facing message
	Recovery []string // Suggested actions
	Details  string   // Technical details
	Code     int      // gRPC status code when the failure came from the server, else -1
}

func (r Report) Error() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Title
}

// Unwrap returns the underlying error.
func (r Report) Unwrap() error {
	return r.Err
}

// Classify converts an error into a Report with appropriate severity, title,
// message, and recovery suggestions.
func Classify(err error) *Report {
	if err == nil {
		return nil
	}

	var rep *Report
	if errors.As(err, &rep) {
		return rep
	}

	var ce *CallError
	if errors.As(err, &ce) {
		return classifyCall(err, ce)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Report{
			Err:      err,
			Severity: SeverityError,
			Title:    "Request Timeout",
			Message:  "The server took too long to respond.",
			Recovery: []string{"Try again", "Increase the timeout with --timeout"},
			Code:     -1,
		}

	case errors.Is(err, context.Canceled):
		return &Report{
			Err:      err,
			Severity: SeverityInfo,
			Title:    "Request Cancelled",
			Message:  "The operation was cancelled.",
			Code:     -1,
		}
	}

	report := &Report{Err: err, Severity: SeverityError, Details: err.Error(), Code: -1}
	switch KindOf(err) {
	case InvalidReference:
		report.Title = "Invalid Method Reference"
		report.Message = "The method must be given as 'package.Service/Method' or 'package.Service.Method'."
		report.Recovery = []string{"Run 'list' to see available services"}
	case SymbolNotFound:
		report.Title = "Not Found"
		report.Message = err.Error()
		report.Recovery = []string{"Check the spelling", "Run 'list' to see available services"}
	case TransportFailure:
		report.Title = "Connection Failed"
		report.Message = "Unable to connect to the server."
		report.Recovery = []string{
			"Check that the server is running",
			"Verify the address and port",
			"Use --plaintext for servers without TLS",
		}
	case ReflectionProtocolError:
		report.Severity = SeverityWarning
		report.Title = "Reflection Error"
		report.Message = "The server's reflection service returned an error."
		report.Recovery = []string{"Check that the server registers the reflection service"}
	case DecodeFailure:
		report.Title = "Invalid Data"
		report.Message = "The request body or a server descriptor does not match the expected message layout."
		report.Recovery = []string{"Check field names and types against 'describe' output"}
	case ResourceExhausted:
		report.Title = "Stream Too Large"
		report.Message = err.Error()
		report.Recovery = []string{"Narrow the request so the server sends less data"}
	case InvalidMetadata:
		report.Title = "Invalid Header"
		report.Message = "A header key or value contains characters not allowed in gRPC metadata."
		report.Recovery = []string{"Header keys may contain only lowercase letters, digits, '-', '_' and '.'"}
	default:
		var validationErr ValidationError
		if errors.As(err, &validationErr) {
			report.Title = "Validation Error"
			report.Message = validationErr.Message
			report.Recovery = []string{"Correct the value and try again"}
			break
		}
		report.Title = "Unexpected Error"
		report.Message = "An unexpected error occurred."
		report.Recovery = []string{"Try again"}
	}
	return report
}

func classifyCall(err error, ce *CallError) *Report {
	details := fmt.Sprintf("gRPC: %s - %s", ce.Code, ce.Message)
	if ce.Details != "" {
		details += "\n\n" + ce.Details
	}
	report := &Report{
		Err:      err,
		Severity: SeverityError,
		Title:    "Request Failed",
		Message:  ce.Category,
		Details:  details,
		Code:     int(ce.Code),
	}

	switch ce.Code {
	case codes.Unavailable:
		report.Title = "Cannot Connect to Server"
		report.Recovery = []string{"Check that the server is running", "Verify the address and port"}
	case codes.DeadlineExceeded:
		report.Title = "Request Timeout"
		report.Recovery = []string{"Try again", "Increase the timeout with --timeout"}
	case codes.Unauthenticated:
		report.Title = "Authentication Required"
		report.Recovery = []string{"Add credentials with -H 'authorization: ...'"}
	case codes.PermissionDenied:
		report.Title = "Access Denied"
		report.Recovery = []string{"Contact administrator for access"}
	case codes.NotFound:
		report.Title = "Not Found"
		report.Recovery = []string{"Check the request parameters"}
	case codes.ResourceExhausted:
		report.Title = "Resource Exhausted"
		report.Recovery = []string{"Try again later", "Reduce request size"}
	case codes.InvalidArgument:
		report.Title = "Invalid Request"
		report.Recovery = []string{"Check field values", "See details for specifics"}
	case codes.Unimplemented:
		report.Severity = SeverityWarning
		report.Title = "Method Not Available"
		report.Recovery = []string{"Check method name", "Verify server version"}
	case codes.DataLoss:
		report.Severity = SeverityFatal
		report.Title = "Data Loss"
		report.Recovery = []string{"Contact server administrator immediately"}
	case codes.Canceled:
		report.Severity = SeverityInfo
		report.Title = "Request Cancelled"
	default:
		report.Recovery = []string{"Try again"}
	}
	return report
}
