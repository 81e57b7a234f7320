package main

import (
	"bytes"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/shhac/reflex/internal/format"
)

const rootUsage = `reflex: call gRPC servers using schemas fetched through server reflection

USAGE:
  reflex <command> [flags]

COMMANDS:
  list       List services, or the methods of one service
  describe   Describe a service or method
  call       Invoke a method with a JSON request
  run        Replay a saved request
  saved      List or delete saved requests
  history    Show recent calls
  servers    List configured server profiles
  help       Show help for any command

ENVIRONMENT:
  REFLEX_DEBUG           Debug logging to the log file
  REFLEX_STORAGE_PATH    History and saved requests (default: ~/.reflex)
  REFLEX_CONFIG          Server profile file (default: <storage>/config.yaml)
  REFLEX_OTLP_ENDPOINT   Export trace spans to an OTLP/gRPC collector
`

const connectionFlagsUsage = `CONNECTION FLAGS:
  -server <id>              Use a server profile instead of an endpoint argument
  -plaintext                Skip TLS
  -ca <file>                PEM CA bundle for TLS verification
  -server-name <name>       Override the TLS server name
  -insecure                 Skip TLS certificate verification
  -H "name: value"          Request header. Repeatable
  -connect-timeout <dur>    Connection timeout (default: 10s)
  -timeout <dur>            Request timeout (default: 10s)

OUTPUT FLAGS:
  -format json|text         Output format (default: json)
  -compact                  Single-line JSON
  -emit-defaults            Include fields with default values
  -v, -verbose              Verbose diagnostics on stderr
`

const listUsage = `list [endpoint] [service]
  Without a service, lists every service the server exposes.

` + connectionFlagsUsage

const describeUsage = `describe [endpoint] <symbol>
  -proto                    Print .proto source instead of a summary

` + connectionFlagsUsage

const callUsage = `call [endpoint] <method>
  -d, -data <json|@file|@->  Request body. Streaming requests take a JSON array
  -save <name>               Save the request for later replay

` + connectionFlagsUsage

const runUsage = `run <name> [endpoint]
  Replays a saved request. Flags override the saved endpoint and body.
  -d, -data <json|@file|@->  Replace the saved body

` + connectionFlagsUsage

const savedUsage = `saved
  -delete <name>            Delete a saved request
  -format json|text         Output format (default: text)
`

const historyUsage = `history
  -n <count>                Show at most count entries (default: 20)
  -endpoints                List recently used endpoints
  -clear                    Delete all history and recent endpoints
  -format json|text         Output format (default: text)
`

const serversUsage = `servers
  -format json|text         Output format (default: text)
`

var commandUsage = map[string]string{
	"list":     listUsage,
	"describe": describeUsage,
	"call":     callUsage,
	"run":      runUsage,
	"saved":    savedUsage,
	"history":  historyUsage,
	"servers":  serversUsage,
}

type stringListFlag []string

func (s *stringListFlag) String() string { return strings.Join(*s, ", ") }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// outputFlags select how results are printed.
type outputFlags struct {
	format  string
	compact bool
	verbose bool
}

func (o *outputFlags) register(fs *flag.FlagSet, defaultFormat string) {
	o.format = defaultFormat
	fs.StringVar(&o.format, "format", o.format, "Output format")
	fs.BoolVar(&o.compact, "compact", false, "Single-line JSON")
	fs.BoolVar(&o.verbose, "v", false, "Verbose output")
	fs.BoolVar(&o.verbose, "verbose", false, "Verbose output")
}

// connectionFlags are shared by every command that talks to a server.
type connectionFlags struct {
	outputFlags

	server         string
	plaintext      bool
	ca             string
	serverName     string
	insecure       bool
	headers        stringListFlag
	connectTimeout time.Duration
	timeout        time.Duration
	emitDefaults   bool
}

func (f *connectionFlags) register(fs *flag.FlagSet) {
	f.outputFlags.register(fs, format.JSON.String())
	fs.StringVar(&f.server, "server", "", "Server profile")
	fs.BoolVar(&f.plaintext, "plaintext", false, "Skip TLS")
	fs.StringVar(&f.ca, "ca", "", "CA certificate file")
	fs.StringVar(&f.serverName, "server-name", "", "TLS server name override")
	fs.BoolVar(&f.insecure, "insecure", false, "Skip TLS verification")
	fs.Var(&f.headers, "H", "Header 'name: value'")
	fs.Var(&f.headers, "header", "Header 'name: value'")
	fs.DurationVar(&f.connectTimeout, "connect-timeout", 0, "Connection timeout")
	fs.DurationVar(&f.timeout, "timeout", 0, "Request timeout")
	fs.BoolVar(&f.emitDefaults, "emit-defaults", false, "Emit default values")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer)) // silence automatic output
	return fs
}

// parseArgs parses flags that may appear before, between or after
// positional arguments, and returns the positionals in order. "--" ends
// flag parsing.
func parseArgs(fs *flag.FlagSet, usage string, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if err == flag.ErrHelp {
				return nil, &usageError{help: true, usage: usage}
			}
			return nil, &usageError{msg: err.Error(), usage: usage}
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		// Everything after a consumed "--" is positional.
		if i := len(args) - len(rest) - 1; i >= 0 && args[i] == "--" {
			return append(positional, rest...), nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

// printer builds the output printer selected by the flags.
func (o *outputFlags) printer(c *cli) (*format.Printer, error) {
	f, err := format.ParseFormat(o.format)
	if err != nil {
		return nil, &usageError{msg: err.Error()}
	}
	c.errPrinter = format.NewPrinter(c.stderr, f, o.compact, o.verbose)
	return format.NewPrinter(c.stdout, f, o.compact, o.verbose), nil
}

func wrongArgs(usage, msg string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(msg, args...), usage: usage}
}
