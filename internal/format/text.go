package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shhac/reflex/internal/domain"
)

// writeFields renders a JSON document as an indented "key: value" listing,
// keeping the field order of the input.
func writeFields(w io.Writer, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var b strings.Builder
	if err := walkValue(dec, &b, 0, ""); err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// walkValue writes the next value read from dec. label is the member key or
// "[i]" element index, empty for the top-level value.
func walkValue(dec *json.Decoder, b *strings.Builder, depth int, label string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	indent := strings.Repeat("  ", depth)

	delim, ok := tok.(json.Delim)
	if !ok {
		if label != "" {
			fmt.Fprintf(b, "%s%s: %s\n", indent, label, scalar(tok))
		} else {
			fmt.Fprintf(b, "%s%s\n", indent, scalar(tok))
		}
		return nil
	}

	if label != "" {
		fmt.Fprintf(b, "%s%s:\n", indent, label)
		depth++
	}
	switch delim {
	case '{':
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := keyTok.(string)
			if err := walkValue(dec, b, depth, key); err != nil {
				return err
			}
		}
	case '[':
		for i := 0; dec.More(); i++ {
			if err := walkValue(dec, b, depth, "["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
	}
	// closing delimiter
	_, err = dec.Token()
	return err
}

func scalar(tok json.Token) string {
	switch v := tok.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return "null"
	default:
		return fmt.Sprint(v)
	}
}

// History prints recorded calls, most recent first.
func (p *Printer) History(entries []domain.HistoryEntry) error {
	if p.format == JSON {
		if entries == nil {
			entries = []domain.HistoryEntry{}
		}
		return p.writeValue(entries)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tDURATION\tENDPOINT\tMETHOD")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.Status,
			e.Duration.Round(time.Millisecond),
			e.Endpoint,
			e.Method)
	}
	return tw.Flush()
}

// SavedRequests prints named requests.
func (p *Printer) SavedRequests(reqs []domain.SavedRequest) error {
	if p.format == JSON {
		if reqs == nil {
			reqs = []domain.SavedRequest{}
		}
		return p.writeValue(reqs)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENDPOINT\tMETHOD")
	for _, r := range reqs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Endpoint, r.Method)
	}
	return tw.Flush()
}

// RecentEndpoints prints endpoints used by past calls, most recent first.
func (p *Printer) RecentEndpoints(recent []domain.RecentEndpoint) error {
	if p.format == JSON {
		if recent == nil {
			recent = []domain.RecentEndpoint{}
		}
		return p.writeValue(recent)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAST USED\tSECURITY\tENDPOINT")
	for _, r := range recent {
		security := "tls"
		if r.Plaintext {
			security = "plaintext"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.LastUsed.Local().Format(time.DateTime), security, r.Endpoint)
	}
	return tw.Flush()
}

// ServerRow is one configured server profile as listed by the servers
// command.
type ServerRow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	Security    string `json:"security"`
	Description string `json:"description,omitempty"`
}

// Servers prints configured server profiles.
func (p *Printer) Servers(rows []ServerRow) error {
	if p.format == JSON {
		if rows == nil {
			rows = []ServerRow{}
		}
		return p.writeValue(rows)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENDPOINT\tSECURITY\tNAME")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Endpoint, r.Security, r.Name)
	}
	return tw.Flush()
}
