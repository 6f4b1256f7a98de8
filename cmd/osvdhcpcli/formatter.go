package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/dhcpc"
	"github.com/veesix-networks/osvdhcp/plugins/northbound/api"
	"gopkg.in/yaml.v3"
)

type OutputFormat string

const (
	FormatCLI  OutputFormat = "cli"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatCLI, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// writeStructured renders data as JSON or YAML. YAML is produced from the
// JSON encoding so both formats share field names.
func writeStructured(w io.Writer, data any, format OutputFormat) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}
	if format == FormatJSON {
		_, err := w.Write(buf.Bytes())
		return err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(buf.Bytes(), &node); err != nil {
		return err
	}
	blockStyle(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle
	if n.Kind == yaml.ScalarNode {
		n.Style &^= yaml.DoubleQuotedStyle
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func remaining(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func formatLeases(w io.Writer, leases []api.LeaseView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tSTATE\tMAC\tHOSTNAME\tCLIENT-ID\tREMAINING")
	for _, l := range leases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.Address, l.State, dash(l.MAC), dash(l.Hostname), dash(l.ClientID),
			remaining(time.Duration(l.Remaining)*time.Second))
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d\n", len(leases))
}

func formatLease(w io.Writer, l api.LeaseView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Address:\t%s\n", l.Address)
	fmt.Fprintf(tw, "State:\t%s\n", l.State)
	fmt.Fprintf(tw, "MAC:\t%s\n", dash(l.MAC))
	fmt.Fprintf(tw, "Client ID:\t%s\n", dash(l.ClientID))
	fmt.Fprintf(tw, "Hostname:\t%s\n", dash(l.Hostname))
	if !l.Start.IsZero() {
		fmt.Fprintf(tw, "Start:\t%s\n", l.Start.Format(time.RFC3339))
	}
	if !l.Expires.IsZero() {
		fmt.Fprintf(tw, "Expires:\t%s\n", l.Expires.Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "Remaining:\t%s\n", remaining(time.Duration(l.Remaining)*time.Second))
	tw.Flush()
}

func formatPool(w io.Writer, p api.PoolView) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Pool:\t%s\n", p.Name)
	fmt.Fprintf(tw, "Network:\t%s\n", p.Network)
	fmt.Fprintf(tw, "Ranges:\t%s\n", strings.Join(p.Ranges, ", "))
	fmt.Fprintf(tw, "Server ID:\t%s\n", p.ServerID)
	fmt.Fprintf(tw, "Provider:\t%s\n", p.Provider)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "Addresses:\t%d\n", p.Stats.Total)
	fmt.Fprintf(tw, "  free:\t%d\n", p.Stats.Free)
	fmt.Fprintf(tw, "  offered:\t%d\n", p.Stats.Offered)
	fmt.Fprintf(tw, "  bound:\t%d\n", p.Stats.Bound)
	fmt.Fprintf(tw, "  expired:\t%d\n", p.Stats.Expired)
	fmt.Fprintf(tw, "  released:\t%d\n", p.Stats.Released)
	fmt.Fprintf(tw, "  declined:\t%d\n", p.Stats.Declined)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "Received:\t%d\n", p.Counters.Received)
	fmt.Fprintf(tw, "Replied:\t%d\n", p.Counters.Replied)
	fmt.Fprintf(tw, "Send errors:\t%d\n", p.Counters.SendErrors)
	tw.Flush()
}

func formatSessions(w io.Writer, sessions []dhcpc.Info, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INTERFACE\tSTATE\tADDRESS\tSERVER\tREMAINING\tATTEMPT")
	for _, s := range sessions {
		addr, server, left := "-", "-", "-"
		if s.Lease != nil {
			addr = s.Lease.Addr.String()
			server = s.Lease.ServerID.String()
			left = remaining(s.Lease.ExpiresAt().Sub(now))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", s.Interface, s.State, addr, server, left, s.Attempt)
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
