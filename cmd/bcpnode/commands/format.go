package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/bcpnet/gobcp/internal/routing"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

var errUnsupportedFormat = errors.New("unsupported output format")

func formatStatus(rows []statusRow, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal status to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NODE\tSINK\tQUEUE\tNEIGHBORS\tBATTERY\tBUDGET\tPHASE\tSENT\tRECV\tDROPPED\tACKS")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%.0f\t%.1f\t%s\t%d\t%d\t%d\t%d\n",
				r.Addr, r.Sink, r.QueueLen, r.Neighbors, r.BatteryLevel, r.EnergyBudget, r.Phase,
				r.PacketsSent, r.PacketsRecv, r.PacketsDropped, r.AcksReceived)
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// routeRow adds the live backpressure differential (ownQueueLen -
// neighbor's last advertised queue length, not floored at 0) to a
// routing.Neighbor for display; the table itself does not store it. It
// equals BasicEstimator's weight only where that weight is positive, and
// is not the score the fusion coordinator's estimator gives a neighbor.
type routeRow struct {
	routing.Neighbor
	Backpressure int
}

func formatRoutes(neighbors []routing.Neighbor, ownQueueLen int, format string) (string, error) {
	rows := make([]routeRow, len(neighbors))
	for i, n := range neighbors {
		rows[i] = routeRow{Neighbor: n, Backpressure: ownQueueLen - n.QueueLog}
	}

	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal routes to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NEIGHBOR\tQUEUE-LOG\tBACKPRESSURE\tFORWARDABLE\tHOP-COUNT")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", r.Addr, r.QueueLog, r.Backpressure, r.Forwardable, r.HopCount)
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}
