package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/loom-app/loom/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database   string
	FlowID     string
	Broadcasts bool
}

// TraceEntry is one line of the merged timeline.
type TraceEntry struct {
	Seq    int64  `json:"seq"`
	Kind   string `json:"kind"` // "event" | "execution" | "broadcast"
	Detail string `json:"detail"`

	FlowID  string          `json:"flow_id,omitempty"`
	NodeID  string          `json:"node_id,omitempty"`
	Status  string          `json:"status,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceEntry `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats summarizes the trace.
type TraceStats struct {
	Events     int `json:"events"`
	Executions int `json:"executions"`
	Broadcasts int `json:"broadcasts"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the journaled timeline",
		Long: `Print the journal's merged timeline of inbound events, chain
transitions, and (optionally) outbound broadcasts, ordered by the logical
clock.

Examples:
  loom trace --db ./data/journal.db
  loom trace --db ./data/journal.db --flow morning-routine
  loom trace --db ./data/journal.db --broadcasts --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database path (required)")
	cmd.Flags().StringVar(&opts.FlowID, "flow", "", "filter executions to one flow")
	cmd.Flags().BoolVar(&opts.Broadcasts, "broadcasts", false, "include outbound broadcasts")
	cmd.MarkFlagRequired("db")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	store, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	defer store.Close()

	result, err := buildTrace(store, opts.FlowID, opts.Broadcasts)
	if err != nil {
		return WrapExitError(ExitCommandError, "read journal", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	for _, e := range result.Timeline {
		switch e.Kind {
		case "event":
			fmt.Fprintf(w, "%6d  event      %s\n", e.Seq, e.Detail)
		case "execution":
			fmt.Fprintf(w, "%6d  execution  %s %s/%s\n", e.Seq, e.Status, e.FlowID, e.NodeID)
		case "broadcast":
			fmt.Fprintf(w, "%6d  broadcast  %s %s\n", e.Seq, e.Detail, e.Payload)
		}
	}
	fmt.Fprintf(w, "%d event(s), %d execution row(s), %d broadcast(s)\n",
		result.Stats.Events, result.Stats.Executions, result.Stats.Broadcasts)
	return nil
}

func buildTrace(store *journal.Store, flowID string, withBroadcasts bool) (*TraceResult, error) {
	events, err := store.Events()
	if err != nil {
		return nil, err
	}
	execs, err := store.Executions(flowID)
	if err != nil {
		return nil, err
	}

	result := &TraceResult{}
	for _, ev := range events {
		data, _ := json.Marshal(ev.Data)
		result.Timeline = append(result.Timeline, TraceEntry{
			Seq:     ev.Seq,
			Kind:    "event",
			Detail:  ev.Type,
			Payload: data,
		})
	}
	for _, ex := range execs {
		result.Timeline = append(result.Timeline, TraceEntry{
			Seq:    ex.Seq,
			Kind:   "execution",
			Detail: ex.ExecutionID,
			FlowID: ex.FlowID,
			NodeID: ex.NodeID,
			Status: ex.Status,
		})
	}
	result.Stats.Events = len(events)
	result.Stats.Executions = len(execs)

	if withBroadcasts {
		bcs, err := store.Broadcasts("")
		if err != nil {
			return nil, err
		}
		for _, bc := range bcs {
			result.Timeline = append(result.Timeline, TraceEntry{
				Seq:     bc.Seq,
				Kind:    "broadcast",
				Detail:  bc.Type,
				Payload: bc.Payload,
			})
		}
		result.Stats.Broadcasts = len(bcs)
	}

	sort.Slice(result.Timeline, func(i, j int) bool {
		return result.Timeline[i].Seq < result.Timeline[j].Seq
	})
	return result, nil
}
