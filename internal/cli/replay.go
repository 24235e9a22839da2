package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loom-app/loom/internal/broadcast"
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/engine"
	"github.com/loom-app/loom/internal/journal"
	"github.com/loom-app/loom/internal/llm"
	"github.com/loom-app/loom/internal/testutil"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database    string
	FlowsDir    string
	DevicesPath string
	Seed        int64
	Check       bool
}

// ReplayResult holds replay command output.
type ReplayResult struct {
	EventsReplayed int      `json:"events_replayed"`
	Broadcasts     int      `json:"broadcasts"`
	Checked        bool     `json:"checked"`
	Deterministic  bool     `json:"deterministic"`
	Divergences    []string `json:"divergences,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run journaled events through a fresh engine",
		Long: `Feed the journal's inbound events through a fresh engine with
deterministic seams (recording device driver, scripted generator, seeded
rand, fast clock) and print the reproduced broadcast trace.

With --check, the reproduced trace is compared against the journaled one
and divergences are reported. Pending timers fast-forward between events;
traces whose timers raced inbound events may diverge.

Examples:
  loom replay --db ./data/journal.db --flows ./data/flows
  loom replay --db ./data/journal.db --flows ./data/flows --check`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database path (required)")
	cmd.Flags().StringVar(&opts.FlowsDir, "flows", "", "flows directory (required)")
	cmd.Flags().StringVar(&opts.DevicesPath, "devices", "", "device catalog path")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "rand seed for tie-breaks and weighted branches")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "compare against the journaled broadcasts")
	cmd.MarkFlagRequired("db")
	cmd.MarkFlagRequired("flows")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	store, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	defer store.Close()

	catalog := device.NewCatalog(nil)
	if opts.DevicesPath != "" {
		catalog, err = device.LoadCatalog(opts.DevicesPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "device catalog", err)
		}
	}

	recorder := broadcast.NewRecorder()
	sched := testutil.NewManualScheduler(time.Unix(0, 0).UTC())
	eng := engine.New(catalog, device.NewFakeDriver(), recorder, llm.NewScripted(),
		engine.WithScheduler(sched),
		engine.WithTokenGenerator(engine.NewSeqGenerator("replay")),
		engine.WithRandSeed(opts.Seed),
	)

	if err := activateFlows(eng, opts.FlowsDir); err != nil {
		return WrapExitError(ExitCommandError, "flows", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	// Between events, fast-forward every pending timer in deadline order
	// so delayed chains finish before the next event lands.
	settle := func() {
		eng.WaitIdle()
		for sched.AdvanceToNext() {
			eng.WaitIdle()
		}
	}

	n, err := store.Replay(eng, settle)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay", err)
	}
	eng.WaitIdle()
	eng.Stop()

	envs := recorder.Envelopes()
	result := ReplayResult{
		EventsReplayed: n,
		Broadcasts:     len(envs),
		Checked:        opts.Check,
		Deterministic:  true,
	}

	if opts.Check {
		journaled, err := store.Broadcasts("")
		if err != nil {
			return WrapExitError(ExitCommandError, "read broadcasts", err)
		}
		result.Divergences = diffBroadcasts(journaled, envs)
		result.Deterministic = len(result.Divergences) == 0
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, env := range envs {
			line, err := env.MarshalTrace()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "replayed %d event(s), %d broadcast(s)\n", n, len(envs))
		for _, d := range result.Divergences {
			fmt.Fprintln(w, "divergence:", d)
		}
	}

	if opts.Check && !result.Deterministic {
		return NewExitError(ExitFailure, fmt.Sprintf("%d divergence(s)", len(result.Divergences)))
	}
	return nil
}

// diffBroadcasts compares journaled broadcasts against a reproduced trace
// by position: type must match and payloads must be JSON-equal.
func diffBroadcasts(journaled []journal.BroadcastRecord, envs []broadcast.Envelope) []string {
	var out []string
	n := len(journaled)
	if len(envs) < n {
		n = len(envs)
	}
	for i := 0; i < n; i++ {
		if journaled[i].Type != string(envs[i].Type) {
			out = append(out, fmt.Sprintf("position %d: journaled %s, replayed %s",
				i, journaled[i].Type, envs[i].Type))
			continue
		}
		got, err := json.Marshal(envs[i].Payload)
		if err != nil {
			out = append(out, fmt.Sprintf("position %d: marshal: %v", i, err))
			continue
		}
		if !jsonEqual(journaled[i].Payload, got) {
			out = append(out, fmt.Sprintf("position %d (%s): payload differs", i, journaled[i].Type))
		}
	}
	if len(journaled) != len(envs) {
		out = append(out, fmt.Sprintf("journaled %d broadcast(s), replayed %d", len(journaled), len(envs)))
	}
	return out
}

func jsonEqual(a, b []byte) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ac, _ := json.Marshal(av)
	bc, _ := json.Marshal(bv)
	return bytes.Equal(ac, bc)
}
