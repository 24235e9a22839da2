package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loom-app/loom/internal/broadcast/wshub"
	"github.com/loom-app/loom/internal/device"
	"github.com/loom-app/loom/internal/engine"
	"github.com/loom-app/loom/internal/flow"
	"github.com/loom-app/loom/internal/journal"
	"github.com/loom-app/loom/internal/llm"
	"github.com/loom-app/loom/internal/persist"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the flow engine with the websocket transport",
		Long: `Load flows, devices, and settings, then serve the engine over a
websocket endpoint at /ws. Every inbound event and outbound broadcast is
journaled for later trace and replay.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file path")
	return cmd
}

// tierDirs maps flows_dir subdirectories to activation tiers. A flat
// flows_dir with no subdirectories activates everything at the global tier.
var tierDirs = []struct {
	name string
	tier flow.PriorityTier
}{
	{"global", flow.TierGlobal},
	{"character", flow.TierCharacter},
	{"persona", flow.TierPersona},
}

func runServe(opts *ServeOptions) error {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "config", err)
	}

	catalog, err := loadCatalog(cfg.DevicesPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "device catalog", err)
	}

	var driver device.Driver
	if cfg.BridgeURL != "" {
		driver = device.NewBridgeDriver(cfg.BridgeURL, 10*time.Second)
	} else {
		slog.Warn("no bridge_url configured, device actuation is simulated")
		driver = device.NewFakeDriver()
	}

	var gen llm.Generator
	if cfg.LLM.BaseURL != "" {
		gen = llm.NewClient(cfg.LLM)
	} else {
		slog.Warn("no llm endpoint configured, generated responses fall back to literals")
		gen = llm.NewScripted()
	}

	jrn, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "journal", err)
	}
	defer jrn.Close()

	docs, err := persist.NewStore(cfg.DataDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "data dir", err)
	}

	var eng *engine.Engine
	hub := wshub.NewHub(func(cmd wshub.Command) {
		dispatchCommand(eng, cmd)
	})

	eng = engine.New(catalog, driver, hub, gen,
		engine.WithJournal(jrn),
		engine.WithSettings(docs),
		engine.WithIdleCheck(time.Duration(cfg.IdleCheckSeconds)*time.Second),
	)
	eng.SetIdentities(cfg.PlayerName, cfg.CharacterName, "")

	if err := activateFlows(eng, cfg.FlowsDir); err != nil {
		return WrapExitError(ExitCommandError, "flows", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	go func() {
		if err := eng.Run(ctx); err != nil {
			slog.Error("engine stopped", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	slog.Info("serving", "listen", cfg.Listen, "flows_dir", cfg.FlowsDir)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitCommandError, "listen", err)
	}

	eng.Stop()
	eng.WaitIdle()
	return nil
}

// activateFlows loads flows_dir. Subdirectories global/character/persona
// activate at their tier; a flat directory activates at the global tier.
func activateFlows(eng *engine.Engine, dir string) error {
	tiered := false
	for _, td := range tierDirs {
		sub := filepath.Join(dir, td.name)
		if fi, err := os.Stat(sub); err != nil || !fi.IsDir() {
			continue
		}
		tiered = true
		flows, issues, err := LoadFlows(sub)
		if err != nil {
			return err
		}
		logIssues(issues)
		for _, f := range flows {
			eng.ActivateFlow(f, td.tier)
		}
	}
	if tiered {
		return nil
	}

	flows, issues, err := LoadFlows(dir)
	if err != nil {
		return err
	}
	logIssues(issues)
	for _, f := range flows {
		eng.ActivateFlow(f, flow.TierGlobal)
	}
	return nil
}

func logIssues(issues []FlowIssue) {
	for _, is := range issues {
		slog.Warn("flow rejected", "file", is.File, "code", is.Code, "message", is.Message)
	}
}

// dispatchCommand maps one inbound websocket command onto the engine.
func dispatchCommand(eng *engine.Engine, cmd wshub.Command) {
	switch cmd.Type {
	case "player_speaks":
		eng.HandleEvent(engine.Event{Type: engine.EventPlayerSpeaks, Data: engine.EventData{Content: cmd.Text, Sender: "player"}})
	case "ai_speaks":
		eng.HandleEvent(engine.Event{Type: engine.EventAISpeaks, Data: engine.EventData{Content: cmd.Text, Sender: "character"}})
	case "new_session":
		eng.HandleEvent(engine.Event{Type: engine.EventNewSession})
	case "button_press":
		eng.HandleEvent(engine.Event{Type: engine.EventButtonPress, Data: engine.EventData{
			FlowID: cmd.FlowID, ButtonID: cmd.ButtonID, Label: cmd.Label,
		}})
	case "choice":
		eng.HandlePlayerChoice(cmd.NodeID, cmd.ChoiceID, cmd.Label)
	case "challenge_result":
		eng.HandleChallengeResult(cmd.NodeID, cmd.OutputID, cmd.Details)
	case "input":
		eng.HandleInputResponse(cmd.NodeID, cmd.Text)
	case "set_state":
		eng.SetPlayerState(cmd.StateType, cmd.Value, cmd.Text)
	case "pause":
		eng.PauseFlows(cmd.Reason)
	case "resume":
		eng.ResumeFlows()
	case "emergency_stop":
		eng.EmergencyStop()
	case "device_on":
		eng.HandleEvent(engine.Event{Type: engine.EventDeviceOn, Data: engine.EventData{DeviceKey: cmd.DeviceKey}})
	case "device_off":
		eng.HandleEvent(engine.Event{Type: engine.EventDeviceOff, Data: engine.EventData{DeviceKey: cmd.DeviceKey}})
	case "cycle_complete":
		eng.HandleCycleComplete(cmd.DeviceKey)
	case "device_on_complete":
		eng.HandleDeviceOnComplete(cmd.DeviceKey)
	default:
		slog.Warn("unknown client command", "type", cmd.Type)
	}
}
