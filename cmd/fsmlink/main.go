// fsmlink: CLI entry point.
//
// fsmlink runs one endpoint of a stop-and-wait reliable link. Commands typed
// on stdin (connect, close, send, quit) drive a finite state machine that
// exchanges packets with a peer over an unreliable channel: the simulator
// hub, a WebRTC DataChannel, or an in-process pipe.
//
// Missing session parameters (channel, ID, loss rate) are asked for
// interactively.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/fsmlink/internal/channel"
	"github.com/1ureka/fsmlink/internal/config"
	"github.com/1ureka/fsmlink/internal/console"
	"github.com/1ureka/fsmlink/internal/driver"
	"github.com/1ureka/fsmlink/internal/event"
	"github.com/1ureka/fsmlink/internal/fsm"
	"github.com/1ureka/fsmlink/internal/signaling"
	"github.com/1ureka/fsmlink/internal/simulator"
	"github.com/1ureka/fsmlink/internal/timer"
	"github.com/1ureka/fsmlink/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := flag.String("config", "", "Path to a TOML config file")
	mode := flag.String("mode", "", "Channel: sim, p2p or local")
	channelNo := flag.Int("channel", 0, "Simulator channel number")
	id := flag.Int("id", 0, "Simulator peer ID")
	loss := flag.Int("loss", 0, "Outbound packet loss rate in percent (0~100)")
	simURL := flag.String("sim", "", "Simulator hub URL")
	role := flag.String("role", "", "P2P role: host or client")
	wsPort := flag.Int("wsPort", 0, "WebSocket signaling server port (p2p host only)")
	wsListen := flag.Bool("wsListen", false, "Listen on all network interfaces (p2p host only)")
	wsURL := flag.String("wsUrl", "", "WebSocket URL including ?pin= (p2p client only)")
	connectTimeout := flag.Duration("connectTimeout", 0, "Wait for the ACK of a CONNECT_REQ")
	dataTimeout := flag.Duration("dataTimeout", 0, "Wait for the ACK of a DATA packet")
	retries := flag.Int("retries", 0, "Retransmissions before giving up")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = config.Mode(strings.ToLower(*mode))
		case "channel":
			cfg.Channel = *channelNo
		case "id":
			cfg.ID = *id
		case "loss":
			cfg.LossRate = *loss
		case "sim":
			cfg.SimURL = *simURL
		case "role":
			cfg.Role = config.Role(strings.ToLower(*role))
		case "wsUrl":
			cfg.WSURL = *wsURL
		case "connectTimeout":
			cfg.ConnectTimeout = *connectTimeout
		case "dataTimeout":
			cfg.DataTimeout = *dataTimeout
		case "retries":
			cfg.RetryLimit = *retries
		case "debug":
			cfg.Debug = *debugMode
		}
	})
	switch {
	case *wsListen:
		cfg.WSAddr = fmt.Sprintf(":%d", *wsPort)
	case *wsPort > 0:
		cfg.WSAddr = fmt.Sprintf("127.0.0.1:%d", *wsPort)
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("fsmlink v%s", version))
	pterm.Println()

	if cfg.Mode == config.ModeSim && (cfg.Channel == 0 || cfg.ID == 0) {
		askSession(&cfg)
	}
	if cfg.WSURL != "" {
		normalized, err := normalizeWSURL(cfg.WSURL)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
		cfg.WSURL = normalized
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	link, err := openChannel(ctx, cfg)
	if err != nil {
		util.LogError("failed to set up the channel: %v", err)
		os.Exit(1)
	}
	defer link.Close()

	util.StartStatsReporter(ctx)
	pterm.Println()
	util.LogInfo("%s", console.Usage)

	err = runPeer(ctx, cfg, link, console.New(os.Stdin), nil)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		util.LogInfo("bye")
	default:
		util.LogError("protocol loop stopped: %v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Channel setup
// ---------------------------------------------------------------------------

// openChannel performs the session setup for the configured mode. The
// simulator hub injects loss itself; the other channels are wrapped in a
// loss injector.
func openChannel(ctx context.Context, cfg config.Config) (channel.Channel, error) {
	switch cfg.Mode {
	case config.ModeSim:
		util.LogInfo("logging into %s (channel %d, id %d, loss %d%%)", cfg.SimURL, cfg.Channel, cfg.ID, cfg.LossRate)
		c, err := simulator.Dial(ctx, cfg.SimURL, simulator.Login{
			Channel: cfg.Channel,
			ID:      cfg.ID,
			Loss:    cfg.LossRate,
		})
		if err != nil {
			return nil, err
		}
		util.LogSuccess("logged into the simulator")
		return c, nil

	case config.ModeP2P:
		var (
			link channel.Channel
			err  error
		)
		if cfg.Role == config.RoleHost {
			link, err = signaling.EstablishAsHost(ctx, cfg.WSAddr)
		} else {
			link, err = signaling.EstablishAsClient(ctx, cfg.WSURL)
		}
		if err != nil {
			return nil, err
		}
		return channel.NewLossy(link, cfg.LossRate, nil), nil

	case config.ModeLocal:
		local, remote := channel.NewPipe(64)
		go runRemote(ctx, cfg, remote)
		return channel.NewLossy(local, cfg.LossRate, nil), nil
	}
	return nil, fmt.Errorf("%w: %q", config.ErrInvalidMode, cfg.Mode)
}

// runRemote drives the in-process peer of local mode. It never issues
// commands of its own, so it only answers what the local peer sends.
func runRemote(ctx context.Context, cfg config.Config, link channel.Channel) {
	defer link.Close()
	err := runPeer(ctx, cfg, channel.NewLossy(link, cfg.LossRate, nil), noCommands{}, remoteReporter{})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, channel.ErrClosed) {
		util.LogWarning("remote peer stopped: %v", err)
	}
}

// runPeer wires one endpoint together and runs its protocol loop.
func runPeer(ctx context.Context, cfg config.Config, link channel.Channel, cmds event.Commands, report fsm.Reporter) error {
	t := timer.New()
	m := fsm.New(fsm.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		DataTimeout:    cfg.DataTimeout,
		RetryLimit:     cfg.RetryLimit,
	}, link, t, report)
	src := event.NewSource(cmds, t, link, m, cfg.PollInterval)
	return driver.NewLoop(m, src).Run(ctx)
}

type noCommands struct{}

func (noCommands) HasPending() bool      { return false }
func (noCommands) Read() console.Command { return console.CommandQuit }

// remoteReporter tags the in-process peer's outcomes so they can be told
// apart from the local ones.
type remoteReporter struct{}

func (remoteReporter) Connected() { util.LogInfo("[remote] Connected") }
func (remoteReporter) Closed()    { util.LogInfo("[remote] Connection closed") }
func (remoteReporter) GaveUp()    { util.LogInfo("[remote] resending is over, connection closed") }

func (remoteReporter) Sending(payload []byte) {
	util.LogInfo("[remote] Send data to peer '%s' size:%d", fsm.Printable(payload), len(payload))
}

func (remoteReporter) Resending(payload []byte, try, limit int) {
	util.LogInfo("[remote] Resend data to peer '%s' size:%d try:%d/%d", fsm.Printable(payload), len(payload), try, limit)
}

func (remoteReporter) DataArrived(payload []byte) {
	util.LogInfo("[remote] Data arrived data='%s' size:%d", fsm.Printable(payload), len(payload))
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeWSURL validates a signaling URL, defaulting the scheme to wss and
// the path to /ws. The query (which carries the PIN) is preserved.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	return u.String(), nil
}

// askSession prompts for the simulator login parameters that are still zero.
func askSession(cfg *config.Config) {
	if cfg.Channel == 0 {
		cfg.Channel = askInt("Channel number", 1, 1<<30)
	}
	if cfg.ID == 0 {
		cfg.ID = askInt("Your ID", 1, 1<<30)
	}
	cfg.LossRate = askInt("Loss rate in percent (0 ~ 100)", 0, 100)
}

// askInt prompts until an integer in [lo, hi] is entered.
func askInt(prompt string, lo, hi int) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && n >= lo && n <= hi {
			pterm.Println()
			return n
		}

		util.LogWarning("invalid number: must be %d ~ %d", lo, hi)
		pterm.Println()
	}
}
