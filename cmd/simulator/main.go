// simulator: the packet hub fsmlink peers log into in sim mode.
//
// Peers connect to /ws, log in with a channel number, an ID and a loss
// rate, and the hub relays packets between the two peers of each channel,
// dropping and duplicating them as configured.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/fsmlink/internal/simulator"
	"github.com/1ureka/fsmlink/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", "127.0.0.1:8787", "Listen address")
	dup := flag.Int("dup", 0, "Percentage of relayed packets delivered twice (0~100)")
	seed := flag.Uint64("seed", 0, "Random seed for loss and duplication (0 = random)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	hub := simulator.NewHub(simulator.HubConfig{DuplicateRate: *dup, Seed: *seed})
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		<-ctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	pterm.Info.Println("simulator hub listening on ws://" + *addr + "/ws")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.LogError("simulator stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("simulator closed")
}
