package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/miskoemotorsports/pitdash/internal/link"
	"github.com/miskoemotorsports/pitdash/internal/logger"
	"github.com/miskoemotorsports/pitdash/internal/publish"
	"github.com/miskoemotorsports/pitdash/internal/server"
	"github.com/miskoemotorsports/pitdash/internal/window"
	"github.com/miskoemotorsports/pitdash/web"
)

func main() {
	configPath := flag.String("config", "/etc/pitdash/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated car instead of the serial port")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	portPath := flag.String("port", "", "Override serial port (e.g. /dev/ttyUSB0 or COM7)")
	flag.Parse()

	cfg := server.LoadConfig(*configPath)
	if *demo {
		cfg.Link.Driver = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *portPath != "" {
		cfg.Link.PortPath = *portPath
	}

	logCloser, err := logger.Setup(cfg.Logging)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer logCloser.Close()
	log.Println("[main] pitdash starting")

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] %v", err)
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	mcfg, err := cfg.ManagerConfig()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	display, _ := cfg.DisplaySettings()
	store := window.NewStore(mcfg.Protocol.Plotted, cfg.WindowLength(), display.SeedValue)
	pub := publish.New(store)

	opener, err := link.NewOpener(cfg.OpenerConfig())
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	log.Printf("[main] %s driver on %s, protocol %s, %d-sample windows",
		cfg.Link.Driver, cfg.Link.PortPath, mcfg.Protocol.Name, store.Length())

	// Ingest loop keeps retrying the port on its own; the dashboard starts regardless
	mgr := link.NewManager(mcfg, opener, pub)
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		mgr.Run(ctx)
	}()

	srv := server.New(cfg, pub, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
	cancel()
	<-ingestDone
	log.Println("[main] stopped")
}
