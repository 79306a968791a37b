// Holepunch: CLI entry point.
//
// Holepunch is a small point-to-point VPN. Both ends open a TUN interface and
// forward IP packets over the first transport that gets through (TCP, UDP,
// ICMP echo, WebSocket or WebRTC), after proving a shared secret.
//
// Run "holepunch client <address>" or "holepunch server" with flags, or with
// no arguments for interactive prompts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	flag "github.com/spf13/pflag"

	"github.com/1ureka/holepunch/internal/app"
	"github.com/1ureka/holepunch/internal/auth"
	"github.com/1ureka/holepunch/internal/config"
	"github.com/1ureka/holepunch/internal/transport"
	"github.com/1ureka/holepunch/internal/tun"
	"github.com/1ureka/holepunch/internal/util"
)

var version = "dev"

const statsInterval = 10 * time.Second

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		cfg *config.Config
		err error
	)
	if len(os.Args) < 2 {
		pterm.Info.Println(fmt.Sprintf("Holepunch — v%s", version))
		pterm.Println()
		cfg = runInteractive(transport.NewDefaultRegistry(transport.Options{}).Names())
	} else {
		cfg, err = parseArgs(os.Args[1:])
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "holepunch: %v\nrun 'holepunch --help' for usage\n", err)
			os.Exit(2)
		}
	}

	log := util.NewLogger(os.Stderr, cfg.LogLevel)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
	log.Info("tunnel closed")
}

// run opens and configures the TUN device, then hands it to the server
// supervisor or the client orchestrator until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *util.Logger) error {
	registry := transport.NewDefaultRegistry(transport.Options{Log: log})

	cfg.ApplyDefaults()
	if err := cfg.Validate(registry.Names()); err != nil {
		return err
	}

	methods, err := registry.Resolve(cfg.Methods)
	if err != nil {
		return err
	}

	addressing, err := tun.ParseAddressing(cfg.LocalIP, cfg.PeerIP, cfg.Netmask)
	if err != nil {
		return err
	}

	dev, err := tun.Open("", log.With("tun"))
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := tun.Configure(dev.Name(), addressing); err != nil {
		return fmt.Errorf("configure %s: %w", dev.Name(), err)
	}
	log.Success("%s up: %s", dev.Name(), addressing)

	util.StartStatsReporter(ctx, log.With("stats"), statsInterval)

	handshake := auth.New(cfg.Password, log.With("auth"))

	switch cfg.Role {
	case config.RoleServer:
		srv := &app.Server{
			Methods: methods,
			Auth:    handshake,
			Device:  dev,
			Log:     log,
		}
		return srv.Run(ctx)

	default:
		cli := &app.Client{
			Address: cfg.Address,
			Methods: methods,
			Auth:    handshake,
			Device:  dev,
			Log:     log,
		}
		return cli.Run(ctx)
	}
}
