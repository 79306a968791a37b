package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/1ureka/holepunch/internal/config"
	"github.com/1ureka/holepunch/internal/util"
)

const usage = `usage:
  holepunch client <address> [--methods=LIST] [--password=PASS] [--ip=IP] [--peer=IP] [--netmask=MASK] [-v|-q]
  holepunch server [--methods=LIST] [--password=PASS] [--ip=IP] [--netmask=MASK] [-v|-q]
  holepunch         (interactive)

methods: tcp, udp, icmp, dns, ws, webrtc, or all (default tcp,udp,icmp,dns)
`

var errUsage = errors.New("expected a subcommand: client or server")

// parseArgs turns "client <address> [flags]" or "server [flags]" into a
// Config. Help output goes to stderr and returns flag.ErrHelp.
func parseArgs(args []string) (*config.Config, error) {
	return parseArgsTo(args, os.Stderr)
}

func parseArgsTo(args []string, out io.Writer) (*config.Config, error) {
	if len(args) == 0 {
		return nil, errUsage
	}

	cfg := &config.Config{Role: config.Role(strings.ToLower(args[0]))}
	switch cfg.Role {
	case config.RoleClient, config.RoleServer:
	case "-h", "--help", "help":
		fmt.Fprint(out, usage)
		return nil, flag.ErrHelp
	default:
		return nil, fmt.Errorf("%w, got %q", errUsage, args[0])
	}

	fs := flag.NewFlagSet("holepunch "+string(cfg.Role), flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() { fmt.Fprint(out, usage) }

	methods := fs.String("methods", strings.Join(config.DefaultMethods, ","), "comma-separated transport methods, in preference order")
	fs.StringVar(&cfg.Password, "password", config.DefaultPassword, "shared secret for authentication")
	fs.StringVar(&cfg.LocalIP, "ip", "", "address of the local TUN interface")
	fs.StringVar(&cfg.Netmask, "netmask", config.DefaultNetmask, "netmask of the TUN interface")
	if cfg.Role == config.RoleClient {
		fs.StringVar(&cfg.PeerIP, "peer", "", "point-to-point peer of the TUN interface")
	}
	verbose := fs.BoolP("verbose", "v", false, "log every forwarded packet")
	quiet := fs.BoolP("quiet", "q", false, "log warnings and errors only")

	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	rest := fs.Args()
	switch cfg.Role {
	case config.RoleClient:
		if len(rest) != 1 {
			return nil, fmt.Errorf("client takes exactly one server address, got %d", len(rest))
		}
		cfg.Address = rest[0]
	case config.RoleServer:
		if len(rest) != 0 {
			return nil, fmt.Errorf("server takes no arguments, got %q", rest)
		}
	}

	if *verbose && *quiet {
		return nil, errors.New("--verbose and --quiet are mutually exclusive")
	}
	switch {
	case *verbose:
		cfg.LogLevel = util.LevelDebug
	case *quiet:
		cfg.LogLevel = util.LevelQuiet
	}

	cfg.Methods = config.ParseMethods(*methods)
	cfg.ApplyDefaults()
	return cfg, nil
}
