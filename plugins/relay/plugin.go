package relay

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"alumet/pkg/plugin"
)

// Config is the relay plugin's TOML-decoded configuration, under the
// plugins.relay table.
type Config struct {
	// Mode is "client", "server", or "both".
	Mode string `mapstructure:"mode"`
	// Addresses are the relay servers a client forwards to.
	Addresses []string `mapstructure:"addresses"`
	// ListenAddr is where a server listens, e.g. ":9567".
	ListenAddr string `mapstructure:"listen_addr"`
}

func DefaultConfig() Config {
	return Config{Mode: "client", ListenAddr: ":9567"}
}

// Plugin wires a relay Client as a pipeline output, a relay Server as a
// standalone listener, or both, depending on Config.Mode.
type Plugin struct {
	cfg Config
	log *logrus.Entry

	client *Client
	server *Server
	lis    net.Listener
}

func New() *Plugin { return &Plugin{cfg: DefaultConfig()} }

func (p *Plugin) Name() string    { return "relay" }
func (p *Plugin) Version() string { return "0.1.0" }
func (p *Plugin) DefaultConfig() any { return DefaultConfig() }

func (p *Plugin) Init(cfg any) (plugin.Plugin, error) {
	c, ok := cfg.(Config)
	if !ok {
		return nil, fmt.Errorf("relay: unexpected config type %T", cfg)
	}
	np := &Plugin{cfg: c, log: logrus.NewEntry(logrus.StandardLogger()).WithField("plugin", "relay")}
	return np, nil
}

func (p *Plugin) Start(start plugin.AlumetStart) error {
	switch p.cfg.Mode {
	case "client":
		return p.startClient(start)
	case "server":
		return p.startServer(start)
	case "both":
		if err := p.startClient(start); err != nil {
			return err
		}
		return p.startServer(start)
	default:
		return fmt.Errorf("relay: unknown mode %q", p.cfg.Mode)
	}
}

func (p *Plugin) startClient(start plugin.AlumetStart) error {
	client, err := NewClient(ClientConfig{Addresses: p.cfg.Addresses}, p.log)
	if err != nil {
		return err
	}
	p.client = client
	return start.AddOutput("client", client)
}

func (p *Plugin) startServer(start plugin.AlumetStart) error {
	lis, err := net.Listen("tcp", p.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("relay: listening on %s: %w", p.cfg.ListenAddr, err)
	}
	p.lis = lis
	p.server = NewServer(start.Metrics(), nil, p.log)
	go func() {
		if err := p.server.Serve(lis); err != nil {
			p.log.WithError(err).Warn("relay: server stopped")
		}
	}()
	return nil
}

func (p *Plugin) Stop() error {
	if p.server != nil {
		p.server.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
