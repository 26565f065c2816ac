package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/zrxmesh/ordermesh/internal/api"
	"github.com/zrxmesh/ordermesh/internal/mesh"
	"github.com/zrxmesh/ordermesh/internal/monitoring"
	"github.com/zrxmesh/ordermesh/internal/p2p"
	"github.com/zrxmesh/ordermesh/pkg/bus"
	"github.com/zrxmesh/ordermesh/pkg/lifecycle"
	"github.com/zrxmesh/ordermesh/pkg/logger"
)

func main() {
	var (
		cfgPath   string
		apiAddr   string
		monAddr   string
		dataDir   string
		p2pEnable bool
		p2pListen string
		p2pBoot   string
		p2pNAT    bool
	)
	flag.StringVar(&cfgPath, "config", "", "Config file path (yaml/json/toml); MESH_* env vars override file values")
	flag.StringVar(&apiAddr, "api", "", "API listen address (overrides config)")
	flag.StringVar(&monAddr, "monitoring", "", "Monitoring listen address (overrides config)")
	flag.StringVar(&dataDir, "data-dir", "", "Data directory for journal and identity (overrides config)")
	flag.BoolVar(&p2pEnable, "p2p.enable", false, "Enable P2P transport (libp2p+gossipsub, behind 'p2p' build tag)")
	flag.StringVar(&p2pListen, "p2p.listen", "", "P2P listen multiaddr (e.g. /ip4/0.0.0.0/tcp/31000)")
	flag.StringVar(&p2pBoot, "p2p.bootnodes", "", "Comma-separated bootnode multiaddrs or path to file")
	flag.BoolVar(&p2pNAT, "p2p.nat", false, "Enable NAT port mapping")
	flag.Parse()

	cfg, err := mesh.LoadConfig(cfgPath)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	if apiAddr != "" {
		cfg.API.Enable = true
		cfg.API.Addr = apiAddr
	}
	if monAddr != "" {
		cfg.Monitor.Enable = true
		cfg.Monitor.Addr = monAddr
	}
	if dataDir != "" {
		cfg.Node.DataDir = dataDir
	}
	if p2pEnable {
		cfg.P2P.Enable = true
	}
	if p2pListen != "" {
		cfg.P2P.Listen = []string{p2pListen}
	}
	if bn := parseBootnodes(p2pBoot); len(bn) > 0 {
		cfg.P2P.Bootnodes = bn
	}
	if p2pNAT {
		cfg.P2P.NAT = true
	}
	if cfg.P2P.Identity == "" && cfg.Node.DataDir != "" {
		cfg.P2P.Identity = filepath.Join(cfg.Node.DataDir, "p2p.key")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	node := mesh.New(cfg)
	node.SetBus(bus.New(cfg.Node.BusSize))
	if cfg.Node.DataDir != "" {
		if err := os.MkdirAll(cfg.Node.DataDir, 0o700); err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}
		node.SetJournal(mesh.NewJournal(filepath.Join(cfg.Node.DataDir, "orders.journal")))
	}
	sink, closers := buildSinks(cfg.Sinks)
	if sink != nil {
		node.SetSink(sink)
	}

	m := lifecycle.New()
	m.Add(node)
	if cfg.P2P.Enable {
		t, err := p2p.BuildTransport(netConfigFrom(cfg))
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}
		// The node registers its transport callbacks during its own Start,
		// so the transport service is added after it.
		node.SetTransport(t)
		m.Add(p2p.NewNetService(t))
	}
	if cfg.API.Enable {
		m.Add(api.New(cfg.API.Addr, node))
	}
	if cfg.Monitor.Enable {
		m.Add(monitoring.New(cfg.Monitor.Addr))
	}

	if err := m.StartAll(ctx); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	<-ctx.Done()
	_ = m.StopAll(context.Background())
	for _, c := range closers {
		_ = c.Close()
	}
}

func buildSinks(cfg mesh.SinkConfig) (mesh.OrderSink, []io.Closer) {
	var sinks mesh.MultiSink
	var closers []io.Closer
	if cfg.WebhookURL != "" {
		sinks = append(sinks, mesh.WebhookSink{URL: cfg.WebhookURL})
	}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := mesh.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.ErrorJ("order_sink", map[string]any{"result": "kafka_init_error", "err": err.Error()})
		} else {
			sinks = append(sinks, k)
			closers = append(closers, k)
		}
	}
	switch len(sinks) {
	case 0:
		return nil, closers
	case 1:
		return sinks[0], closers
	default:
		return sinks, closers
	}
}

func netConfigFrom(cfg mesh.Config) p2p.NetConfig {
	nc := p2p.DefaultNetConfig()
	nc.Enable = cfg.P2P.Enable
	nc.Listen = cfg.P2P.Listen
	nc.Bootnodes = cfg.P2P.Bootnodes
	nc.NAT = cfg.P2P.NAT
	nc.IdentityFile = cfg.P2P.Identity
	nc.Filter = cfg.Filter()
	nc.EnableSync = cfg.P2P.Sync
	return nc
}

// parseBootnodes accepts either a comma-separated multiaddr list or a path
// to a file with one multiaddr per line.
func parseBootnodes(s string) []string {
	if s == "" {
		return nil
	}
	if fi, err := os.Stat(s); err == nil && !fi.IsDir() {
		b, err := os.ReadFile(s)
		if err != nil {
			return nil
		}
		var out []string
		for _, ln := range strings.Split(string(b), "\n") {
			if ln = strings.TrimSpace(ln); ln != "" {
				out = append(out, ln)
			}
		}
		return out
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
