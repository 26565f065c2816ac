package mesh

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zrxmesh/ordermesh/internal/zeroex"
)

// Config is the node's full runtime configuration. Values come from an
// optional config file merged with MESH_* environment variables; command
// line flags override on top in main.
type Config struct {
	Chain   ChainConfig   `mapstructure:"chain"`
	Node    NodeConfig    `mapstructure:"node"`
	P2P     P2PConfig     `mapstructure:"p2p"`
	API     APIConfig     `mapstructure:"api"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Sinks   SinkConfig    `mapstructure:"sinks"`
}

type ChainConfig struct {
	ID       int64  `mapstructure:"id"`
	Exchange string `mapstructure:"exchange"`
}

type NodeConfig struct {
	DataDir        string        `mapstructure:"data_dir"`
	StoreCapacity  int           `mapstructure:"store_capacity"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	MaxValidations int64         `mapstructure:"max_validations"`
	PeerBacklog    int64         `mapstructure:"peer_backlog"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
	BusSize        int           `mapstructure:"bus_size"`
}

type P2PConfig struct {
	Enable    bool     `mapstructure:"enable"`
	Listen    []string `mapstructure:"listen"`
	Bootnodes []string `mapstructure:"bootnodes"`
	NAT       bool     `mapstructure:"nat"`
	Identity  string   `mapstructure:"identity"`
	Sync      bool     `mapstructure:"sync"`
}

type APIConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
}

type MonitorConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
}

type SinkConfig struct {
	WebhookURL   string   `mapstructure:"webhook_url"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
}

func defaults() map[string]any {
	return map[string]any{
		"chain.id":             int64(1),
		"chain.exchange":       "0x61935cbdd02287b511119ddb11aeb42f1593b7ef",
		"node.data_dir":        "data",
		"node.store_capacity":  16384,
		"node.sweep_interval":  5 * time.Second,
		"node.max_validations": int64(32),
		"node.peer_backlog":    int64(256),
		"node.drain_timeout":   10 * time.Second,
		"node.bus_size":        256,
		"p2p.enable":           false,
		"p2p.listen":           []string{},
		"p2p.bootnodes":        []string{},
		"p2p.nat":              false,
		"p2p.identity":         "",
		"p2p.sync":             true,
		"api.enable":           true,
		"api.addr":             ":60557",
		"monitor.enable":       true,
		"monitor.addr":         ":9100",
		"sinks.webhook_url":    "",
		"sinks.kafka_brokers":  []string{},
		"sinks.kafka_topic":    "mesh.orders",
	}
}

// LoadConfig reads the optional config file at path and applies MESH_*
// environment overrides (MESH_NODE_STORE_CAPACITY => node.store_capacity).
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config decode: %w", err)
	}
	return cfg, cfg.validate()
}

// DefaultConfig returns the built-in defaults without touching files or env.
func DefaultConfig() Config {
	return Config{
		Chain: ChainConfig{ID: 1, Exchange: "0x61935cbdd02287b511119ddb11aeb42f1593b7ef"},
		Node: NodeConfig{
			DataDir:        "data",
			StoreCapacity:  16384,
			SweepInterval:  5 * time.Second,
			MaxValidations: 32,
			PeerBacklog:    256,
			DrainTimeout:   10 * time.Second,
			BusSize:        256,
		},
		P2P:     P2PConfig{Sync: true},
		API:     APIConfig{Enable: true, Addr: ":60557"},
		Monitor: MonitorConfig{Enable: true, Addr: ":9100"},
		Sinks:   SinkConfig{KafkaTopic: "mesh.orders"},
	}
}

func (c Config) validate() error {
	if c.Chain.ID <= 0 {
		return fmt.Errorf("chain.id must be positive, got %d", c.Chain.ID)
	}
	if c.Node.StoreCapacity <= 0 {
		return fmt.Errorf("node.store_capacity must be positive, got %d", c.Node.StoreCapacity)
	}
	if c.Node.SweepInterval <= 0 {
		return fmt.Errorf("node.sweep_interval must be positive, got %s", c.Node.SweepInterval)
	}
	if c.Node.MaxValidations <= 0 {
		return fmt.Errorf("node.max_validations must be positive, got %d", c.Node.MaxValidations)
	}
	return nil
}

// Filter derives the order filter that scopes gossip, sync and validation.
func (c Config) Filter() zeroex.OrderFilter {
	return zeroex.OrderFilter{
		ChainID:           c.Chain.ID,
		ExchangeAddress:   c.Chain.Exchange,
		CustomOrderSchema: zeroex.DefaultOrderSchema,
	}
}
