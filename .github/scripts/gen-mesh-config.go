package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zrxmesh/ordermesh/internal/mesh"
)

// Generates per-node config files for a local N-node mesh cluster with
// staggered ports. Bootnodes are left empty: peer multiaddrs only exist
// after first start, so wire them with -p2p.bootnodes at launch.
func main() {
	var (
		outDir  string
		nodes   int
		chainID int64
		apiBase int
		monBase int
		p2pBase int
	)
	flag.StringVar(&outDir, "out-dir", "", "Output directory for per-node JSON configs")
	flag.IntVar(&nodes, "nodes", 3, "Cluster size")
	flag.Int64Var(&chainID, "chain-id", 1337, "Chain id all nodes relay for")
	flag.IntVar(&apiBase, "api-base-port", 60600, "First API port; node i listens on base+i")
	flag.IntVar(&monBase, "mon-base-port", 9200, "First monitoring port")
	flag.IntVar(&p2pBase, "p2p-base-port", 31000, "First P2P listen port")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "missing --out-dir")
		os.Exit(2)
	}
	if nodes <= 0 || chainID <= 0 {
		fmt.Fprintln(os.Stderr, "invalid nodes/chain-id")
		os.Exit(2)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "mkdir:", err)
		os.Exit(1)
	}

	for i := 1; i <= nodes; i++ {
		dataDir := fmt.Sprintf("data/node%d", i)
		cfg := map[string]any{
			"chain": map[string]any{"id": chainID},
			"node":  map[string]any{"data_dir": dataDir},
			"api": map[string]any{
				"enable": true,
				"addr":   fmt.Sprintf("127.0.0.1:%d", apiBase+i),
			},
			"monitor": map[string]any{
				"enable": true,
				"addr":   fmt.Sprintf("127.0.0.1:%d", monBase+i),
			},
			"p2p": map[string]any{
				"enable":   true,
				"listen":   []string{fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", p2pBase+i)},
				"identity": filepath.Join(dataDir, "p2p.key"),
				"sync":     true,
			},
		}
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "marshal:", err)
			os.Exit(1)
		}
		path := filepath.Join(outDir, fmt.Sprintf("node%d.json", i))
		if err := os.WriteFile(path, b, 0o600); err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(1)
		}
		if _, err := mesh.LoadConfig(path); err != nil {
			fmt.Fprintln(os.Stderr, "config validate:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("wrote %d configs to %s\n", nodes, outDir)
}
