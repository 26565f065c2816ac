//go:build p2p

package main

import (
	crand "crypto/rand"
	"flag"
	"fmt"
	"os"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/zrxmesh/ordermesh/internal/p2p"
)

func main() {
	var (
		out   string
		force bool
	)
	flag.StringVar(&out, "out", "p2p.key", "Output path for the node identity key")
	flag.BoolVar(&force, "force", false, "Overwrite an existing key file")
	flag.Parse()

	if out == "" {
		fmt.Fprintln(os.Stderr, "empty -out path")
		os.Exit(2)
	}
	if !force {
		if _, err := os.Stat(out); err == nil {
			fmt.Fprintf(os.Stderr, "%s exists; use -force to overwrite\n", out)
			os.Exit(2)
		}
	}

	priv, _, err := p2pcrypto.GenerateEd25519Key(crand.Reader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if err := p2p.SaveIdentity(out, priv); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	id, err := p2p.PeerID(priv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Printf("wrote %s\npeer id: %s\n", out, id.String())
}
