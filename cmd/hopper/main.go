package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chainsafe/usdc-hopper/pkg/app/hopper"
	"github.com/chainsafe/usdc-hopper/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := hopper.NewServer(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "hopper exited: %v\n", err)
		os.Exit(1)
	}
}
