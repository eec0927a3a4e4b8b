// Civic ledger full node daemon.
//
// Usage:
//
//	civicd [--datadir=... --port=...] Run node
//	civicd --help                     Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/civicmesh/civic-chain/config"
	"github.com/civicmesh/civic-chain/internal/identity"
	"github.com/civicmesh/civic-chain/internal/log"
	"github.com/civicmesh/civic-chain/internal/node"
	"golang.org/x/term"
)

const version = "0.1.0"

func main() {
	cfg, flags, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if flags.Help {
		printHelp()
		return
	}
	if flags.Version {
		fmt.Printf("civicd %s\n", version)
		return
	}

	if err := os.MkdirAll(cfg.LogsDir(), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = filepath.Join(cfg.LogsDir(), "civicd.log")
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	id, err := loadIdentity(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}

// loadIdentity decrypts the node identity when the key file exists. The
// passphrase comes from CIVIC_PASSPHRASE or an interactive prompt. A
// missing key file means the node runs anonymously.
func loadIdentity(cfg *config.Config) (*identity.Identity, error) {
	path := cfg.IdentityFile()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	pass := []byte(os.Getenv("CIVIC_PASSPHRASE"))
	if len(pass) == 0 {
		fmt.Fprintf(os.Stderr, "Passphrase for %s: ", path)
		p, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		pass = p
	}

	id, err := identity.Load(path, pass)
	for i := range pass {
		pass[i] = 0
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

func printHelp() {
	fmt.Print(`civicd - civic ledger node daemon

Usage:
  civicd [options]

Options:
  --datadir=<dir>        Data directory path
  --config=<file>        Config file path
  --p2p=<bool>           Enable P2P networking (default true)
  --host=<host>          HTTP API bind host
  --port=<port>          HTTP API bind port (default 8000)
  --bootstrap=<urls>     Comma-separated bootstrap node URLs
  --auto-discover=<bool> Discover peers from bootstrap nodes on startup
  --sync-interval=<sec>  Periodic sync interval in seconds (default 30)
  --no-broadcast         Do not push new blocks to peers
  --log-level=<level>    Log level: debug, info, warn, error
  --log-file=<file>      Log file path
  --log-json             Log in JSON format
  --version              Show version information
  --help                 Show this help

Environment:
  CIVIC_PASSPHRASE       Identity key passphrase (skips the prompt)
`)
}
