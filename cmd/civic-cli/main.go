// civic-cli is a command-line client for interacting with a civicd node.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/civicmesh/civic-chain/config"
	"github.com/civicmesh/civic-chain/internal/identity"
	"github.com/go-resty/resty/v2"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	nodeURL := "http://127.0.0.1:8000"
	dataDir := config.DefaultDataDir()

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--node" && len(args) > 1:
			nodeURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--node="):
			nodeURL = args[0][len("--node="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := resty.New().SetBaseURL(strings.TrimRight(nodeURL, "/"))
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "health":
		cmdHealth(client)
	case "blocks":
		cmdBlocks(client, cmdArgs)
	case "addpage":
		cmdAddPage(client, cmdArgs)
	case "peers":
		cmdPeers(client, cmdArgs)
	case "network":
		cmdNetwork(client)
	case "sync":
		cmdSync(client, cmdArgs)
	case "validators":
		cmdValidators(client, cmdArgs)
	case "identity":
		cmdIdentity(cmdArgs, dataDir)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: civic-cli [global flags] <command> [flags]

Global flags:
  --node <url>       Node API endpoint (default: http://127.0.0.1:8000)
  --datadir <path>   Data directory for identity commands

Commands:
  status                          Show node status
  health                          Probe node health
  blocks [--from N] [--limit N]   Show ledger pages
  addpage <json>                  Append a page with the given JSON data
  peers                           List known peers
  peers add <url>                 Register a peer
  peers remove <url>              Drop a peer
  peers cleanup                   Drop unreachable peers
  peers discover                  Discover peers from the current set
  network                         Show network health sweep
  sync [peer-url]                 Trigger synchronization
  validators                      List registered validators
  validators add <identity> [pubkey-hex]
                                  Register a validator
  validators remove <identity>    Remove a validator
  identity init [--file <path>]   Generate and save an encrypted identity
  identity show [--file <path>]   Show the stored identity's node ID
`)
}

// fail prints an error and exits.
func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// getJSON fetches path and pretty-prints the response body.
func getJSON(client *resty.Client, path string) {
	resp, err := client.R().Get(path)
	if err != nil {
		fail("%v", err)
	}
	printBody(resp)
}

func printBody(resp *resty.Response) {
	if resp.StatusCode() != 200 {
		fail("HTTP %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	var buf interface{}
	if err := json.Unmarshal(resp.Body(), &buf); err != nil {
		fmt.Println(resp.String())
		return
	}
	out, _ := json.MarshalIndent(buf, "", "  ")
	fmt.Println(string(out))
}

func cmdStatus(client *resty.Client) {
	getJSON(client, "/api/blockchain/status")
}

func cmdHealth(client *resty.Client) {
	getJSON(client, "/api/health")
}

func cmdBlocks(client *resty.Client, args []string) {
	fs := flag.NewFlagSet("blocks", flag.ExitOnError)
	from := fs.Uint64("from", 0, "First page index")
	limit := fs.Int("limit", 10, "Maximum pages to fetch")
	fs.Parse(args)

	resp, err := client.R().
		SetQueryParam("from", fmt.Sprintf("%d", *from)).
		SetQueryParam("limit", fmt.Sprintf("%d", *limit)).
		Get("/api/blockchain/blocks")
	if err != nil {
		fail("%v", err)
	}
	printBody(resp)
}

func cmdAddPage(client *resty.Client, args []string) {
	if len(args) != 1 {
		fail("usage: civic-cli addpage '<json>'")
	}
	if !json.Valid([]byte(args[0])) {
		fail("page data is not valid JSON")
	}

	resp, err := client.R().
		SetBody(map[string]json.RawMessage{"data": json.RawMessage(args[0])}).
		Post("/api/blockchain/pages")
	if err != nil {
		fail("%v", err)
	}
	printBody(resp)
}

func cmdPeers(client *resty.Client, args []string) {
	if len(args) == 0 {
		getJSON(client, "/api/blockchain/peers")
		return
	}

	switch args[0] {
	case "add":
		if len(args) != 2 {
			fail("usage: civic-cli peers add <url>")
		}
		resp, err := client.R().
			SetBody(map[string]string{"url": args[1]}).
			Post("/api/blockchain/peers")
		if err != nil {
			fail("%v", err)
		}
		printBody(resp)
	case "remove":
		if len(args) != 2 {
			fail("usage: civic-cli peers remove <url>")
		}
		resp, err := client.R().
			SetQueryParam("url", args[1]).
			Delete("/api/blockchain/peers")
		if err != nil {
			fail("%v", err)
		}
		printBody(resp)
	case "cleanup":
		resp, err := client.R().Post("/api/blockchain/peers/cleanup")
		if err != nil {
			fail("%v", err)
		}
		printBody(resp)
	case "discover":
		resp, err := client.R().Post("/api/blockchain/peers/discover")
		if err != nil {
			fail("%v", err)
		}
		printBody(resp)
	default:
		fail("unknown peers subcommand: %s", args[0])
	}
}

func cmdNetwork(client *resty.Client) {
	getJSON(client, "/api/blockchain/network")
}

func cmdSync(client *resty.Client, args []string) {
	body := map[string]string{}
	if len(args) > 0 {
		body["peer"] = args[0]
	}
	resp, err := client.R().SetBody(body).Post("/api/blockchain/sync")
	if err != nil {
		fail("%v", err)
	}
	printBody(resp)
}

func cmdValidators(client *resty.Client, args []string) {
	if len(args) == 0 {
		getJSON(client, "/api/blockchain/validators")
		return
	}

	switch args[0] {
	case "add":
		if len(args) < 2 || len(args) > 3 {
			fail("usage: civic-cli validators add <identity> [pubkey-hex]")
		}
		body := map[string]string{"identity": args[1]}
		if len(args) == 3 {
			body["public_key"] = args[2]
		}
		resp, err := client.R().SetBody(body).Post("/api/blockchain/validators")
		if err != nil {
			fail("%v", err)
		}
		printBody(resp)
	case "remove":
		if len(args) != 2 {
			fail("usage: civic-cli validators remove <identity>")
		}
		resp, err := client.R().
			SetQueryParam("identity", args[1]).
			Delete("/api/blockchain/validators")
		if err != nil {
			fail("%v", err)
		}
		printBody(resp)
	default:
		fail("unknown validators subcommand: %s", args[0])
	}
}

func cmdIdentity(args []string, dataDir string) {
	if len(args) == 0 {
		fail("usage: civic-cli identity <init|show>")
	}

	cfg := config.Default()
	cfg.DataDir = dataDir

	fs := flag.NewFlagSet("identity", flag.ExitOnError)
	file := fs.String("file", "", "Identity key file path")
	fs.Parse(args[1:])
	path := *file
	if path == "" {
		path = cfg.IdentityFile()
	}

	switch args[0] {
	case "init":
		identityInit(path)
	case "show":
		identityShow(path)
	default:
		fail("unknown identity subcommand: %s", args[0])
	}
}

func identityInit(path string) {
	mnemonic, err := identity.GenerateMnemonic()
	if err != nil {
		fail("%v", err)
	}
	id, err := identity.FromMnemonic(mnemonic)
	if err != nil {
		fail("%v", err)
	}
	defer id.Zero()

	pass := readNewPassphrase()
	if err := identity.Save(id, path, pass, identity.DefaultParams()); err != nil {
		fail("%v", err)
	}

	fmt.Printf("Identity saved to %s\n", path)
	fmt.Printf("Node ID: %s\n\n", id.NodeID())
	fmt.Println("Recovery mnemonic (write it down, it is shown only once):")
	fmt.Println()
	fmt.Printf("  %s\n", mnemonic)
}

func identityShow(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fail("%v", err)
	}
	var kf struct {
		NodeID    string `json:"node_id"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &kf); err != nil {
		fail("parse identity file: %v", err)
	}
	fmt.Printf("File:     %s\n", path)
	fmt.Printf("Node ID:  %s\n", kf.NodeID)
	fmt.Printf("Created:  %s\n", kf.CreatedAt)
}

// readNewPassphrase prompts twice and requires a match.
func readNewPassphrase() []byte {
	fmt.Fprint(os.Stderr, "New passphrase: ")
	p1, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fail("read passphrase: %v", err)
	}
	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	p2, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fail("read passphrase: %v", err)
	}
	if string(p1) != string(p2) {
		fail("passphrases do not match")
	}
	if len(p1) == 0 {
		fail("empty passphrase")
	}
	return p1
}
