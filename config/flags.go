package config

import (
	"flag"
	"fmt"
	"os"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string

	// P2P
	P2P          bool
	Host         string
	Port         int
	Bootstrap    string
	AutoDiscover bool
	SyncInterval int
	NoBroadcast  bool

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetP2P          bool
	SetAutoDiscover bool
	SetNoBroadcast  bool
	SetLogJSON      bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("civicd", flag.ContinueOnError)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")

	fs.BoolVar(&f.P2P, "p2p", true, "Enable P2P networking")
	fs.StringVar(&f.Host, "host", "", "HTTP API bind host")
	fs.IntVar(&f.Port, "port", 0, "HTTP API bind port")
	fs.StringVar(&f.Bootstrap, "bootstrap", "", "Comma-separated bootstrap node URLs")
	fs.BoolVar(&f.AutoDiscover, "auto-discover", true, "Discover peers from bootstrap nodes on startup")
	fs.IntVar(&f.SyncInterval, "sync-interval", 0, "Periodic sync interval in seconds")
	fs.BoolVar(&f.NoBroadcast, "no-broadcast", false, "Do not push new blocks to peers")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Log in JSON format")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Track which bool flags were set explicitly so defaults don't clobber
	// config-file values.
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "p2p":
			f.SetP2P = true
		case "auto-discover":
			f.SetAutoDiscover = true
		case "no-broadcast":
			f.SetNoBroadcast = true
		case "log-json":
			f.SetLogJSON = true
		}
	})

	f.Args = fs.Args()
	return f
}

// ApplyFlags applies command-line flags to a Config struct.
// Flags take precedence over file configuration.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.SetP2P {
		cfg.P2P.Enabled = f.P2P
	}
	if f.Host != "" {
		cfg.P2P.Host = f.Host
	}
	if f.Port != 0 {
		cfg.P2P.Port = f.Port
	}
	if f.Bootstrap != "" {
		cfg.P2P.BootstrapNodes = parseStringList(f.Bootstrap)
	}
	if f.SetAutoDiscover {
		cfg.P2P.AutoDiscover = f.AutoDiscover
	}
	if f.SyncInterval > 0 {
		cfg.P2P.SyncInterval = f.SyncInterval
	}
	if f.SetNoBroadcast {
		cfg.P2P.BroadcastBlocks = !f.NoBroadcast
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// Load builds the effective configuration: defaults, then config file,
// then command-line flags.
func Load() (*Config, *Flags, error) {
	f := ParseFlags()

	cfg := Default()
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	confPath := f.Config
	if confPath == "" {
		confPath = cfg.ConfigFile()
	}
	values, err := LoadFile(confPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config file %s: %w", confPath, err)
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		return nil, nil, err
	}

	ApplyFlags(cfg, f)

	if err := Validate(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, f, nil
}
