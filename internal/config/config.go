package config

import (
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	envVarListenAddr           = "YACALL_LISTEN_ADDR"
	envVarStore                = "YACALL_STORE"
	envVarSQLitePath           = "YACALL_SQLITE_PATH"
	envVarPollInterval         = "YACALL_POLL_INTERVAL"
	envVarRelayURL             = "YACALL_RELAY_URL"
	envVarICEServers           = "YACALL_ICE_SERVERS"
	envVarICECandidatePoolSize = "YACALL_ICE_CANDIDATE_POOL_SIZE"
	envVarNegotiationTimeout   = "YACALL_NEGOTIATION_TIMEOUT"
	envVarLogLevel             = "YACALL_LOG_LEVEL"
	envVarLogFormat            = "YACALL_LOG_FORMAT"

	DefaultListenAddr           = ":8080"
	DefaultStore                = StoreMemory
	DefaultSQLitePath           = "yacall.db"
	DefaultPollInterval         = 250 * time.Millisecond
	DefaultRelayURL             = "ws://localhost:8080/ws"
	DefaultICECandidatePoolSize = 10
	DefaultNegotiationTimeout   = 30 * time.Second
	DefaultLogLevel             = "info"
	DefaultLogFormat            = LogFormatConsole
)

var DefaultICEServers = []string{
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

type Store string

const (
	StoreMemory Store = "memory"
	StoreSQLite Store = "sqlite"
)

type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

type Config struct {
	ListenAddr   string
	Store        Store
	SQLitePath   string
	PollInterval time.Duration

	RelayURL             string
	ICEServers           []string
	ICECandidatePoolSize uint8
	NegotiationTimeout   time.Duration

	LogLevel  string
	LogFormat LogFormat

	// Args are the positional arguments left after flags.
	Args []string
}

// Load reads the environment, then flags from args. Flags win.
func Load(name string, args []string) (Config, error) {
	return load(name, os.LookupEnv, args, os.Stderr)
}

func load(name string, lookup func(string) (string, bool), args []string, out io.Writer) (Config, error) {
	cfg := Config{
		ListenAddr:           DefaultListenAddr,
		Store:                DefaultStore,
		SQLitePath:           DefaultSQLitePath,
		PollInterval:         DefaultPollInterval,
		RelayURL:             DefaultRelayURL,
		ICEServers:           append([]string(nil), DefaultICEServers...),
		ICECandidatePoolSize: DefaultICECandidatePoolSize,
		NegotiationTimeout:   DefaultNegotiationTimeout,
		LogLevel:             DefaultLogLevel,
		LogFormat:            DefaultLogFormat,
	}

	if v, ok := lookup(envVarListenAddr); ok {
		cfg.ListenAddr = v
	}
	if v, ok := lookup(envVarStore); ok {
		cfg.Store = Store(v)
	}
	if v, ok := lookup(envVarSQLitePath); ok {
		cfg.SQLitePath = v
	}
	if v, ok := lookup(envVarPollInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid %s", envVarPollInterval)
		}
		cfg.PollInterval = d
	}
	if v, ok := lookup(envVarRelayURL); ok {
		cfg.RelayURL = v
	}
	if v, ok := lookup(envVarICEServers); ok {
		cfg.ICEServers = splitList(v)
	}
	if v, ok := lookup(envVarICECandidatePoolSize); ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid %s", envVarICECandidatePoolSize)
		}
		cfg.ICECandidatePoolSize = uint8(n)
	}
	if v, ok := lookup(envVarNegotiationTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, errors.Wrapf(err, "invalid %s", envVarNegotiationTimeout)
		}
		cfg.NegotiationTimeout = d
	}
	if v, ok := lookup(envVarLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookup(envVarLogFormat); ok {
		cfg.LogFormat = LogFormat(v)
	}

	store := string(cfg.Store)
	logFormat := string(cfg.LogFormat)

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP listen address (env "+envVarListenAddr+")")
	fs.StringVar(&store, "store", store, "Relay store: memory or sqlite (env "+envVarStore+")")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database file (env "+envVarSQLitePath+")")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "SQLite change polling interval (env "+envVarPollInterval+")")
	fs.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "Relay websocket URL (env "+envVarRelayURL+")")
	fs.StringSliceVar(&cfg.ICEServers, "ice-servers", cfg.ICEServers, "Comma-separated STUN/TURN URLs (env "+envVarICEServers+")")
	fs.Uint8Var(&cfg.ICECandidatePoolSize, "ice-candidate-pool-size", cfg.ICECandidatePoolSize, "ICE candidate pool size (env "+envVarICECandidatePoolSize+")")
	fs.DurationVar(&cfg.NegotiationTimeout, "negotiation-timeout", cfg.NegotiationTimeout, "Max wait for the remote description (env "+envVarNegotiationTimeout+")")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: trace, debug, info, warn, error (env "+envVarLogLevel+")")
	fs.StringVar(&logFormat, "log-format", logFormat, "Log format: console or json (env "+envVarLogFormat+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.Store = Store(store)
	cfg.LogFormat = LogFormat(logFormat)
	cfg.Args = fs.Args()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite store needs a database path")
		}
	default:
		return errors.Errorf("unknown store %q", c.Store)
	}
	if c.PollInterval <= 0 {
		return errors.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return errors.Wrap(err, "invalid relay url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Errorf("relay url %q must use ws or wss", c.RelayURL)
	}
	if u.Host == "" {
		return errors.Errorf("relay url %q has no host", c.RelayURL)
	}
	if c.NegotiationTimeout <= 0 {
		return errors.Errorf("negotiation timeout must be positive, got %s", c.NegotiationTimeout)
	}
	switch c.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return errors.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
