package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/uole/virga/pkg/multiplex"
	"gopkg.in/yaml.v3"
)

const (
	ProtoVsock = "vsock"
	ProtoTCP   = "tcp"
	ProtoKCP   = "kcp"
	ProtoQUIC  = "quic"
)

const (
	DefaultServerAddress    = "2:1234"
	DefaultBacklog          = 128
	DefaultChunkSize        = 1024
	DefaultDialTimeout      = time.Second * 5
	DefaultHandshakeTimeout = time.Second * 5
	DefaultKeepAlive        = time.Second * 30
	DefaultLinger           = time.Second * 3
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	Log struct {
		Level string `json:"level" yaml:"level"`
	}

	// Config is shared by both ends of a channel. ChunkSize and Ack are
	// exchanged during the handshake but otherwise unused.
	Config struct {
		ServerAddress       string        `json:"server_address" yaml:"serverAddress"`
		Backlog             int           `json:"backlog" yaml:"backlog"`
		ChunkSize           int           `json:"chunk_size" yaml:"chunkSize"`
		Ack                 bool          `json:"ack" yaml:"ack"`
		Proto               string        `json:"proto" yaml:"proto"`
		Mux                 string        `json:"mux" yaml:"mux"`
		SecretKey           string        `json:"secret_key" yaml:"secretKey"`
		Compress            bool          `json:"compress" yaml:"compress"`
		DialTimeout         time.Duration `json:"dial_timeout" yaml:"dialTimeout"`
		HandshakeTimeout    time.Duration `json:"handshake_timeout" yaml:"handshakeTimeout"`
		KeepAlive           time.Duration `json:"keep_alive" yaml:"keepAlive"`
		Linger              time.Duration `json:"linger" yaml:"linger"`
		MaxStreamWindowSize uint32        `json:"max_stream_window_size" yaml:"maxStreamWindowSize"`
		Log                 Log           `json:"log" yaml:"log"`
	}
)

// Validate reports the first unusable field.
func (c *Config) Validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("%w: empty server address", ErrInvalidConfig)
	}
	if _, _, err := net.SplitHostPort(c.ServerAddress); err != nil {
		return fmt.Errorf("%w: server address %q: %s", ErrInvalidConfig, c.ServerAddress, err.Error())
	}
	switch c.Proto {
	case ProtoVsock, ProtoTCP, ProtoKCP, ProtoQUIC:
	default:
		return fmt.Errorf("%w: unsupported proto %q", ErrInvalidConfig, c.Proto)
	}
	switch c.Mux {
	case multiplex.MuxYamux, multiplex.MuxSmux:
	default:
		return fmt.Errorf("%w: unsupported mux %q", ErrInvalidConfig, c.Mux)
	}
	if c.Backlog <= 0 {
		return fmt.Errorf("%w: backlog must be positive", ErrInvalidConfig)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("%w: negative chunk size", ErrInvalidConfig)
	}
	if c.DialTimeout < 0 || c.HandshakeTimeout < 0 || c.KeepAlive < 0 || c.Linger < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	return nil
}

// Options translates the transport fields into multiplex options.
func (c *Config) Options() []multiplex.Option {
	cbs := []multiplex.Option{
		multiplex.WithMux(c.Mux),
		multiplex.WithBacklog(c.Backlog),
		multiplex.WithKeepAlive(c.KeepAlive),
		multiplex.WithCompress(c.Compress),
	}
	if c.SecretKey != "" {
		cbs = append(cbs, multiplex.WithKey([]byte(c.SecretKey)))
	}
	if c.MaxStreamWindowSize > 0 {
		cbs = append(cbs, multiplex.WithMaxStreamWindowSize(c.MaxStreamWindowSize))
	}
	return cbs
}

func (c *Config) applyEnv() {
	if s := os.Getenv("VIRGA_SERVER_ADDRESS"); s != "" {
		c.ServerAddress = s
	}
	if s := os.Getenv("VIRGA_PROTO"); s != "" {
		c.Proto = strings.ToLower(s)
	}
	if s := os.Getenv("VIRGA_LOG_LEVEL"); s != "" {
		c.Log.Level = s
	}
}

// New returns the defaults: vsock to the host (cid 2) on port 1234.
func New() *Config {
	return &Config{
		ServerAddress:    DefaultServerAddress,
		Backlog:          DefaultBacklog,
		ChunkSize:        DefaultChunkSize,
		Proto:            ProtoVsock,
		Mux:              multiplex.MuxYamux,
		DialTimeout:      DefaultDialTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		KeepAlive:        DefaultKeepAlive,
		Linger:           DefaultLinger,
		Log:              Log{Level: "info"},
	}
}

// Load reads a yaml file over the defaults, then applies environment overrides.
func Load(path string) (cfg *Config, err error) {
	var (
		buf []byte
	)
	cfg = New()
	if buf, err = os.ReadFile(path); err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err.Error())
	}
	cfg.applyEnv()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
