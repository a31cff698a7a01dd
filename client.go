package virga

import (
	"context"
	"fmt"

	"github.com/uole/virga/config"
)

// Client is the dialing end of a channel, used as an io.ReadWriter.
type Client struct {
	adapter
	cfg     *config.Config
	channel *MultiplexedChannel
}

func (c *Client) Config() *config.Config {
	return c.cfg
}

// ID identifies the underlying channel; the server sees it as Server.ID.
func (c *Client) ID() string {
	return c.channel.ID()
}

func (c *Client) Connect() error {
	return c.ConnectContext(context.Background())
}

// ConnectContext dials cfg.ServerAddress. ctx bounds connection setup only.
func (c *Client) ConnectContext(ctx context.Context) (err error) {
	var (
		ep Endpoint
	)
	if ep, err = ParseEndpoint(c.cfg.ServerAddress); err != nil {
		return fmt.Errorf("%w: %s", config.ErrInvalidConfig, err.Error())
	}
	if err = c.channel.Connect(ctx, ep); err != nil {
		return
	}
	c.connected = true
	c.readBuffer = nil
	c.readTotalLen = 0
	return
}

// NewClient returns a disconnected client. A nil cfg means config.New().
func NewClient(cfg *config.Config) *Client {
	if cfg == nil {
		cfg = config.New()
	}
	ch := NewChannel(cfg)
	return &Client{
		adapter: adapter{channel: ch},
		cfg:     cfg,
		channel: ch,
	}
}
