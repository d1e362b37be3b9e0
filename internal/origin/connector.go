package origin

import (
	"net"
	"net/http"
	"time"

	"goflare.io/tierbench/internal/config"
)

// Connector owns the pooled HTTP client used for origin calls.
// One Connector is created per process and handed to every fetcher.
type Connector struct {
	client *http.Client
}

// NewConnector 建立連線池
func NewConnector(cfg config.OriginConfig) *Connector {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &Connector{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

// Client returns the shared client.
func (c *Connector) Client() *http.Client {
	return c.client
}

// Close drops idle connections.
func (c *Connector) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
