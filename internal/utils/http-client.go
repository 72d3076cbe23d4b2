package utils

import (
	"net/http"
	"net/url"
	"time"
)

type HTTPClientConfig struct {
	Timeout   time.Duration
	KATimeout time.Duration
	ProxyURL  string
	UserAgent string
	Referer   string
	Cookie    string
	Headers   map[string]string
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps http.Client with the default headers the platform expects
// on every request (User-Agent, Referer and the session cookie).
type Client struct {
	client *http.Client
	config HTTPClientConfig
}

func NewClient(cfg HTTPClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &Client{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	if c.config.Referer != "" {
		req.Header.Set("Referer", c.config.Referer)
	}
	if c.config.Cookie != "" {
		req.Header.Set("Cookie", c.config.Cookie)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}
