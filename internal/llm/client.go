// Package llm builds the OpenAI client shared by the interactors.
package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/net/proxy"
)

type ClientConfig struct {
	APIKey string
	// BaseURL overrides the default endpoint, e.g. for a compatible gateway.
	BaseURL string
	// Proxy is an optional SOCKS5 address such as 127.0.0.1:1080.
	Proxy   string
	Timeout time.Duration
}

func NewClient(cfg ClientConfig) (*openai.Client, error) {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	httpClient, err := newHTTPClient(cfg.Proxy, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	oc.HTTPClient = httpClient

	return openai.NewClientWithConfig(oc), nil
}

func newHTTPClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if socksAddr == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("dialing socks proxy %s: %w", socksAddr, err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
