// Package ice fetches short-lived TURN/STUN credentials from the
// platform REST API. Relay credentials expire, so they are requested
// fresh before each call rather than pinned in configuration.
package ice

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/heartwire/callkit/shared"
)

// credentialsResponse is the REST body of the credential endpoint.
type credentialsResponse struct {
	Servers []iceServer `json:"iceServers"`
	TTL     int         `json:"ttl"`
}

type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// CredentialClient fetches ICE server lists with bearer auth.
type CredentialClient struct {
	logger shared.LoggerAdapter
	url    string
	token  string
}

func NewCredentialClient(logger shared.LoggerAdapter, url, token string) (*CredentialClient, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if url == "" {
		return nil, fmt.Errorf("credential endpoint URL is required")
	}
	return &CredentialClient{
		logger: logger.With(zap.String("component", "ice")),
		url:    url,
		token:  token,
	}, nil
}

// Fetch requests a fresh server list. Callers fold the result into the
// webrtc.Configuration of the next peer link.
func (c *CredentialClient) Fetch(ctx context.Context) ([]webrtc.ICEServer, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	errC := make(chan error)
	go func() {
		defer close(errC)
		errC <- fasthttp.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errC:
		if err != nil {
			return nil, fmt.Errorf("performing HTTP request: %w", err)
		}
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}

	servers, ttl, err := ParseCredentials(resp.Body())
	if err != nil {
		return nil, err
	}
	c.logger.Info("ICE credentials fetched",
		zap.Int("servers", len(servers)),
		zap.Duration("ttl", ttl),
	)
	return servers, nil
}

// ParseCredentials decodes a credential response body into pion ICE
// server entries.
func ParseCredentials(body []byte) ([]webrtc.ICEServer, time.Duration, error) {
	var parsed credentialsResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return nil, 0, fmt.Errorf("parsing credentials response: %w", err)
	}
	servers := make([]webrtc.ICEServer, 0, len(parsed.Servers))
	for _, s := range parsed.Servers {
		if len(s.URLs) == 0 {
			continue
		}
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers, time.Duration(parsed.TTL) * time.Second, nil
}
