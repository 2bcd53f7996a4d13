// Package castclient pushes casts to a peer cast receiver over its /cast
// HTTP routes.
package castclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/model"
)

const (
	httpClientTimeout = 10 * time.Second
	httpDialTimeout   = 5 * time.Second
	httpKeepAlive     = 30 * time.Second
	maxReply          = 1 << 20
)

var httpTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   httpDialTimeout,
		KeepAlive: httpKeepAlive,
	}).DialContext,
	ResponseHeaderTimeout: httpClientTimeout,
	IdleConnTimeout:       90 * time.Second,
}

// Info is the descriptor served at /cast/info.
type Info struct {
	DeviceName   string   `json:"deviceName"`
	DeviceModel  string   `json:"deviceModel"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
}

type contentBody struct {
	ContentID      int64  `json:"aid"`
	PartID         int64  `json:"cid"`
	EpisodeID      int64  `json:"epid,omitempty"`
	Title          string `json:"title,omitempty"`
	Uploader       string `json:"upName,omitempty"`
	CoverURL       string `json:"cover,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	StartPosition  int    `json:"position,omitempty"`
	DanmakuEnabled bool   `json:"danmaku,omitempty"`
}

type Client struct {
	base  string
	retry *retryablehttp.Client
}

type Option func(*retryablehttp.Client)

// WithRetryWait bounds the backoff between attempts.
func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryWaitMin, c.RetryWaitMax = minWait, maxWait
	}
}

// New returns a client for the receiver at baseURL, e.g. http://10.0.0.2:9959.
// Failed requests are retried up to retryMax times.
func New(baseURL string, retryMax int, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.Logger = nil
	retryClient.HTTPClient = &http.Client{Timeout: httpClientTimeout, Transport: httpTransport}
	for _, opt := range opts {
		opt(retryClient)
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), retry: retryClient}
}

// ForDevice builds a client for a receiver found by discovery.
func ForDevice(dev model.Device, retryMax int, opts ...Option) *Client {
	return New(fmt.Sprintf("http://%s", dev.HostPort()), retryMax, opts...)
}

func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	err := c.do(ctx, http.MethodGet, "/cast/info", nil, &info)
	return info, err
}

func (c *Client) Status(ctx context.Context) (model.CastingState, error) {
	var st model.CastingState
	err := c.do(ctx, http.MethodGet, "/cast/status", nil, &st)
	return st, err
}

func (c *Client) Play(ctx context.Context, url, title string) error {
	return c.do(ctx, http.MethodPost, "/cast/play", map[string]string{"url": url, "title": title}, nil)
}

func (c *Client) PlayContent(ctx context.Context, meta model.VideoMetadata) error {
	return c.do(ctx, http.MethodPost, "/cast/bilibili", contentBody{
		ContentID:      meta.ContentID,
		PartID:         meta.PartID,
		EpisodeID:      meta.EpisodeID,
		Title:          meta.Title,
		Uploader:       meta.Uploader,
		CoverURL:       meta.CoverURL,
		Duration:       meta.Duration,
		StartPosition:  meta.StartPosition,
		DanmakuEnabled: meta.DanmakuEnabled,
	}, nil)
}

// Control sends a transport action with optional parameters.
func (c *Client) Control(ctx context.Context, action string, params map[string]any) error {
	body := map[string]any{"action": action}
	for k, v := range params {
		body[k] = v
	}
	return c.do(ctx, http.MethodPost, "/cast/control", body, nil)
}

// Send pushes cmd to the receiver using the route that carries it.
func (c *Client) Send(ctx context.Context, cmd model.CastCommand) error {
	switch cmd.Kind {
	case model.CmdPlay:
		return c.Play(ctx, cmd.URL, cmd.Title)
	case model.CmdPlayContent:
		if cmd.Metadata == nil {
			return casterr.ErrUnsupportedFormat
		}
		return c.PlayContent(ctx, *cmd.Metadata)
	case model.CmdResume:
		return c.Control(ctx, "play", nil)
	case model.CmdPause:
		return c.Control(ctx, "pause", nil)
	case model.CmdStop:
		return c.Control(ctx, "stop", nil)
	case model.CmdSeek:
		return c.Control(ctx, "seek", map[string]any{"time": cmd.Position})
	case model.CmdSetVolume:
		return c.Control(ctx, "volume", map[string]any{"level": cmd.Level})
	}
	return casterr.ErrUnsupportedFormat
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return casterr.CommandFailed(err.Error())
		}
		body = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return casterr.CommandFailed(err.Error())
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.retry.Do(req)
	if err != nil {
		log.CtxError(ctx, "%s %s fail: %s", method, path, err)
		return casterr.Network(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReply))
	if err != nil {
		return casterr.Network(err)
	}
	if resp.StatusCode/100 != 2 {
		return casterr.CommandFailed(fmt.Sprintf("%s %s: %s", method, path, resp.Status))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return casterr.ErrInvalidResponse
		}
	}
	log.CtxDebug(ctx, "%s %s ok", method, path)
	return nil
}
