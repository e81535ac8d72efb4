// Package mcp is a client for an MCP bridge: an HTTP service that lists the
// tools of its MCP servers grouped by toolset and invokes them by name.
//
//	GET  {url}/mcp/tools               -> {"<toolset>": {"tools": [{name, description, inputSchema}]}}
//	POST {url}/mcp/tools/{name}/call   -> {"content": [{"type": "text", "text": "..."}]}
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

// Defaults applied by New.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultRetryMax     = 2
	DefaultRetryWaitMin = 200 * time.Millisecond
	DefaultRetryWaitMax = 2 * time.Second
)

var (
	// ErrToolNotFound indicates a tool or toolset name the bridge does not expose.
	ErrToolNotFound = errors.New("mcp tool not found")

	// ErrBridge indicates the bridge answered with a non-success status.
	ErrBridge = errors.New("mcp bridge error")
)

// Config configures the bridge client.
type Config struct {
	URL          string        `yaml:"url" validate:"omitempty,url"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	RetryMax     int           `yaml:"retry_max" validate:"gte=0"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min" validate:"gte=0"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max" validate:"gte=0"`
}

// Tool is a tool schema as published by the bridge.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

type toolset struct {
	name  string
	tools []Tool
}

// Client talks to one MCP bridge. The tool catalog is fetched by New and
// Refresh; lookups are served from that snapshot.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  *slog.Logger

	mu       sync.RWMutex
	toolsets []toolset
}

// New creates a client and fetches the tool catalog.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("mcp bridge url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = DefaultRetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = DefaultRetryWaitMax
	}

	logger := slog.Default().With("component", "mcp")

	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.RetryMax
	hc.RetryWaitMin = cfg.RetryWaitMin
	hc.RetryWaitMax = cfg.RetryWaitMax
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.Logger = logger

	c := &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    hc,
		logger:  logger,
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh reloads the tool catalog from the bridge.
func (c *Client) Refresh(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, "/mcp/tools", nil)
	if err != nil {
		return fmt.Errorf("fetch mcp tools: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("fetch mcp tools: %w: invalid json", ErrBridge)
	}

	var sets []toolset
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		set := toolset{name: key.String()}
		value.Get("tools").ForEach(func(_, t gjson.Result) bool {
			tool := Tool{
				Name:        t.Get("name").String(),
				Description: t.Get("description").String(),
			}
			if schema, ok := t.Get("inputSchema").Value().(map[string]any); ok {
				tool.InputSchema = schema
			}
			set.tools = append(set.tools, tool)
			return true
		})
		sets = append(sets, set)
		return true
	})

	c.mu.Lock()
	c.toolsets = sets
	c.mu.Unlock()
	c.logger.Debug("mcp tools loaded", "toolsets", len(sets))
	return nil
}

// Tool resolves name to tools: a toolset name yields every tool of the set,
// a tool name yields that tool. Toolsets are searched in catalog order.
func (c *Client) Tool(name string) ([]Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, set := range c.toolsets {
		if set.name == name {
			return append([]Tool(nil), set.tools...), nil
		}
		for _, t := range set.tools {
			if t.Name == name {
				return []Tool{t}, nil
			}
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrToolNotFound)
}

// ToolsFor resolves tool and toolset names to function schemas for the
// generation client.
func (c *Client) ToolsFor(names []string) ([]transport.Tool, error) {
	var out []transport.Tool
	for _, name := range names {
		tools, err := c.Tool(name)
		if err != nil {
			return nil, err
		}
		for _, t := range tools {
			out = append(out, transport.Tool{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
	}
	return out, nil
}

// CallTool invokes a tool with the JSON arguments produced by the model and
// returns the text parts of the result. Arguments that are not valid JSON
// yield an empty result rather than an error.
func (c *Client) CallTool(ctx context.Context, name, arguments string) ([]string, error) {
	if arguments == "" {
		arguments = "{}"
	}
	if !json.Valid([]byte(arguments)) {
		c.logger.Error("failed to decode tool arguments", "tool", name)
		return nil, nil
	}

	body, err := c.do(ctx, http.MethodPost, "/mcp/tools/"+url.PathEscape(name)+"/call", []byte(arguments))
	if err != nil {
		return nil, fmt.Errorf("call mcp tool %s: %w", name, err)
	}

	var texts []string
	for _, t := range gjson.GetBytes(body, `content.#(type=="text")#.text`).Array() {
		texts = append(texts, t.String())
	}
	return texts, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body any
	if payload != nil {
		body = payload
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", ErrBridge, method, path, resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
