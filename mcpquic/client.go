package mcpquic

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"
)

// Client is one MCP session over one QUIC connection. The zero Client is
// closed.
type Client struct {
	conn    *quic.Conn
	stream  *quic.Stream
	session *mcp.ClientSession
}

type dialConfig struct {
	tls       *tls.Config
	name      string
	handshake time.Duration
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

// WithClientTLS sets the TLS configuration. Default: ClientTLSConfig(false).
func WithClientTLS(cfg *tls.Config) DialOption { return func(c *dialConfig) { c.tls = cfg } }

// WithClientName sets the implementation name sent in the MCP handshake.
func WithClientName(name string) DialOption { return func(c *dialConfig) { c.name = name } }

// WithHandshakeTimeout bounds the MCP initialize exchange. Default 10s.
func WithHandshakeTimeout(d time.Duration) DialOption {
	return func(c *dialConfig) { c.handshake = d }
}

// Dial connects to addr, opens the session stream with the magic bytes and
// runs the MCP initialize handshake.
func Dial(ctx context.Context, addr string, opts ...DialOption) (*Client, error) {
	cfg := dialConfig{name: "flowkeeper-client", handshake: 10 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.tls == nil {
		cfg.tls = ClientTLSConfig(false)
	}

	conn, err := quic.DialAddr(ctx, addr, cfg.tls, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: dial %s: %w", addr, err)
	}
	if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
		conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported ALPN")
		return nil, fmt.Errorf("%w: got %q", ErrUnsupportedALPN, alpn)
	}

	c := &Client{conn: conn}
	if c.stream, err = conn.OpenStreamSync(ctx); err != nil {
		c.abort()
		return nil, &ConnectionError{RemoteAddr: addr, Code: ConnErrorProtocolViolation, Err: err}
	}
	if err := SendMagicBytes(c.stream); err != nil {
		c.abort()
		return nil, &ConnectionError{RemoteAddr: addr, Code: ConnErrorProtocolViolation, Err: err}
	}

	hctx, cancel := context.WithTimeout(ctx, cfg.handshake)
	defer cancel()
	impl := &mcp.Implementation{Name: cfg.name, Version: "1.0.0"}
	c.session, err = mcp.NewClient(impl, nil).Connect(hctx, &mcp.IOTransport{
		Reader: io.NopCloser(c.stream),
		Writer: streamWriteCloser{c.stream},
	}, nil)
	if err != nil {
		c.abort()
		return nil, fmt.Errorf("mcpquic: handshake with %s: %w", addr, err)
	}
	return c, nil
}

// ToolError is a call the server answered with a tool-level failure.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcpquic: tool %s failed: %s", e.Tool, e.Message)
}

// Tools returns every tool the server exposes, following pagination.
func (c *Client) Tools(ctx context.Context) ([]*mcp.Tool, error) {
	if c.session == nil {
		return nil, ErrConnectionClosed
	}
	var out []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Tools...)
		if res.NextCursor == "" {
			return out, nil
		}
		params.Cursor = res.NextCursor
	}
}

// Call invokes a tool with args marshalled as JSON arguments. When out is
// non-nil the text result is decoded into it; a *json.RawMessage keeps it
// verbatim. A tool-level failure is returned as *ToolError.
func (c *Client) Call(ctx context.Context, name string, args, out any) error {
	if c.session == nil {
		return ErrConnectionClosed
	}
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return fmt.Errorf("mcpquic: call %s: %w", name, err)
	}
	text := resultText(res)
	if res.IsError {
		return &ToolError{Tool: name, Message: text}
	}
	if out == nil {
		return nil
	}
	if text == "" {
		return fmt.Errorf("mcpquic: call %s: empty result", name)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("mcpquic: decode %s result: %w", name, err)
	}
	return nil
}

// Ping checks the session is alive.
func (c *Client) Ping(ctx context.Context) error {
	if c.session == nil {
		return ErrConnectionClosed
	}
	return c.session.Ping(ctx, nil)
}

// Close ends the session and the connection. Calls after Close return
// ErrConnectionClosed.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	c.abort()
	return nil
}

func (c *Client) abort() {
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	if c.conn != nil {
		c.conn.CloseWithError(ConnErrorNoError, "client closing")
		c.conn = nil
	}
}

func resultText(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}
