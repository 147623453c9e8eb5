package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// ServerAddrTLS is the Twitch IRC endpoint for the raw TLS transport.
	ServerAddrTLS = "irc.chat.twitch.tv:6697"
	// ServerURLWS is the Twitch IRC endpoint for the WebSocket transport.
	ServerURLWS = "wss://irc-ws.chat.twitch.tv"

	capRequest = "CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership"

	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second

	// Twitch pings roughly every five minutes; a silent connection past
	// this deadline is considered dead.
	defaultReadTimeout = 5 * time.Minute
)

// Conn is a single chat connection. One goroutine owns ReadMessage; writes
// may come from any goroutine and are serialized so lines never interleave.
type Conn struct {
	nc          net.Conn
	reader      *bufio.Reader
	writeMu     sync.Mutex
	readTimeout time.Duration
}

// Dial connects using the given transport ("tls" or "ws"). The WebSocket
// connection is bound to ctx: cancelling it fails all pending reads and
// writes, which is how the gateway tears a connection down.
func Dial(ctx context.Context, transport string) (*Conn, error) {
	switch transport {
	case "", "tls":
		d := tls.Dialer{
			NetDialer: &net.Dialer{Timeout: dialTimeout},
			Config:    &tls.Config{MinVersion: tls.VersionTLS12},
		}
		nc, err := d.DialContext(ctx, "tcp", ServerAddrTLS)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ServerAddrTLS, err)
		}
		return NewConn(nc), nil
	case "ws":
		ws, _, err := websocket.Dial(ctx, ServerURLWS, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ServerURLWS, err)
		}
		return NewConn(websocket.NetConn(ctx, ws, websocket.MessageText)), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// NewConn wraps an established transport connection.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc:          nc,
		reader:      bufio.NewReader(nc),
		readTimeout: defaultReadTimeout,
	}
}

// Login authenticates and requests the tag/command/membership capabilities.
func (c *Conn) Login(pass, nick string) error {
	if err := c.SendRaw("PASS " + pass); err != nil {
		return err
	}
	if err := c.SendRaw("NICK " + nick); err != nil {
		return err
	}
	return c.SendRaw(capRequest)
}

// Join enters a channel.
func (c *Conn) Join(channel string) error {
	return c.SendRaw("JOIN #" + NormalizeChannel(channel))
}

// Privmsg sends a chat line, optionally threaded under a parent message id.
func (c *Conn) Privmsg(channel, text, replyParentID string) error {
	ch := "#" + NormalizeChannel(channel)
	if replyParentID != "" {
		return c.SendRaw(fmt.Sprintf("@reply-parent-msg-id=%s PRIVMSG %s :%s", replyParentID, ch, text))
	}
	return c.SendRaw(fmt.Sprintf("PRIVMSG %s :%s", ch, text))
}

// SendRaw writes one CRLF-terminated line under the write lock.
func (c *Conn) SendRaw(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if _, err := c.nc.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("write %q: %w", firstWord(line), err)
	}
	return nil
}

// ReadMessage returns the next parsed line. PING is answered inline and
// never surfaces.
func (c *Conn) ReadMessage() (Message, error) {
	for {
		if c.readTimeout > 0 {
			if err := c.nc.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
				return Message{}, err
			}
		}
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return Message{}, fmt.Errorf("read: %w", err)
		}
		msg := ParseLine(strings.TrimRight(line, "\r\n"))

		if msg.Command == "PING" {
			payload := msg.Trailing
			if payload == "" && len(msg.Params) > 0 {
				payload = msg.Params[0]
			}
			if err := c.SendRaw("PONG :" + payload); err != nil {
				return Message{}, err
			}
			continue
		}
		return msg, nil
	}
}

// Close shuts the transport down.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// firstWord keeps credentials out of write error messages (a failed PASS
// would otherwise embed the token).
func firstWord(line string) string {
	if w, _, ok := strings.Cut(line, " "); ok {
		return w
	}
	return line
}
