package nostr

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
)

// connection is a websocket connection to a relay with a write loop (which also pings) and a read
// loop that hands every message, in order, to the relay.
type connection struct {
	url          string
	conn         *ws.Conn
	writeQueue   chan writeRequest
	closed       *atomic.Bool
	closedNotify chan struct{}
	closeMutex   sync.Mutex
	closeReason  error

	stats   *relayStats
	onClose func(reason error)
}

type writeRequest struct {
	msg    []byte
	answer chan error
}

type connectionOptions struct {
	requestHeader http.Header
	tlsConfig     *tls.Config
	readLimit     int64
	pingInterval  time.Duration
	writeTimeout  time.Duration
}

func newConnection(
	ctx context.Context,
	dialCtx context.Context,
	url string,
	opts connectionOptions,
	handleMessage func(string),
	stats *relayStats,
	onClose func(reason error),
) (*connection, error) {
	debugLogf("{%s} connecting!", url)

	c, _, err := ws.Dial(dialCtx, url, getConnectionOptions(opts.requestHeader, opts.tlsConfig))
	if err != nil {
		return nil, TransportError{URL: url, Err: err}
	}

	readLimit := opts.readLimit
	if readLimit <= 0 {
		readLimit = 2 << 24 // 33MB
	}
	c.SetReadLimit(readLimit)

	pingInterval := opts.pingInterval
	if pingInterval <= 0 {
		pingInterval = 29 * time.Second
	}
	writeTimeout := opts.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	conn := &connection{
		url:          url,
		conn:         c,
		writeQueue:   make(chan writeRequest),
		closed:       &atomic.Bool{},
		closedNotify: make(chan struct{}),
		stats:        stats,
		onClose:      onClose,
	}

	// write loop, also responsible for pinging
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				debugLogf("{%s} closing!, context done: '%s'", url, context.Cause(ctx))
				conn.doClose(ws.StatusNormalClosure, context.Cause(ctx))
				return
			case <-conn.closedNotify:
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeoutCause(ctx, time.Millisecond*800, errors.New("ping took too long"))
				err := c.Ping(pingCtx)
				cancel()
				if err != nil {
					debugLogf("{%s} closing!, ping failed: '%s'", url, err)
					conn.doClose(ws.StatusAbnormalClosure, fmt.Errorf("ping failed: %w", err))
					return
				}
			case wr := <-conn.writeQueue:
				debugLogf("{%s} sending '%s'", url, wr.msg)
				writeCtx, cancel := context.WithTimeoutCause(ctx, writeTimeout, errors.New("write took too long"))
				err := c.Write(writeCtx, ws.MessageText, wr.msg)
				cancel()
				if err != nil {
					debugLogf("{%s} closing!, write failed: '%s'", url, err)
					err = TransportError{URL: url, Err: err}
					conn.doClose(ws.StatusAbnormalClosure, err)
					if wr.answer != nil {
						wr.answer <- err
					}
					return
				}
				stats.bytesSent.Add(uint64(len(wr.msg)))
				if wr.answer != nil {
					close(wr.answer)
				}
			}
		}
	}()

	// read loop, messages are handled here sequentially so ordering is kept
	go func() {
		buf := new(bytes.Buffer)

		for {
			buf.Reset()

			_, reader, err := c.Reader(ctx)
			if err != nil {
				debugLogf("{%s} closing!, reader failure: '%s'", url, err)
				conn.doClose(ws.StatusAbnormalClosure, TransportError{URL: url, Err: err})
				return
			}
			if _, err := io.Copy(buf, reader); err != nil {
				debugLogf("{%s} closing!, read failure: '%s'", url, err)
				conn.doClose(ws.StatusAbnormalClosure, TransportError{URL: url, Err: err})
				return
			}

			stats.bytesReceived.Add(uint64(buf.Len()))
			handleMessage(buf.String())
		}
	}()

	return conn, nil
}

// write queues a message and waits until it is written or the connection is gone.
func (c *connection) write(ctx context.Context, msg []byte) error {
	ch := make(chan error, 1)
	select {
	case c.writeQueue <- writeRequest{msg: msg, answer: ch}:
	case <-c.closedNotify:
		return fmt.Errorf("failed to write to %s: %w", c.url, ErrDisconnected)
	case <-ctx.Done():
		return fmt.Errorf("failed to write to %s: %w", c.url, context.Cause(ctx))
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return fmt.Errorf("failed to write to %s: %w", c.url, context.Cause(ctx))
	}
}

func (c *connection) isClosed() bool { return c.closed.Load() }

func (c *connection) close() {
	c.doClose(ws.StatusNormalClosure, errors.New("closed by client"))
}

func (c *connection) doClose(code ws.StatusCode, reason error) {
	wasClosed := c.closed.Swap(true)
	if !wasClosed {
		text := ""
		if reason != nil {
			text = reason.Error()
			if len(text) > 120 {
				text = text[0:120]
			}
		}
		c.conn.Close(code, text)

		c.closeMutex.Lock()
		c.closeReason = reason
		close(c.closedNotify)
		c.closeMutex.Unlock()

		if c.onClose != nil {
			c.onClose(reason)
		}
	}
}

func getConnectionOptions(requestHeader http.Header, tlsConfig *tls.Config) *ws.DialOptions {
	opts := &ws.DialOptions{
		HTTPHeader:      requestHeader,
		CompressionMode: ws.CompressionContextTakeover,
	}
	if tlsConfig != nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		}
	}
	return opts
}
