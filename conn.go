package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/amqp10/go-amqp/internal/buffer"
	"github.com/amqp10/go-amqp/internal/debug"
	"github.com/amqp10/go-amqp/internal/encoding"
	"github.com/amqp10/go-amqp/internal/frames"
	"github.com/amqp10/go-amqp/internal/shared"
)

const (
	defaultMaxFrameSize = 65536
	defaultChannelMax   = 65535
	minMaxFrameSize     = 512
)

// frameEnvelope pairs a performative with the channel it must be written
// on; the connWriter goroutine is the only place frames are serialized
// onto the wire, so every session/link funnels through here.
type frameEnvelope struct {
	channel uint16
	body    frames.FrameBody
}

// conn multiplexes every Session/link on top of a single net.Conn. One
// goroutine each is dedicated to reading (connReader), writing
// (connWriter) and bookkeeping (mux); all cross-goroutine communication
// happens over channels, never shared mutable state without a lock.
type conn struct {
	netConn net.Conn

	containerID       string
	hostname          string
	maxFrameSize      uint32 // what we accept
	channelMax        uint16
	idleTimeout       time.Duration // what we tell the peer we require from it
	heartbeatInterval time.Duration // how often we proactively send a frame
	writeTimeout      time.Duration
	saslType          SASLType

	PeerMaxFrameSize uint32 // negotiated with the remote, read by senders
	peerChannelMax   uint16
	peerIdleTimeout  time.Duration

	txFrames chan frameEnvelope

	mu                sync.Mutex
	sessionsByChannel map[uint16]*Session
	nextChannel       uint16

	closeFrameRx chan *frames.PerformClose

	close chan struct{} // signals mux to begin a graceful close
	Done  chan struct{} // closed once conn has fully shut down
	err   error
}

// Dial connects to addr (a "host:port" or AMQP URL authority) and
// performs the protocol header, optional SASL, and open handshakes.
func Dial(ctx context.Context, addr string, opts *ConnOptions) (*Client, error) {
	dialer := net.Dialer{}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial %s: %w", addr, err)
	}
	return New(ctx, netConn, opts)
}

// New creates a Client on top of an already-established net.Conn.
func New(ctx context.Context, netConn net.Conn, opts *ConnOptions) (*Client, error) {
	c := &conn{
		netConn:           netConn,
		maxFrameSize:      defaultMaxFrameSize,
		channelMax:        defaultChannelMax,
		txFrames:          make(chan frameEnvelope),
		sessionsByChannel: make(map[uint16]*Session),
		closeFrameRx:      make(chan *frames.PerformClose, 1),
		close:             make(chan struct{}, 1),
		Done:              make(chan struct{}),
	}
	if opts != nil {
		c.containerID = opts.ContainerID
		if opts.MaxFrameSize >= minMaxFrameSize {
			c.maxFrameSize = opts.MaxFrameSize
		}
		if opts.MaxSessions > 0 {
			c.channelMax = opts.MaxSessions - 1
		}
		c.idleTimeout = opts.IdleTimeout
		c.heartbeatInterval = opts.HeartbeatInterval
		c.writeTimeout = opts.WriteTimeout
		c.saslType = opts.SASLType
	}
	if c.containerID == "" {
		c.containerID = shared.RandomName()
	}
	if host, _, err := net.SplitHostPort(netConn.RemoteAddr().String()); err == nil {
		c.hostname = host
	}

	if err := c.negotiate(ctx); err != nil {
		netConn.Close()
		return nil, err
	}

	go c.connWriter()
	go c.connReader()
	go c.mux()

	return &Client{conn: c}, nil
}

// negotiate performs the AMQP (and, if configured, SASL) protocol header
// exchange followed by open/open, blocking until the peer's Open has been
// read. ctx does not bound these reads.
func (c *conn) negotiate(ctx context.Context) error {
	if c.saslType != nil {
		if err := c.saslHandshake(ctx); err != nil {
			return err
		}
	}

	if err := writeProtoHeader(c.netConn, protoIDAMQP); err != nil {
		return err
	}
	if err := readProtoHeader(c.netConn, protoIDAMQP); err != nil {
		return err
	}

	open := &frames.PerformOpen{
		ContainerID:  c.containerID,
		Hostname:     c.hostname,
		MaxFrameSize: c.maxFrameSize,
		ChannelMax:   c.channelMax,
		IdleTimeout:  c.idleTimeout,
	}
	if err := writeFrame(c.netConn, 0, open); err != nil {
		return err
	}

	fr, err := readFrame(c.netConn)
	if err != nil {
		return err
	}
	resp, ok := fr.(*frames.PerformOpen)
	if !ok {
		return fmt.Errorf("amqp: expected open, got %T", fr)
	}
	debug.Log(context.Background(), slog.LevelDebug, "conn rx open", slog.String("container-id", resp.ContainerID))

	c.PeerMaxFrameSize = resp.MaxFrameSize
	c.peerChannelMax = resp.ChannelMax
	c.peerIdleTimeout = resp.IdleTimeout
	return nil
}

// NewSession begins a new session on the next free channel number.
func (c *conn) NewSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	c.mu.Lock()
	channelMax := c.peerChannelMax
	if c.channelMax < channelMax {
		channelMax = c.channelMax
	}
	if len(c.sessionsByChannel) > int(channelMax) {
		c.mu.Unlock()
		return nil, fmt.Errorf("amqp: reached channel-max %d", channelMax)
	}
	for {
		if c.nextChannel > channelMax {
			c.nextChannel = 0
		}
		if _, in := c.sessionsByChannel[c.nextChannel]; !in {
			break
		}
		c.nextChannel++
	}
	ch := c.nextChannel
	s := newSession(c, ch)
	if opts != nil && opts.MaxLinks > 0 {
		s.handleMax = opts.MaxLinks - 1
	}
	c.sessionsByChannel[ch] = s
	c.nextChannel++
	c.mu.Unlock()

	if err := s.begin(ctx); err != nil {
		c.deleteSession(s)
		return nil, err
	}
	return s, nil
}

func (c *conn) deleteSession(s *Session) {
	c.mu.Lock()
	delete(c.sessionsByChannel, s.channel)
	c.mu.Unlock()
}

func (c *conn) sessionByChannel(ch uint16) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessionsByChannel[ch]
	return s, ok
}

// txFrame enqueues fr for the connWriter goroutine. It returns once the
// frame has been handed off, not once it's actually on the wire.
func (c *conn) txFrame(channel uint16, fr frames.FrameBody) error {
	select {
	case c.txFrames <- frameEnvelope{channel: channel, body: fr}:
		return nil
	case <-c.Done:
		return c.err
	}
}

// Close begins a graceful connection shutdown: sends close, waits for
// the peer's close, then tears down the reader/writer/mux goroutines.
func (c *conn) Close() error {
	select {
	case c.close <- struct{}{}:
	case <-c.Done:
		return nil
	}
	<-c.Done
	if ce, ok := c.err.(*ConnectionError); ok && ce.inner == nil {
		return nil
	}
	return c.err
}

func (c *conn) connWriter() {
	for {
		select {
		case env := <-c.txFrames:
			if c.writeTimeout > 0 {
				_ = c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			debug.Log(context.Background(), slog.LevelDebug, "conn tx", slog.Uint64("channel", uint64(env.channel)), slog.Any("frame", env.body))
			if err := writeFrame(c.netConn, env.channel, env.body); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.Done:
			return
		}
	}
}

func (c *conn) connReader() {
	for {
		if c.idleTimeout > 0 {
			_ = c.netConn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		}
		fr, channel, err := readFrameOnChannel(c.netConn)
		if err != nil {
			c.shutdown(err)
			return
		}
		if fr == nil {
			// heartbeat (empty frame): nothing further to do, read deadline
			// above already accounts for liveness.
			continue
		}

		debug.Log(context.Background(), slog.LevelDebug, "conn rx", slog.Uint64("channel", uint64(channel)), slog.Any("frame", fr))

		if pc, ok := fr.(*frames.PerformClose); ok {
			select {
			case c.closeFrameRx <- pc:
			default:
			}
			continue
		}

		s, ok := c.sessionByChannel(channel)
		if !ok {
			debug.Assert(context.Background(), false, slog.String("reason", "frame for unknown channel"), slog.Uint64("channel", uint64(channel)))
			continue
		}
		select {
		case s.rx <- fr:
		case <-s.done:
			// session already gone, drop the frame
		default:
			// session's inbox is full: rather than stall every other
			// session on this connection, drop this one.
			debug.Log(context.Background(), slog.LevelWarn, "dropping session, rx full", slog.Uint64("channel", uint64(channel)))
			s.err = fmt.Errorf("amqp: session dropped, frame inbox full")
			go func() { _ = s.conn.txFrame(s.channel, &frames.PerformEnd{}) }()
			c.deleteSession(s)
		}
	}
}

func (c *conn) mux() {
	var heartbeat *time.Ticker
	var heartbeatC <-chan time.Time
	interval := c.heartbeatInterval
	if interval == 0 && c.peerIdleTimeout > 0 {
		interval = c.peerIdleTimeout / 2
	}
	if interval > 0 {
		heartbeat = time.NewTicker(interval)
		heartbeatC = heartbeat.C
		defer heartbeat.Stop()
	}

	for {
		select {
		case <-heartbeatC:
			// route through connWriter rather than writing to netConn
			// directly: it's the only goroutine allowed to touch the
			// transport, or heartbeat and data frames could interleave.
			_ = c.txFrame(0, nil)

		case <-c.close:
			_ = c.txFrame(0, &frames.PerformClose{})
			select {
			case <-c.closeFrameRx:
			case <-time.After(5 * time.Second):
			}
			c.shutdown(nil)
			return

		case pc := <-c.closeFrameRx:
			var err error
			if pc.Error != nil {
				err = (*Error)(pc.Error)
			}
			_ = c.txFrame(0, &frames.PerformClose{})
			c.shutdown(err)
			return
		}
	}
}

// shutdown closes every session waiting on the connection and tears the
// net.Conn down. Safe to call multiple times; only the first call has
// an effect.
func (c *conn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.Done:
		return
	default:
	}
	if err == nil {
		c.err = ErrConnClosed
	} else {
		c.err = newConnectionError(err)
	}
	c.netConn.Close()
	close(c.Done)
}

const (
	protoIDAMQP uint8 = 0x0
	protoIDSASL uint8 = 0x3
)

func writeProtoHeader(w net.Conn, id uint8) error {
	_, err := w.Write([]byte{'A', 'M', 'Q', 'P', id, 1, 0, 0})
	return err
}

func readProtoHeader(r net.Conn, want uint8) error {
	buf := make([]byte, 8)
	if _, err := readFull(r, buf); err != nil {
		return err
	}
	if buf[0] != 'A' || buf[1] != 'M' || buf[2] != 'Q' || buf[3] != 'P' {
		return fmt.Errorf("amqp: invalid protocol header %v", buf)
	}
	if buf[4] != want {
		return fmt.Errorf("amqp: unexpected protocol id %d, want %d", buf[4], want)
	}
	return nil
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// writeFrame marshals and writes a single AMQP frame to w. A nil body
// produces an empty (heartbeat) frame.
func writeFrame(w net.Conn, channel uint16, body frames.FrameBody) error {
	bodyBuf := buffer.New(nil)
	if body != nil {
		if err := encoding.Marshal(bodyBuf, body); err != nil {
			return err
		}
	}
	hdr := frames.Header{
		Size:       uint32(bodyBuf.Len()) + frames.HeaderSize,
		DataOffset: 2,
		FrameType:  0,
		Channel:    channel,
	}
	hdrBuf := buffer.New(nil)
	if err := encoding.Marshal(hdrBuf, hdr); err != nil {
		return err
	}
	// header and body go out in a single Write, one Write per frame
	hdrBuf.Append(bodyBuf.Bytes())
	_, err := w.Write(hdrBuf.Bytes())
	return err
}

// readFrame reads a single frame and discards its channel number; used
// only during the open handshake, before any session exists.
func readFrame(r net.Conn) (frames.FrameBody, error) {
	fr, _, err := readFrameOnChannel(r)
	return fr, err
}

// readFrameOnChannel reads one frame off r. A nil FrameBody with a nil
// error indicates an empty (heartbeat) frame.
func readFrameOnChannel(r net.Conn) (frames.FrameBody, uint16, error) {
	hdrBytes := make([]byte, frames.HeaderSize)
	if _, err := readFull(r, hdrBytes); err != nil {
		return nil, 0, err
	}
	hdr, err := frames.ParseHeader(buffer.New(hdrBytes))
	if err != nil {
		return nil, 0, err
	}

	bodySize := int(hdr.Size) - frames.HeaderSize
	if bodySize <= 0 {
		return nil, hdr.Channel, nil
	}
	body := make([]byte, bodySize)
	if _, err := readFull(r, body); err != nil {
		return nil, 0, err
	}
	fr, err := frames.ParseBody(buffer.New(body))
	if err != nil {
		return nil, 0, err
	}
	return fr, hdr.Channel, nil
}
