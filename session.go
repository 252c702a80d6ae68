package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/amqp10/go-amqp/internal/debug"
	"github.com/amqp10/go-amqp/internal/encoding"
	"github.com/amqp10/go-amqp/internal/frames"
)

// defaultWindow is the initial incoming/outgoing transfer-count window
// advertised in begin, counted in transfer frames.
const defaultWindow = 5000

// Session is a bidirectional sequence of links multiplexed over a single
// AMQP connection channel.
type Session struct {
	conn    *conn
	channel uint16 // local channel number

	rx   chan frames.FrameBody     // frames routed to this session by conn.connReader
	tx   chan frames.FrameBody     // non-transfer performatives bound for the wire
	txTransfer chan *frames.PerformTransfer // transfer frames bound for the wire

	done chan struct{} // closed when the session's mux exits
	err  error         // reason the session ended; valid once done is closed
	close chan struct{}

	mu                    sync.Mutex
	linksByKey            map[linkKey]*link
	handles               map[uint32]*link
	nextHandle            uint32
	handleMax             uint32
	deliveryIDByHandle    map[uint32]uint32 // in-flight delivery-id -> owning handle
	nextDeliveryID        uint32            // atomic, assigned to outgoing transfers
	incomingWindow        uint32
	outgoingWindow        uint32
	remoteIncomingWindow  uint32
	remoteOutgoingWindow  uint32
}

func newSession(c *conn, channel uint16) *Session {
	return &Session{
		conn:               c,
		channel:            channel,
		rx:                 make(chan frames.FrameBody, 10),
		tx:                 make(chan frames.FrameBody),
		txTransfer:         make(chan *frames.PerformTransfer),
		done:               make(chan struct{}),
		close:              make(chan struct{}),
		linksByKey:         make(map[linkKey]*link),
		handles:            make(map[uint32]*link),
		deliveryIDByHandle: make(map[uint32]uint32),
		handleMax:          4294967295 - 1,
		incomingWindow:     defaultWindow,
		outgoingWindow:     defaultWindow,
	}
}

// allocateHandle assigns l a free handle number and registers it under
// its linkKey and handle. Returns an error if handleMax is exhausted.
func (s *Session) allocateHandle(l *link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.linksByKey[l.key]; exists {
		return fmt.Errorf("link with name %q and role %v already attached", l.key.name, l.key.role)
	}

	for {
		if uint32(len(s.handles)) > s.handleMax {
			return fmt.Errorf("reached session handle-max %d", s.handleMax)
		}
		if _, in := s.handles[s.nextHandle]; !in {
			break
		}
		s.nextHandle++
	}

	l.handle = s.nextHandle
	s.handles[l.handle] = l
	s.linksByKey[l.key] = l
	s.nextHandle++
	return nil
}

func (s *Session) deleteLink(l *link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, l.handle)
	delete(s.linksByKey, l.key)
}

func (s *Session) linkByHandle(h uint32) (*link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.handles[h]
	return l, ok
}

// txFrame queues fr for transmission on the connection. done is ignored;
// every caller passes nil.
func (s *Session) txFrame(fr frames.FrameBody, done chan struct{}) error {
	select {
	case s.tx <- fr:
		return nil
	case <-s.done:
		return s.err
	}
}

// NewSender opens a new sending link on the session.
func (s *Session) NewSender(ctx context.Context, target string, opts *SenderOptions) (*Sender, error) {
	snd, err := newSender(target, s, opts)
	if err != nil {
		return nil, err
	}
	if err := snd.attach(ctx, s); err != nil {
		return nil, err
	}
	return snd, nil
}

// NewReceiver opens a new receiving link on the session.
func (s *Session) NewReceiver(ctx context.Context, source string, opts *ReceiverOptions) (*Receiver, error) {
	rcv, err := newReceiver(source, s, opts)
	if err != nil {
		return nil, err
	}
	if err := rcv.attach(ctx, s); err != nil {
		return nil, err
	}
	return rcv, nil
}

// Close ends the session, detaching any links still attached.
func (s *Session) Close(ctx context.Context) error {
	select {
	case s.close <- struct{}{}:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// begin sends a PerformBegin to the remote and waits for its response,
// then starts the session's mux.
func (s *Session) begin(ctx context.Context) error {
	begin := &frames.PerformBegin{
		NextOutgoingID: 0,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.outgoingWindow,
		HandleMax:      s.handleMax,
	}
	if err := s.conn.txFrame(s.channel, begin); err != nil {
		return err
	}

	var fr frames.FrameBody
	select {
	case fr = <-s.rx:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.conn.Done:
		return s.conn.err
	}

	resp, ok := fr.(*frames.PerformBegin)
	if !ok {
		return fmt.Errorf("unexpected frame type %T during begin", fr)
	}
	debug.Log(context.Background(), slog.LevelDebug, "session rx begin", slog.Uint64("channel", uint64(s.channel)))

	s.remoteIncomingWindow = resp.IncomingWindow
	s.remoteOutgoingWindow = resp.OutgoingWindow
	if resp.HandleMax < s.handleMax {
		s.handleMax = resp.HandleMax
	}

	go s.mux()
	return nil
}

func (s *Session) mux() {
	defer s.muxEnd()

	for {
		// a Session cannot send a transfer while remote-incoming-window is
		// zero; disable the case entirely rather than send and violate the
		// window, and keep servicing s.rx/s.tx so an incoming flow can
		// replenish the window and unblock us.
		var txTransfer chan *frames.PerformTransfer
		if s.remoteIncomingWindow > 0 {
			txTransfer = s.txTransfer
		}

		select {
		case fr := <-s.rx:
			if err := s.muxHandleFrame(fr); err != nil {
				s.err = err
				return
			}

		case fr := <-s.tx:
			if err := s.conn.txFrame(s.channel, fr); err != nil {
				s.err = err
				return
			}

		case tr := <-txTransfer:
			did := atomic.LoadUint32(&s.nextDeliveryID)
			if tr.DeliveryID != nil {
				did = *tr.DeliveryID
				s.mu.Lock()
				s.deliveryIDByHandle[did] = tr.Handle
				s.mu.Unlock()
			}
			if err := s.conn.txFrame(s.channel, tr); err != nil {
				s.err = err
				return
			}
			s.remoteIncomingWindow--

		case <-s.close:
			_ = s.conn.txFrame(s.channel, &frames.PerformEnd{})
			s.err = ErrSessionClosed
			return

		case <-s.conn.Done:
			s.err = s.conn.err
			return
		}
	}
}

func (s *Session) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformAttach:
		s.mu.Lock()
		l, ok := s.linksByKey[linkKey{fr.Name, encoding.RoleSender}]
		if !ok {
			l, ok = s.linksByKey[linkKey{fr.Name, encoding.RoleReceiver}]
		}
		s.mu.Unlock()
		if !ok {
			debug.Assert(context.Background(), false, slog.String("reason", "attach response for unknown link"), slog.String("name", fr.Name))
			return nil
		}
		select {
		case l.rx <- fr:
		case <-l.detached:
		}
		return nil

	case *frames.PerformFlow:
		s.remoteOutgoingWindow = fr.OutgoingWindow
		s.remoteIncomingWindow = fr.IncomingWindow
		if fr.Handle == nil {
			// session-level flow only, nothing to route
			return nil
		}
		l, ok := s.linkByHandle(*fr.Handle)
		if !ok {
			return nil
		}
		select {
		case l.rx <- fr:
		case <-l.detached:
		}
		return nil

	case *frames.PerformTransfer:
		l, ok := s.linkByHandle(fr.Handle)
		if !ok {
			return fmt.Errorf("amqp: transfer for unattached handle %d", fr.Handle)
		}
		select {
		case l.rx <- fr:
		case <-l.detached:
		}
		return nil

	case *frames.PerformDisposition:
		s.mu.Lock()
		handled := map[uint32]bool{}
		for id := fr.First; ; id++ {
			if h, ok := s.deliveryIDByHandle[id]; ok {
				handled[h] = true
				delete(s.deliveryIDByHandle, id)
			} else {
				debug.Log(context.Background(), slog.LevelDebug, "disposition for unknown delivery-id", slog.Uint64("id", uint64(id)))
			}
			if fr.Last == nil || id == *fr.Last {
				break
			}
		}
		s.mu.Unlock()
		for h := range handled {
			if l, ok := s.linkByHandle(h); ok {
				select {
				case l.rx <- fr:
				case <-l.detached:
				}
			}
		}
		return nil

	case *frames.PerformDetach:
		l, ok := s.linkByHandle(fr.Handle)
		if !ok {
			return nil
		}
		select {
		case l.rx <- fr:
		case <-l.detached:
		}
		return nil

	case *frames.PerformEnd:
		return nil

	default:
		debug.Assert(context.Background(), false, slog.String("reason", "unexpected frame on session"), slog.Any("frame", fr))
		return fmt.Errorf("amqp: unexpected frame type %T on session", fr)
	}
}

func (s *Session) muxEnd() {
	s.conn.deleteSession(s)
	close(s.done)
}
