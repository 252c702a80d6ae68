package amqp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amqp10/go-amqp/internal/debug"
	"github.com/amqp10/go-amqp/internal/encoding"
	"github.com/amqp10/go-amqp/internal/frames"
)

// maxTransferFrameHeader is a conservative upper bound on the bytes a
// PerformTransfer's non-payload fields can occupy, used to compute how
// much of the peer's max-frame-size is left over for message payload.
const maxTransferFrameHeader = 71

// linkKey uniquely identifies a link within a session: link names are
// shared between the two roles attached to the same address, so role is
// part of the key.
type linkKey struct {
	name string
	role encoding.Role
}

// link holds the state shared by Sender and Receiver. It is embedded,
// never used standalone.
type link struct {
	key     linkKey
	handle  uint32 // our handle for the link, assigned locally at attach
	session *Session

	source *frames.Source
	target *frames.Target

	dynamicAddr bool

	senderSettleMode   *SenderSettleMode
	receiverSettleMode *ReceiverSettleMode

	maxMessageSize uint64
	properties     map[encoding.Symbol]interface{}

	deliveryCount uint32
	linkCredit    uint32

	// messages buffers assembled deliveries for a Receiver. Unused by
	// Sender (nil, so len/cap checks in manualCreditor are always 0).
	messages chan Message

	rx chan frames.FrameBody // frames routed to this link by the session

	close    chan struct{} // closed by Close() to request a detach
	closeErr error
	detached chan struct{} // closed once the link's mux has exited
	err      error         // reason the link detached; valid once detached is closed
}

// attachLink sends a PerformAttach to the session and blocks until the
// corresponding response arrives (or the attach is refused). beforeSend
// lets the caller (Sender/Receiver) fill in the role-specific fields of
// the outgoing attach; afterReceive lets it absorb the peer's response
// (e.g. a dynamically-assigned address).
func (l *link) attachLink(ctx context.Context, s *Session, beforeSend func(*frames.PerformAttach), afterReceive func(*frames.PerformAttach)) error {
	if err := s.allocateHandle(l); err != nil {
		return err
	}

	attach := &frames.PerformAttach{
		Name:               l.key.name,
		Handle:             l.handle,
		Source:             l.source,
		Target:             l.target,
		SenderSettleMode:   l.senderSettleMode,
		ReceiverSettleMode: l.receiverSettleMode,
		MaxMessageSize:     l.maxMessageSize,
	}
	if len(l.properties) > 0 {
		attach.Properties = l.properties
	}
	if beforeSend != nil {
		beforeSend(attach)
	}

	debug.Log(context.Background(), slog.LevelDebug, "link tx attach", slog.String("link", l.key.name))
	if err := s.txFrame(attach, nil); err != nil {
		s.deleteLink(l)
		return err
	}

	select {
	case fr := <-l.rx:
		resp, ok := fr.(*frames.PerformAttach)
		if !ok {
			s.deleteLink(l)
			return fmt.Errorf("unexpected frame type %T during attach", fr)
		}
		debug.Log(context.Background(), slog.LevelDebug, "link rx attach", slog.String("link", l.key.name))

		if resp.Source == nil || (attach.Target != nil && resp.Target == nil) {
			// peer refused the attach: it echoes attach with null terminus
			// fields and follows immediately with a detach, which we must
			// consume and answer with our own closing detach before the
			// handle can be released.
			var remoteErr *encoding.Error
			select {
			case fr := <-l.rx:
				if d, ok := fr.(*frames.PerformDetach); ok {
					remoteErr = d.Error
				}
			case <-s.done:
			case <-ctx.Done():
			}
			_ = s.txFrame(&frames.PerformDetach{Handle: l.handle, Closed: true}, nil)
			s.deleteLink(l)
			return &LinkAttachRefused{RemoteError: remoteErr}
		}

		if afterReceive != nil {
			afterReceive(resp)
		}

		if resp.MaxMessageSize != 0 && (l.maxMessageSize == 0 || resp.MaxMessageSize < l.maxMessageSize) {
			l.maxMessageSize = resp.MaxMessageSize
		}
		return nil

	case <-s.done:
		s.deleteLink(l)
		return s.err

	case <-ctx.Done():
		s.deleteLink(l)
		return ctx.Err()
	}
}

// muxHandleFrame is the default handler for frames not already handled
// by Sender/Receiver's own switch. It implements detach/flow behavior
// common to both roles.
func (l *link) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformDetach:
		debug.Log(context.Background(), slog.LevelDebug, "link rx detach", slog.String("link", l.key.name))
		if !fr.Closed {
			// peer wants to detach without closing the terminus; we only
			// support full detach, so mirror it back closed.
			_ = l.session.txFrame(&frames.PerformDetach{Handle: l.handle, Closed: true}, nil)
		}
		if fr.Error != nil {
			return &DetachError{(*Error)(fr.Error)}
		}
		return &DetachError{nil}

	default:
		debug.Assert(context.Background(), false, slog.String("reason", "unexpected frame on link"), slog.Any("frame", fr))
		return fmt.Errorf("amqp: unexpected frame type %T", fr)
	}
}

// muxDetach tears the link down: notifies the session it's gone, records
// err as the detach reason (falling back to closeErr; when both are nil
// the reason already in l.err is kept), and closes detached so blocked
// callers wake up.
func (l *link) muxDetach(fr *frames.PerformDetach, err error) {
	select {
	case <-l.detached:
		return
	default:
	}

	if err != nil {
		l.err = err
	} else if l.closeErr != nil {
		l.err = l.closeErr
	}

	if fr == nil {
		fr = &frames.PerformDetach{Handle: l.handle, Closed: true}
		if de, ok := l.err.(*DetachError); ok && de.RemoteError != nil {
			fr.Error = (*encoding.Error)(de.RemoteError)
		}
	}
	_ = l.session.txFrame(fr, nil)
	l.session.deleteLink(l)

	close(l.detached)
}

// closeLink requests a graceful detach and waits for the link's mux to
// exit, or for ctx to be done.
func (l *link) closeLink(ctx context.Context) error {
	select {
	case l.close <- struct{}{}:
	case <-l.detached:
		// already detached
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-l.detached:
		if l.err == ErrLinkClosed {
			// graceful, locally-initiated close: not an error to the caller
			return nil
		}
		if de, ok := l.err.(*DetachError); ok && de.RemoteError == nil {
			// the peer detached without an error: not an error either
			return nil
		}
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
