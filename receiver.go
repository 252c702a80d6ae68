package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/amqp10/go-amqp/internal/buffer"
	"github.com/amqp10/go-amqp/internal/debug"
	"github.com/amqp10/go-amqp/internal/encoding"
	"github.com/amqp10/go-amqp/internal/frames"
	"github.com/amqp10/go-amqp/internal/shared"
)

// defaultLinkCredit is the link-credit automatically granted at attach
// time and re-issued after each delivered message, when ManualCredit is
// not set.
const defaultLinkCredit = 1

// Receiver receives messages on a single AMQP link.
type Receiver struct {
	link

	manualCreditor *manualCreditor
	autoSendFlow   bool
	defaultCredit  uint32

	msgBuf buffer.Buffer // accumulates a multi-frame transfer in progress
	building *Message

	// aborted carries a signal to Receive when the sender aborts a
	// multi-frame delivery in progress, rather than silently dropping it.
	aborted chan struct{}
}

// LinkName is the name of the link used for this Receiver.
func (r *Receiver) LinkName() string {
	return r.key.name
}

// MaxMessageSize is the maximum size of a single message.
func (r *Receiver) MaxMessageSize() uint64 {
	return r.maxMessageSize
}

// Address returns the link's address.
func (r *Receiver) Address() string {
	if r.source == nil {
		return ""
	}
	return r.source.Address
}

// Credit returns the maximum number of messages this Receiver can still
// accept before it must wait for more link-credit.
func (r *Receiver) Credit() int32 {
	return int32(r.linkCredit)
}

// IssueCredit adds credit to the link, beyond whatever is automatically
// maintained. It's an error to call this unless the Receiver was created
// with ReceiverOptions.ManualCredit set.
func (r *Receiver) IssueCredit(credit uint32) error {
	if r.manualCreditor == nil {
		return errors.New("amqp: IssueCredit can only be used with receiver links using manual credit management")
	}
	if err := r.manualCreditor.IssueCredit(credit, &r.link); err != nil {
		return err
	}
	return r.sendFlow(context.Background())
}

// Drain requests the sender flush any available messages and wait until
// the peer's terminal flow arrives, or ctx is done.
func (r *Receiver) Drain(ctx context.Context) error {
	if r.manualCreditor == nil {
		return errors.New("amqp: Drain can only be used with receiver links using manual credit management")
	}
	if err := r.manualCreditor.Drain(ctx, &r.link); err != nil {
		return err
	}
	return nil
}

// Receive waits for the next message to arrive, or for ctx to be done.
func (r *Receiver) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-r.messages:
		if !ok {
			return nil, r.err
		}
		if r.autoSendFlow {
			if err := r.sendFlow(ctx); err != nil {
				return nil, err
			}
		}
		return &msg, nil
	case <-r.aborted:
		return nil, ErrDeliveryAborted
	case <-r.detached:
		return nil, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcceptMessage notifies the server that the message has been accepted
// and does not require redelivery.
func (r *Receiver) AcceptMessage(ctx context.Context, msg *Message) error {
	return r.settle(ctx, msg, &encoding.StateAccepted{})
}

// RejectMessage notifies the server that the message is invalid.
func (r *Receiver) RejectMessage(ctx context.Context, msg *Message, e *Error) error {
	return r.settle(ctx, msg, &encoding.StateRejected{Error: e})
}

// ReleaseMessage releases the message back to the server, making it
// available to be redelivered to this or other links on the same source.
func (r *Receiver) ReleaseMessage(ctx context.Context, msg *Message) error {
	return r.settle(ctx, msg, &encoding.StateReleased{})
}

// ModifyMessage notifies the server that the message was not (or only
// partially) processed and is to be redelivered with the given annotations.
func (r *Receiver) ModifyMessage(ctx context.Context, msg *Message, deliveryFailed, undeliverableHere bool, annotations map[string]interface{}) error {
	state := &encoding.StateModified{
		DeliveryFailed:    deliveryFailed,
		UndeliverableHere: undeliverableHere,
	}
	if len(annotations) > 0 {
		state.MessageAnnotations = make(map[encoding.Symbol]interface{}, len(annotations))
		for k, v := range annotations {
			state.MessageAnnotations[encoding.Symbol(k)] = v
		}
	}
	return r.settle(ctx, msg, state)
}

func (r *Receiver) settle(ctx context.Context, msg *Message, state encoding.DeliveryState) error {
	if msg.deliveryID == nil {
		// already pre-settled by the sender, or settled automatically at
		// receipt because the link is in rcv-settle-mode first.
		return nil
	}
	fr := &frames.PerformDisposition{
		Role:    encoding.RoleReceiver,
		First:   *msg.deliveryID,
		Settled: true,
		State:   state,
	}
	select {
	case r.session.tx <- fr:
		return nil
	case <-r.detached:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the Receiver and AMQP link.
func (r *Receiver) Close(ctx context.Context) error {
	return r.closeLink(ctx)
}

// newReceiver creates a new receiving link and attaches it to the session.
func newReceiver(source string, s *Session, opts *ReceiverOptions) (*Receiver, error) {
	r := &Receiver{
		link: link{
			key:      linkKey{name: "", role: encoding.RoleReceiver},
			session:  s,
			close:    make(chan struct{}),
			detached: make(chan struct{}),
			source:   &frames.Source{Address: source},
			target:   new(frames.Target),
		},
		autoSendFlow:  true,
		defaultCredit: defaultLinkCredit,
	}
	r.key.name = randLinkName()

	if opts == nil {
		r.messages = make(chan Message, r.defaultCredit)
		r.aborted = make(chan struct{}, 1)
		return r, nil
	}

	for _, v := range opts.Capabilities {
		r.target.Capabilities = append(r.target.Capabilities, encoding.Symbol(v))
	}
	if opts.Durability > DurabilityUnsettledState {
		return nil, fmt.Errorf("invalid Durability %d", opts.Durability)
	}
	r.target.Durable = opts.Durability
	if opts.DynamicAddress {
		r.source.Address = ""
		r.dynamicAddr = opts.DynamicAddress
	}
	if opts.ExpiryPolicy != "" {
		if err := encoding.ValidateExpiryPolicy(opts.ExpiryPolicy); err != nil {
			return nil, err
		}
		r.target.ExpiryPolicy = opts.ExpiryPolicy
	}
	r.target.Timeout = opts.ExpiryTimeout
	if opts.Credit > 0 {
		r.defaultCredit = uint32(opts.Credit)
	}
	for _, f := range opts.Filters {
		if r.source.Filter == nil {
			r.source.Filter = make(encoding.Filter)
		}
		r.source.Filter[encoding.Symbol(f.Name)] = &encoding.DescribedType{Value: f.Value}
	}
	r.manualCreditor = nil
	if opts.ManualCredit {
		r.manualCreditor = new(manualCreditor)
		r.autoSendFlow = false
	}
	r.maxMessageSize = opts.MaxMessageSize
	if opts.Name != "" {
		r.key.name = opts.Name
	}
	if opts.Properties != nil {
		r.properties = make(map[encoding.Symbol]interface{})
		for k, v := range opts.Properties {
			if k == "" {
				return nil, errors.New("link property key must not be empty")
			}
			r.properties[encoding.Symbol(k)] = v
		}
	}
	if opts.RequestedSenderSettleMode != nil {
		if ssm := *opts.RequestedSenderSettleMode; ssm > ModeMixed {
			return nil, fmt.Errorf("invalid RequestedSenderSettleMode %d", ssm)
		}
		r.senderSettleMode = opts.RequestedSenderSettleMode
	}
	if opts.SettlementMode != nil {
		if rsm := *opts.SettlementMode; rsm > ModeSecond {
			return nil, fmt.Errorf("invalid SettlementMode %d", rsm)
		}
		r.receiverSettleMode = opts.SettlementMode
	}
	r.target.Address = opts.TargetAddress

	r.messages = make(chan Message, r.defaultCredit)
	r.aborted = make(chan struct{}, 1)
	return r, nil
}

func (r *Receiver) attach(ctx context.Context, session *Session) error {
	r.rx = make(chan frames.FrameBody, 1)

	if err := r.attachLink(ctx, session, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleReceiver
		if pa.Source == nil {
			pa.Source = new(frames.Source)
		}
		pa.Source.Dynamic = r.dynamicAddr
	}, func(pa *frames.PerformAttach) {
		if r.source == nil {
			r.source = new(frames.Source)
		}
		if r.dynamicAddr && pa.Source != nil {
			r.source.Address = pa.Source.Address
		}
	}); err != nil {
		return err
	}

	go r.mux()

	return r.sendFlow(ctx)
}

// sendFlow issues a flow frame reflecting the receiver's current credit.
// Under automatic credit management it tops link-credit back up to
// defaultCredit; under manual management it adds whatever IssueCredit
// has queued (and honors a pending Drain), per manualCreditor.FlowBits.
func (r *Receiver) sendFlow(ctx context.Context) error {
	var drain bool
	var credit uint32
	if r.manualCreditor != nil {
		drain, credit = r.manualCreditor.FlowBits()
	} else if r.linkCredit < r.defaultCredit {
		credit = r.defaultCredit - r.linkCredit
	}

	deliveryCount := r.deliveryCount
	linkCredit := r.linkCredit + credit
	fr := &frames.PerformFlow{
		Handle:         &r.handle,
		DeliveryCount:  &deliveryCount,
		LinkCredit:     &linkCredit,
		Drain:          drain,
		IncomingWindow: defaultWindow,
		OutgoingWindow: defaultWindow,
	}
	r.linkCredit = linkCredit

	select {
	case r.session.tx <- fr:
		return nil
	case <-r.detached:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Receiver) mux() {
	defer r.muxDetach(nil, nil)

	for {
		select {
		case fr := <-r.rx:
			r.err = r.muxHandleFrame(fr)
			if r.err != nil {
				return
			}
		case <-r.close:
			r.err = ErrLinkClosed
			return
		case <-r.session.done:
			r.err = r.session.err
			return
		}
	}
}

func (r *Receiver) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformTransfer:
		debug.Log(context.Background(), slog.LevelDebug, "receiver rx transfer", slog.String("link", r.key.name))
		return r.muxReceive(fr)

	case *frames.PerformFlow:
		debug.Log(context.Background(), slog.LevelDebug, "receiver rx flow", slog.Any("frame", fr))
		if fr.Echo {
			return r.sendFlow(context.Background())
		}
		return nil

	case *frames.PerformDisposition:
		// dispositions initiated by our own settle calls; nothing further
		// to do once the peer acknowledges.
		return nil

	default:
		return r.link.muxHandleFrame(fr)
	}
}

func (r *Receiver) muxReceive(fr *frames.PerformTransfer) error {
	if r.building == nil {
		r.msgBuf.Reset()
		r.building = new(Message)
		if fr.DeliveryID != nil {
			did := *fr.DeliveryID
			r.building.deliveryID = &did
		}
		r.building.Format = 0
		if fr.MessageFormat != nil {
			r.building.Format = *fr.MessageFormat
		}
		r.building.DeliveryTag = fr.DeliveryTag
		if fr.Settled {
			r.building.deliveryID = nil // pre-settled, no disposition needed
		}
	}

	if fr.Aborted {
		r.building = nil
		r.msgBuf.Reset()
		select {
		case r.aborted <- struct{}{}:
		case <-r.close:
			return ErrLinkClosed
		case <-r.session.done:
			return r.session.err
		}
		return nil
	}

	r.msgBuf.Append(fr.Payload)

	if r.maxMessageSize != 0 && uint64(r.msgBuf.Len()) > r.maxMessageSize {
		return &DetachError{&Error{Condition: ErrCondMessageSizeExceeded}}
	}

	if fr.More {
		return nil
	}

	msg := r.building
	r.building = nil
	if err := msg.Unmarshal(&r.msgBuf); err != nil {
		return err
	}
	msg.rcv = r

	r.deliveryCount++
	if r.linkCredit > 0 {
		r.linkCredit--
	}

	if receiverSettleModeValue(r.receiverSettleMode) == ModeFirst {
		if msg.deliveryID != nil {
			_ = r.session.txFrame(&frames.PerformDisposition{
				Role:    encoding.RoleReceiver,
				First:   *msg.deliveryID,
				Settled: true,
				State:   &encoding.StateAccepted{},
			}, nil)
		}
		msg.deliveryID = nil
	}

	select {
	case r.messages <- *msg:
	case <-r.close:
		return ErrLinkClosed
	case <-r.session.done:
		return r.session.err
	}
	return nil
}

// randLinkName returns a random 40-character link name.
func randLinkName() string {
	return shared.RandString(40)
}
