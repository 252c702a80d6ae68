package frames

import (
	"testing"

	"github.com/amqp10/go-amqp/internal/buffer"
	"github.com/amqp10/go-amqp/internal/encoding"
	"github.com/google/go-cmp/cmp"
)

func roundTrip(t *testing.T, body FrameBody) FrameBody {
	t.Helper()

	wr := buffer.New(nil)
	if err := encoding.Marshal(wr, body); err != nil {
		t.Fatalf("marshal: %v", err)
	}

	buf := buffer.New(wr.Detach())
	parsed, err := ParseBody(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return parsed
}

func TestPerformOpenRoundTrip(t *testing.T) {
	channelMax := uint16(100)
	open := &PerformOpen{
		ContainerID:  "container-1",
		Hostname:     "broker.example.com",
		MaxFrameSize: 65536,
		ChannelMax:   channelMax,
		Properties:   map[encoding.Symbol]interface{}{"product": "go-amqp"},
	}

	got := roundTrip(t, open)
	if diff := cmp.Diff(open, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPerformBeginRoundTrip(t *testing.T) {
	remoteChannel := uint16(2)
	begin := &PerformBegin{
		RemoteChannel:  &remoteChannel,
		NextOutgoingID: 1,
		IncomingWindow: 500,
		OutgoingWindow: 500,
		HandleMax:      10,
	}

	got := roundTrip(t, begin)
	if diff := cmp.Diff(begin, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPerformAttachRoundTrip(t *testing.T) {
	sndMode := encoding.SenderSettleModeUnsettled
	attach := &PerformAttach{
		Name:   "test-link",
		Handle: 3,
		Role:   encoding.RoleSender,
		Source: &Source{
			Address:      "queue-1",
			Durable:      encoding.DurabilityUnsettledState,
			ExpiryPolicy: encoding.ExpirySessionEnd,
		},
		SenderSettleMode: &sndMode,
		MaxMessageSize:   1024,
	}

	got := roundTrip(t, attach)
	if diff := cmp.Diff(attach, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPerformFlowRoundTrip(t *testing.T) {
	handle := uint32(1)
	deliveryCount := uint32(5)
	linkCredit := uint32(50)
	flow := &PerformFlow{
		IncomingWindow: 100,
		NextOutgoingID: 2,
		OutgoingWindow: 100,
		Handle:         &handle,
		DeliveryCount:  &deliveryCount,
		LinkCredit:     &linkCredit,
		Drain:          true,
	}

	got := roundTrip(t, flow)
	if diff := cmp.Diff(flow, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPerformDispositionRoundTrip(t *testing.T) {
	disp := &PerformDisposition{
		Role:    encoding.RoleReceiver,
		First:   4,
		Settled: true,
		State:   &encoding.StateAccepted{},
	}

	got := roundTrip(t, disp)
	if diff := cmp.Diff(disp, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPerformDetachRoundTrip(t *testing.T) {
	detach := &PerformDetach{
		Handle: 7,
		Closed: true,
	}

	got := roundTrip(t, detach)
	if diff := cmp.Diff(detach, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Size: 42, DataOffset: 2, FrameType: 0, Channel: 1}

	wr := buffer.New(nil)
	if err := h.Marshal(wr); err != nil {
		t.Fatalf("marshal: %v", err)
	}

	buf := buffer.New(wr.Detach())
	got, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
