package amqp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amqp10/go-amqp/internal/encoding"
	"github.com/amqp10/go-amqp/internal/frames"
	"github.com/amqp10/go-amqp/internal/mocks"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, extra func(frames.FrameBody) ([]byte, error)) *Client {
	netConn := mocks.NewConnection(func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(mocks.ProtoAMQP)
		case *frames.PerformOpen:
			return mocks.PerformOpen("test")
		case *frames.PerformClose:
			return mocks.PerformClose(nil)
		}
		if extra != nil {
			return extra(req)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := New(ctx, netConn, nil)
	require.NoError(t, err)
	return client
}

func TestSessionMaxLinks(t *testing.T) {
	defer leaktest.Check(t)()

	client := newTestClient(t, func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformEnd:
			return mocks.PerformEnd(nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := client.NewSession(ctx, &SessionOptions{MaxLinks: 4})
	require.NoError(t, err)
	require.EqualValues(t, 3, session.handleMax)

	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	defer leaktest.Check(t)()

	client := newTestClient(t, func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformEnd:
			return mocks.PerformEnd(nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	session, err := client.NewSession(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, session.Close(ctx))
	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}

// TestSessionTxTransferBlocksOnZeroRemoteIncomingWindow checks that the
// session withholds transfers while remote-incoming-window is exhausted,
// and resumes sending once an incoming flow replenishes it, rather than
// sending in violation of the peer's advertised window.
func TestSessionTxTransferBlocksOnZeroRemoteIncomingWindow(t *testing.T) {
	defer leaktest.Check(t)()

	var transfersSeen int32

	netConn := mocks.NewConnection(func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(mocks.ProtoAMQP)
		case *frames.PerformOpen:
			return mocks.PerformOpen("test")
		case *frames.PerformClose:
			return mocks.PerformClose(nil)
		case *frames.PerformBegin:
			// advertise just enough window for a single transfer.
			return mocks.PerformBeginWindow(0, 1)
		case *frames.PerformEnd:
			return mocks.PerformEnd(nil)
		case *frames.PerformAttach:
			attachResp, err := mocks.SenderAttach(fr.Name, 0, ModeUnsettled)
			if err != nil {
				return nil, err
			}
			flowResp, err := mocks.PerformFlow(0, 0, 10)
			if err != nil {
				return nil, err
			}
			return append(attachResp, flowResp...), nil
		case *frames.PerformTransfer:
			atomic.AddInt32(&transfersSeen, 1)
			return mocks.PerformDisposition(*fr.DeliveryID, &encoding.StateAccepted{})
		case *frames.PerformDetach:
			return mocks.PerformDetach(0, nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := New(ctx, netConn, nil)
	require.NoError(t, err)

	session, err := client.NewSession(ctx, nil)
	require.NoError(t, err)

	mode := ModeUnsettled
	sender, err := session.NewSender(ctx, "test-target", &SenderOptions{SettlementMode: &mode})
	require.NoError(t, err)

	// the window is 1: this send consumes it.
	require.NoError(t, sender.Send(ctx, NewMessage([]byte("first"))))
	require.EqualValues(t, 1, atomic.LoadInt32(&transfersSeen))

	// the window is now 0: a second send must block rather than go out.
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sender.Send(ctx, NewMessage([]byte("second")))
	}()

	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&transfersSeen), "send should still be blocked on the exhausted window")

	// the peer replenishes the window; the pending send can now go out.
	flowResp, err := mocks.PerformFlowWindow(5)
	require.NoError(t, err)
	netConn.PushFrame(flowResp)

	select {
	case err := <-sendErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("send did not unblock after the window was replenished")
	}
	require.EqualValues(t, 2, atomic.LoadInt32(&transfersSeen))

	require.NoError(t, sender.Close(ctx))
	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}
