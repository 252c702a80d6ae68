package amqp

import (
	"context"
	"testing"
	"time"

	"github.com/amqp10/go-amqp/internal/frames"
	"github.com/amqp10/go-amqp/internal/mocks"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func TestClientDial(t *testing.T) {
	defer leaktest.Check(t)()

	netConn := mocks.NewConnection(func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(mocks.ProtoAMQP)
		case *frames.PerformOpen:
			return mocks.PerformOpen("test")
		case *frames.PerformClose:
			return mocks.PerformClose(nil)
		default:
			return nil, nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := New(ctx, netConn, nil)
	require.NoError(t, err)
	require.NotNil(t, client)

	require.NoError(t, client.Close())
}

func TestClientNewSession(t *testing.T) {
	defer leaktest.Check(t)()

	netConn := mocks.NewConnection(func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(mocks.ProtoAMQP)
		case *frames.PerformOpen:
			return mocks.PerformOpen("test")
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformEnd:
			return mocks.PerformEnd(nil)
		case *frames.PerformClose:
			return mocks.PerformClose(nil)
		default:
			return nil, nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := New(ctx, netConn, nil)
	require.NoError(t, err)

	session, err := client.NewSession(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, session)

	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}
