package management

import (
	"context"
	"testing"
	"time"

	amqp "github.com/amqp10/go-amqp"
	"github.com/amqp10/go-amqp/internal/buffer"
	"github.com/amqp10/go-amqp/internal/encoding"
	"github.com/amqp10/go-amqp/internal/frames"
	"github.com/amqp10/go-amqp/internal/mocks"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	require.Equal(t, 404, statusCode(int64(404)))
	require.Equal(t, 404, statusCode(int32(404)))
	require.Equal(t, 404, statusCode(404))
	require.Equal(t, 0, statusCode("404"))
	require.Equal(t, 0, statusCode(nil))
}

func TestClientCall(t *testing.T) {
	defer leaktest.Check(t)()

	const requestMessageID = "req-1"

	netConn := mocks.NewConnection(func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(mocks.ProtoAMQP)
		case *frames.PerformOpen:
			return mocks.PerformOpen("test")
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformAttach:
			if fr.Role == encoding.RoleSender {
				attachResp, err := mocks.SenderAttach(fr.Name, fr.Handle, amqp.ModeUnsettled)
				if err != nil {
					return nil, err
				}
				flowResp, err := mocks.PerformFlow(fr.Handle, 0, 10)
				if err != nil {
					return nil, err
				}
				return append(attachResp, flowResp...), nil
			}
			return mocks.ReceiverAttach(fr.Name, fr.Handle, amqp.ModeFirst)
		case *frames.PerformTransfer:
			respMsg := &amqp.Message{
				Properties: amqp.MessageProperties{CorrelationID: requestMessageID},
				ApplicationProperties: map[string]interface{}{
					"statusCode":        200,
					"statusDescription": "OK",
				},
			}
			wr := buffer.New(nil)
			if err := respMsg.Marshal(wr); err != nil {
				return nil, err
			}

			disposition, err := mocks.PerformDisposition(*fr.DeliveryID, &encoding.StateAccepted{})
			if err != nil {
				return nil, err
			}
			reply, err := mocks.PerformTransferRaw(1, 1, wr.Detach())
			if err != nil {
				return nil, err
			}
			return append(disposition, reply...), nil
		case *frames.PerformFlow, *frames.PerformDisposition:
			return nil, nil
		case *frames.PerformDetach:
			return mocks.PerformDetach(fr.Handle, nil)
		case *frames.PerformEnd:
			return mocks.PerformEnd(nil)
		case *frames.PerformClose:
			return mocks.PerformClose(nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := amqp.New(ctx, netConn, nil)
	require.NoError(t, err)

	session, err := client.NewSession(ctx, nil)
	require.NoError(t, err)

	mgmt, err := NewClient(ctx, session, "")
	require.NoError(t, err)

	resp, err := mgmt.Call(ctx, "READ", "queue", requestMessageID, map[string]any{"name": "q1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, resp)

	require.NoError(t, mgmt.Close(ctx))
	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}

func TestClientCallErrorStatus(t *testing.T) {
	defer leaktest.Check(t)()

	const requestMessageID = "req-2"

	netConn := mocks.NewConnection(func(req frames.FrameBody) ([]byte, error) {
		switch fr := req.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(mocks.ProtoAMQP)
		case *frames.PerformOpen:
			return mocks.PerformOpen("test")
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformAttach:
			if fr.Role == encoding.RoleSender {
				attachResp, err := mocks.SenderAttach(fr.Name, fr.Handle, amqp.ModeUnsettled)
				if err != nil {
					return nil, err
				}
				flowResp, err := mocks.PerformFlow(fr.Handle, 0, 10)
				if err != nil {
					return nil, err
				}
				return append(attachResp, flowResp...), nil
			}
			return mocks.ReceiverAttach(fr.Name, fr.Handle, amqp.ModeFirst)
		case *frames.PerformTransfer:
			respMsg := &amqp.Message{
				Properties: amqp.MessageProperties{CorrelationID: requestMessageID},
				ApplicationProperties: map[string]interface{}{
					"statusCode":        404,
					"statusDescription": "not found",
				},
			}
			wr := buffer.New(nil)
			if err := respMsg.Marshal(wr); err != nil {
				return nil, err
			}

			disposition, err := mocks.PerformDisposition(*fr.DeliveryID, &encoding.StateAccepted{})
			if err != nil {
				return nil, err
			}
			reply, err := mocks.PerformTransferRaw(1, 1, wr.Detach())
			if err != nil {
				return nil, err
			}
			return append(disposition, reply...), nil
		case *frames.PerformFlow, *frames.PerformDisposition:
			return nil, nil
		case *frames.PerformDetach:
			return mocks.PerformDetach(fr.Handle, nil)
		case *frames.PerformEnd:
			return mocks.PerformEnd(nil)
		case *frames.PerformClose:
			return mocks.PerformClose(nil)
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := amqp.New(ctx, netConn, nil)
	require.NoError(t, err)

	session, err := client.NewSession(ctx, nil)
	require.NoError(t, err)

	mgmt, err := NewClient(ctx, session, "")
	require.NoError(t, err)

	_, err = mgmt.Call(ctx, "READ", "queue", requestMessageID, map[string]any{"name": "missing"}, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 404, statusErr.Code)
	require.Equal(t, "not found", statusErr.Description)

	require.NoError(t, mgmt.Close(ctx))
	require.NoError(t, session.Close(ctx))
	require.NoError(t, client.Close())
}
