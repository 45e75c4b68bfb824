package connection

import (
	"fmt"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/patricou/PATTOOL2-sub002/pkg/logger"
)

// discussionEventName is the socket event carrying discussion frames.
const discussionEventName = "discussion-event"

// DialSocketIO establishes a Socket.IO connection and registers the given
// handlers. The bearer credential travels in the handshake auth payload
// (Socket.IO falls back to a query parameter on transports without headers).
func DialSocketIO(serverURL, path string, authPayload map[string]any, handlers ConnHandlers) (Conn, error) {
	opts := socket.DefaultOptions()
	opts.SetPath(path)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(authPayload)

	sock, err := socket.Connect(serverURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	sock.On(types.EventName("connect"), func(args ...any) {
		logger.Debugf("socket connected, id=%s", sock.Id())
		if handlers.OnConnect != nil {
			handlers.OnConnect()
		}
	})

	sock.On(types.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		if handlers.OnDisconnect != nil {
			handlers.OnDisconnect(reason)
		}
	})

	sock.On(types.EventName("connect_error"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			reason = fmt.Sprintf("%v", args[0])
		}
		if handlers.OnConnectError != nil {
			handlers.OnConnectError(reason)
		}
	})

	sock.On(types.EventName(discussionEventName), func(args ...any) {
		if len(args) == 0 || handlers.OnEvent == nil {
			return
		}
		handlers.OnEvent(args[0])
	})

	return &socketConn{sock: sock}, nil
}

type socketConn struct {
	sock *socket.Socket
}

func (c *socketConn) Connected() bool {
	return c.sock.Connected()
}

func (c *socketConn) Close() {
	c.sock.Disconnect()
}
