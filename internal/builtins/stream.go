package builtins

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"phlang/internal/funcreg"
	"phlang/internal/hostapi"
	"phlang/internal/value"
)

// sockets tracks open client connections by the id ws_connect assigned,
// mirroring the teacher's WebSocketConn map.
var sockets = struct {
	mu   sync.Mutex
	conn map[string]*websocket.Conn
	next int
}{conn: make(map[string]*websocket.Conn)}

func registerStream(fr *funcreg.FunctionRegistry, e *env) {
	register(fr, e, "ws_connect", func(ctx *hostapi.CallContext) hostapi.Status {
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		conn, _, err := dialer.Dial(argString(ctx, 0), nil)
		if err != nil {
			ctx.Error("ws_connect: " + err.Error())
			ctx.Result = value.InitFromBool(false)
			return hostapi.StatusOK
		}
		sockets.mu.Lock()
		sockets.next++
		id := "ws_" + argString(ctx, 0) + "_" + value.InitFromInt(int64(sockets.next)).ToString()
		sockets.conn[id] = conn
		sockets.mu.Unlock()
		ctx.Result = value.InitFromString(id)
		return hostapi.StatusOK
	})

	register(fr, e, "ws_send", func(ctx *hostapi.CallContext) hostapi.Status {
		sockets.mu.Lock()
		conn, ok := sockets.conn[argString(ctx, 0)]
		sockets.mu.Unlock()
		if !ok {
			ctx.Error("ws_send: no such connection")
			ctx.Result = value.InitFromBool(false)
			return hostapi.StatusOK
		}
		err := conn.WriteMessage(websocket.TextMessage, []byte(argString(ctx, 1)))
		ctx.Result = value.InitFromBool(err == nil)
		return hostapi.StatusOK
	})

	register(fr, e, "ws_recv", func(ctx *hostapi.CallContext) hostapi.Status {
		sockets.mu.Lock()
		conn, ok := sockets.conn[argString(ctx, 0)]
		sockets.mu.Unlock()
		if !ok {
			ctx.Error("ws_recv: no such connection")
			ctx.Result = value.Null()
			return hostapi.StatusOK
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			ctx.Error("ws_recv: " + err.Error())
			ctx.Result = value.Null()
			return hostapi.StatusOK
		}
		ctx.Result = value.InitFromString(string(msg))
		return hostapi.StatusOK
	})

	register(fr, e, "ws_close", func(ctx *hostapi.CallContext) hostapi.Status {
		id := argString(ctx, 0)
		sockets.mu.Lock()
		conn, ok := sockets.conn[id]
		if ok {
			delete(sockets.conn, id)
		}
		sockets.mu.Unlock()
		if ok {
			conn.Close()
		}
		ctx.Result = value.InitFromBool(ok)
		return hostapi.StatusOK
	})
}
