package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/util"
)

const (
	wsTunnelPath        = "/tunnel"
	wsHandshakeTimeout  = 2 * time.Second
	httpShutdownTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocket returns the method that carries one packet per binary message,
// which passes through HTTP proxies that block raw TCP.
func WebSocket(opts Options) Method {
	opts = opts.withDefaults()
	log := opts.Log.With("ws")

	return Method{
		Name: "ws",
		Dial: func(ctx context.Context, address string) (endpoint.Endpoint, error) {
			conn, err := dialWebSocket(ctx, address, opts.WSPort, wsTunnelPath)
			if err != nil {
				return nil, &ConnectionError{Method: "ws", Address: address, Err: err}
			}
			return newWSEndpoint(conn, log), nil
		},
		Listen: func(ctx context.Context, onAccept func(endpoint.Endpoint)) error {
			return serveWebSocket(ctx, bindAddress(opts, opts.WSPort), wsTunnelPath, log,
				func(conn *websocket.Conn) {
					onAccept(newWSEndpoint(conn, log))
				})
		},
	}
}

// dialWebSocket opens ws://host:port/path.
func dialWebSocket(ctx context.Context, address string, defaultPort int, path string) (*websocket.Conn, error) {
	host, port, err := splitAddress(address, defaultPort)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}

	url := "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}

// serveWebSocket runs an HTTP server on addr that upgrades requests to path
// and hands each connection to handle. It returns when ctx is cancelled.
func serveWebSocket(ctx context.Context, addr, path string, log *util.Logger, handle func(*websocket.Conn)) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return &ConnectionError{Method: "ws", Address: addr, Err: err}
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("upgrade %s: %v", r.RemoteAddr, err)
			return
		}
		log.Debug("accepted %s", conn.RemoteAddr())
		handle(conn)
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: wsHandshakeTimeout}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	log.Info("listening on %s%s", ln.Addr(), path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return &ConnectionError{Method: "ws", Address: addr, Err: err}
	}
}

// wsConn carries each packet as one binary message.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadPacket() ([]byte, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WritePacket(pkt []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, pkt)
}

func (c *wsConn) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func newWSEndpoint(conn *websocket.Conn, log *util.Logger) endpoint.Endpoint {
	conn.SetReadLimit(endpoint.MaxPacketSize)
	name := fmt.Sprintf("ws(%s)", conn.RemoteAddr())
	return newStreamEndpoint(name, &wsConn{conn: conn}, log)
}
