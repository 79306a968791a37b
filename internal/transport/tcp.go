package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/protocol"
	"github.com/1ureka/holepunch/internal/util"
)

// dialTimeout bounds each connection attempt to one candidate address.
const dialTimeout = 2 * time.Second

// TCP returns the length-prefixed stream method.
func TCP(opts Options) Method {
	opts = opts.withDefaults()
	log := opts.Log.With("tcp")

	return Method{
		Name: "tcp",
		Dial: func(ctx context.Context, address string) (endpoint.Endpoint, error) {
			conn, err := dialTCP(ctx, address, opts.TCPPort, log)
			if err != nil {
				return nil, &ConnectionError{Method: "tcp", Address: address, Err: err}
			}
			return newTCPEndpoint(conn, log), nil
		},
		Listen: func(ctx context.Context, onAccept func(endpoint.Endpoint)) error {
			return listenTCP(ctx, bindAddress(opts, opts.TCPPort), log, onAccept)
		},
	}
}

// dialTCP resolves address and tries each candidate IP in order.
func dialTCP(ctx context.Context, address string, defaultPort int, log *util.Logger) (net.Conn, error) {
	host, port, err := splitAddress(address, defaultPort)
	if err != nil {
		return nil, err
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	dialer := net.Dialer{Timeout: dialTimeout}

	var errs []error
	for _, addr := range addrs {
		target := net.JoinHostPort(addr.IP.String(), strconv.Itoa(port))
		log.Debug("connecting to %s", target)

		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return nil, errors.Join(errs...)
}

// listenTCP accepts connections on addr until ctx is cancelled.
func listenTCP(ctx context.Context, addr string, log *util.Logger, onAccept func(endpoint.Endpoint)) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return &ConnectionError{Method: "tcp", Address: addr, Err: err}
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return &ConnectionError{Method: "tcp", Address: addr, Err: err}
		}

		log.Debug("accepted %s", conn.RemoteAddr())
		onAccept(newTCPEndpoint(conn, log))
	}
}

// tcpConn frames packets on a byte stream.
type tcpConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *tcpConn) ReadPacket() ([]byte, error) { return protocol.ReadFrame(c.r) }

func (c *tcpConn) WritePacket(pkt []byte) error { return protocol.WriteFrame(c.conn, pkt) }

func (c *tcpConn) Close() error { return c.conn.Close() }

func newTCPEndpoint(conn net.Conn, log *util.Logger) endpoint.Endpoint {
	name := fmt.Sprintf("tcp(%s)", conn.RemoteAddr())
	c := &tcpConn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, 64*1024),
	}
	return newStreamEndpoint(name, c, log)
}
