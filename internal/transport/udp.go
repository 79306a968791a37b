package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/1ureka/holepunch/internal/endpoint"
)

// UDP returns the method that runs reliable sessions over plain datagrams.
func UDP(opts Options) Method {
	opts = opts.withDefaults()
	log := opts.Log.With("udp")

	return Method{
		Name: "udp",
		Dial: func(ctx context.Context, address string) (endpoint.Endpoint, error) {
			host, port, err := splitAddress(address, opts.UDPPort)
			if err != nil {
				return nil, &ConnectionError{Method: "udp", Address: address, Err: err}
			}

			peer, err := resolveUDP(ctx, host, port)
			if err != nil {
				return nil, &ConnectionError{Method: "udp", Address: address, Err: err}
			}

			conn, err := net.ListenUDP("udp", nil)
			if err != nil {
				return nil, &ConnectionError{Method: "udp", Address: address, Err: err}
			}

			name := fmt.Sprintf("udp(%s)", peer)
			return dialDatagram(name, &udpSocket{conn: conn}, peer, opts.Reliable, log.With("%s", name)), nil
		},
		Listen: func(ctx context.Context, onAccept func(endpoint.Endpoint)) error {
			addr := bindAddress(opts, opts.UDPPort)

			var lc net.ListenConfig
			conn, err := lc.ListenPacket(ctx, "udp", addr)
			if err != nil {
				return &ConnectionError{Method: "udp", Address: addr, Err: err}
			}
			log.Info("listening on %s", conn.LocalAddr())

			mux := newDatagramMux("udp", &udpSocket{conn: conn}, opts.Reliable, log)
			return mux.serve(ctx, onAccept)
		},
	}
}

func resolveUDP(ctx context.Context, host string, port int) (*net.UDPAddr, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return net.ResolveUDPAddr("udp", net.JoinHostPort(addrs[0].IP.String(), strconv.Itoa(port)))
}

// maxUDPPayload is the largest datagram UDP over IPv4 can carry: 65535
// minus 20 (IPv4) and 8 (UDP) header bytes.
const maxUDPPayload = 65535 - 20 - 8

// udpSocket adapts a net.PacketConn to datagramSocket. ReadFrom must only be
// called from one goroutine.
type udpSocket struct {
	conn net.PacketConn
	buf  []byte
}

func (s *udpSocket) ReadFrom() ([]byte, net.Addr, error) {
	if s.buf == nil {
		s.buf = make([]byte, endpoint.MaxPacketSize)
	}

	n, addr, err := s.conn.ReadFrom(s.buf)
	if err != nil {
		return nil, nil, err
	}

	data := make([]byte, n)
	copy(data, s.buf[:n])
	return data, addr, nil
}

func (s *udpSocket) WriteTo(payload []byte, to net.Addr) error {
	_, err := s.conn.WriteTo(payload, to)
	return err
}

func (s *udpSocket) MaxDatagramSize() int { return maxUDPPayload }

func (s *udpSocket) Close() error { return s.conn.Close() }
