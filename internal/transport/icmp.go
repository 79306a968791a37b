package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/1ureka/holepunch/internal/endpoint"
)

// Direction markers prefixed to every echo payload. The kernel answers echo
// requests on its own, echoing the client's marker back; the client only
// accepts replies carrying the server marker.
const (
	markerClient byte = 'C'
	markerServer byte = 'S'
)

// protocolICMP is the IANA protocol number of ICMP for IPv4.
const protocolICMP = 1

// maxICMPPayload fits one marked payload in an echo message inside a single
// IPv4 packet: 65535 minus 20 (IPv4), 8 (echo header) and the marker byte.
const maxICMPPayload = 65535 - 20 - 8 - 1

// ICMP returns the method that tunnels reliable sessions inside echo
// request/reply pairs. It needs raw-socket privileges on both ends.
func ICMP(opts Options) Method {
	opts = opts.withDefaults()
	log := opts.Log.With("icmp")

	return Method{
		Name: "icmp",
		Dial: func(ctx context.Context, address string) (endpoint.Endpoint, error) {
			host, _, err := splitAddress(address, 0)
			if err != nil {
				return nil, &ConnectionError{Method: "icmp", Address: address, Err: err}
			}

			ip, err := resolveIPv4(ctx, host)
			if err != nil {
				return nil, &ConnectionError{Method: "icmp", Address: address, Err: err}
			}

			conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
			if err != nil {
				return nil, &ConnectionError{Method: "icmp", Address: address, Err: err}
			}

			peer := icmpPeer{IP: ip, ID: randomEchoID()}
			sock := newICMPSocket(conn, false)
			name := fmt.Sprintf("icmp(%s)", peer)
			return dialDatagram(name, sock, peer, opts.Reliable, log.With("%s", name)), nil
		},
		Listen: func(ctx context.Context, onAccept func(endpoint.Endpoint)) error {
			bind := opts.BindHost
			if bind == "" {
				bind = "0.0.0.0"
			}

			conn, err := icmp.ListenPacket("ip4:icmp", bind)
			if err != nil {
				return &ConnectionError{Method: "icmp", Address: bind, Err: err}
			}
			log.Info("listening for echo requests on %s", bind)

			mux := newDatagramMux("icmp", newICMPSocket(conn, true), opts.Reliable, log)
			return mux.serve(ctx, onAccept)
		},
	}
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, addr := range addrs {
		if ip4 := addr.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address for %s", host)
}

func randomEchoID() int {
	var b [2]byte
	rand.Read(b[:])
	return int(binary.BigEndian.Uint16(b[:]))
}

// icmpPeer identifies one tunnel peer: its address plus the echo identifier
// the client picked.
type icmpPeer struct {
	IP net.IP
	ID int
}

func (p icmpPeer) Network() string { return "icmp" }

func (p icmpPeer) String() string { return p.IP.String() + "/" + strconv.Itoa(p.ID) }

// icmpSocket sends and receives tunnel payloads as echo messages. A client
// sends requests and accepts replies; a server does the opposite.
type icmpSocket struct {
	conn *icmp.PacketConn
	buf  []byte
	seq  atomic.Uint32

	sendType   ipv4.ICMPType
	recvType   ipv4.ICMPType
	sendMarker byte
	recvMarker byte
}

func newICMPSocket(conn *icmp.PacketConn, server bool) *icmpSocket {
	s := &icmpSocket{
		conn:       conn,
		buf:        make([]byte, endpoint.MaxPacketSize),
		sendType:   ipv4.ICMPTypeEcho,
		recvType:   ipv4.ICMPTypeEchoReply,
		sendMarker: markerClient,
		recvMarker: markerServer,
	}
	if server {
		s.sendType, s.recvType = s.recvType, s.sendType
		s.sendMarker, s.recvMarker = s.recvMarker, s.sendMarker
	}
	return s
}

// ReadFrom skips every ICMP message that is not a tunnel echo for our role.
func (s *icmpSocket) ReadFrom() ([]byte, net.Addr, error) {
	for {
		n, addr, err := s.conn.ReadFrom(s.buf)
		if err != nil {
			return nil, nil, err
		}

		msg, err := icmp.ParseMessage(protocolICMP, s.buf[:n])
		if err != nil || msg.Type != s.recvType {
			continue
		}

		echo, ok := msg.Body.(*icmp.Echo)
		if !ok || len(echo.Data) == 0 || echo.Data[0] != s.recvMarker {
			continue
		}

		ipAddr, ok := addr.(*net.IPAddr)
		if !ok {
			continue
		}

		data := make([]byte, len(echo.Data)-1)
		copy(data, echo.Data[1:])
		return data, icmpPeer{IP: ipAddr.IP, ID: echo.ID}, nil
	}
}

func (s *icmpSocket) WriteTo(payload []byte, to net.Addr) error {
	peer, ok := to.(icmpPeer)
	if !ok {
		return fmt.Errorf("icmp: unexpected address type %T", to)
	}

	data := make([]byte, 1+len(payload))
	data[0] = s.sendMarker
	copy(data[1:], payload)

	msg := icmp.Message{
		Type: s.sendType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   peer.ID,
			Seq:  int(s.seq.Add(1) & 0xffff),
			Data: data,
		},
	}

	b, err := msg.Marshal(nil)
	if err != nil {
		return err
	}

	_, err = s.conn.WriteTo(b, &net.IPAddr{IP: peer.IP})
	return err
}

func (s *icmpSocket) MaxDatagramSize() int { return maxICMPPayload }

func (s *icmpSocket) Close() error { return s.conn.Close() }
