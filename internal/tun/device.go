// Package tun adapts the local TUN interface to endpoint.Endpoint.
package tun

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/songgao/water"

	"github.com/1ureka/holepunch/internal/endpoint"
	"github.com/1ureka/holepunch/internal/util"
)

// Device is an open TUN interface. A background reader copies every packet
// the kernel hands us into a single-slot Mailbox, so a slow consumer stalls
// the read loop instead of queueing packets in memory.
type Device struct {
	iface   io.ReadWriteCloser
	name    string
	log     *util.Logger
	inbound *endpoint.Mailbox
	once    sync.Once
}

// Open creates a TUN interface. name is a hint honoured where the platform
// allows it; empty lets the kernel choose.
func Open(name string, log *util.Logger) (*Device, error) {
	iface, err := water.New(deviceConfig(name))
	if err != nil {
		return nil, fmt.Errorf("open tun device: %w", err)
	}
	return newDevice(iface, iface.Name(), log), nil
}

func newDevice(iface io.ReadWriteCloser, name string, log *util.Logger) *Device {
	d := &Device{
		iface:   iface,
		name:    name,
		log:     log,
		inbound: endpoint.NewMailbox(),
	}
	go d.readLoop()
	return d
}

// Name is the interface name, e.g. "tun0".
func (d *Device) Name() string { return d.name }

func (d *Device) GetPacket(timeout time.Duration) ([]byte, error) {
	return d.inbound.Get(timeout)
}

func (d *Device) SendPacket(pkt []byte) error {
	if err := endpoint.CheckSize(pkt); err != nil {
		return err
	}
	if _, err := d.iface.Write(pkt); err != nil {
		select {
		case <-d.inbound.Done():
			return endpoint.ErrDisconnected
		default:
		}
		return fmt.Errorf("write %s: %w", d.name, err)
	}
	return nil
}

func (d *Device) Close() error {
	var err error
	d.once.Do(func() {
		d.inbound.Close()
		err = d.iface.Close()
	})
	return err
}

func (d *Device) readLoop() {
	defer d.inbound.Close()

	buf := make([]byte, endpoint.MaxPacketSize)
	for {
		n, err := d.iface.Read(buf)
		if err != nil {
			select {
			case <-d.inbound.Done():
			default:
				d.log.Error("read %s: %v", d.name, err)
			}
			return
		}
		if n == 0 {
			continue
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		if !d.inbound.Put(pkt) {
			return
		}
	}
}
