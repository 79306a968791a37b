package endpoint

import (
	"sync"
	"time"
)

// pipeEnd is one side of an in-memory Endpoint pair.
type pipeEnd struct {
	name  string
	inbox *Mailbox
	peer  *pipeEnd
	once  sync.Once
}

// Pipe returns two linked Endpoints: packets sent on one arrive on the other.
// Closing either side disconnects both. Used for tests and fake devices.
func Pipe(nameA, nameB string) (Endpoint, Endpoint) {
	a := &pipeEnd{name: nameA, inbox: NewMailbox()}
	b := &pipeEnd{name: nameB, inbox: NewMailbox()}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *pipeEnd) Name() string { return p.name }

func (p *pipeEnd) GetPacket(timeout time.Duration) ([]byte, error) {
	return p.inbox.Get(timeout)
}

func (p *pipeEnd) SendPacket(pkt []byte) error {
	if err := CheckSize(pkt); err != nil {
		return err
	}

	buf := make([]byte, len(pkt))
	copy(buf, pkt)

	if !p.peer.inbox.Put(buf) {
		return ErrDisconnected
	}
	return nil
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() {
		p.inbox.Close()
		p.peer.inbox.Close()
	})
	return nil
}
