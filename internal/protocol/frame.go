package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameHeaderSize is the length prefix of a stream frame: uint16 big-endian.
const FrameHeaderSize = 2

// MaxFramePayload is the largest payload a frame can describe.
const MaxFramePayload = 0xFFFF

// WriteFrame writes one length-prefixed packet with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFramePayload {
		return fmt.Errorf("frame payload too large: %d bytes (max %d)", len(payload), MaxFramePayload)
	}

	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[:FrameHeaderSize], uint16(len(payload)))
	copy(buf[FrameHeaderSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads exactly one length-prefixed packet. A clean EOF before the
// header is returned as io.EOF; a short payload as io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	payload := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
