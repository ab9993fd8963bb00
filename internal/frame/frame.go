// Package frame implements the chat wire format: a 4-byte header carrying
// msg_id and body_len in network byte order, followed by body_len bytes.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	HeaderLen  = 4
	idLen      = 2
	MaxBodyLen = 2048
)

// Frame is one length-delimited wire message.
type Frame struct {
	MsgID   uint16
	Payload []byte
}

// Header is the decoded fixed-size prefix of a frame.
type Header struct {
	MsgID   uint16
	BodyLen uint16
}

// ProtocolError reports a header whose fields exceed MaxBodyLen.
type ProtocolError struct {
	MsgID   uint16
	BodyLen uint16
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("frame: invalid header msg_id=%d body_len=%d (max %d)", e.MsgID, e.BodyLen, MaxBodyLen)
}

// DecodeHeader parses a 4-byte header. Oversized msg_id or body_len is a
// protocol violation.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, io.ErrShortBuffer
	}
	h := Header{
		MsgID:   binary.BigEndian.Uint16(b[:idLen]),
		BodyLen: binary.BigEndian.Uint16(b[idLen:HeaderLen]),
	}
	if h.MsgID > MaxBodyLen || h.BodyLen > MaxBodyLen {
		return h, &ProtocolError{MsgID: h.MsgID, BodyLen: h.BodyLen}
	}
	return h, nil
}

// Encode serializes msgID and payload into a single buffer ready for one
// write. Payloads longer than MaxBodyLen are rejected.
func Encode(msgID uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxBodyLen {
		return nil, fmt.Errorf("frame: payload of %d bytes exceeds %d", len(payload), MaxBodyLen)
	}
	buf := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint16(buf[:idLen], msgID)
	binary.BigEndian.PutUint16(buf[idLen:HeaderLen], uint16(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// Reader reassembles frames from a byte stream. Reads may return fewer bytes
// than requested; each phase keeps reading until its buffer is full.
type Reader struct {
	r      io.Reader
	header [HeaderLen]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame blocks until a full frame is available. io.EOF is returned only
// when the stream ends cleanly between frames; a stream that ends inside a
// header or body yields io.ErrUnexpectedEOF.
func (fr *Reader) ReadFrame() (Frame, error) {
	// awaiting header
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		return Frame{}, err
	}
	h, err := DecodeHeader(fr.header[:])
	if err != nil {
		return Frame{}, err
	}

	// awaiting body
	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{MsgID: h.MsgID, Payload: body}, nil
}
