// Package websocket implements the RFC 6455 handshake and framing on top of
// a hijacked connection, plus a hub for fan-out to many sessions.
package websocket

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// OpCode represents WebSocket operation codes
type OpCode byte

const (
	OpContinuation OpCode = 0x0
	OpText         OpCode = 0x1
	OpBinary       OpCode = 0x2
	OpClose        OpCode = 0x8
	OpPing         OpCode = 0x9
	OpPong         OpCode = 0xA
)

func (o OpCode) isControl() bool { return o >= OpClose }

// Close status codes.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseProtocolError = 1002
	CloseTooLarge      = 1009
)

// DefaultMaxMessageSize bounds a reassembled message.
const DefaultMaxMessageSize = 1 << 20

var (
	ErrMessageTooLarge = errors.New("websocket: message too large")
	ErrProtocol        = errors.New("websocket: protocol error")
	ErrClosed          = errors.New("websocket: connection closed")
)

// Frame is a single WebSocket frame.
type Frame struct {
	Fin     bool
	OpCode  OpCode
	Masked  bool
	Payload []byte
}

// Message is a complete (possibly reassembled) data message.
type Message struct {
	OpCode  OpCode
	Payload []byte
}

// Text returns the payload as a string.
func (m *Message) Text() string { return string(m.Payload) }

// Conn is a WebSocket connection. Reads must come from one goroutine;
// writes are serialized internally.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	// server connections expect masked input and send unmasked frames.
	server bool

	writeMu        sync.Mutex
	maxMessageSize int64

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewConn wraps an established connection. rw may carry bytes the HTTP
// server already buffered; nil allocates fresh buffers.
func NewConn(conn net.Conn, rw *bufio.ReadWriter, server bool) *Conn {
	c := &Conn{
		conn:           conn,
		server:         server,
		maxMessageSize: DefaultMaxMessageSize,
	}
	if rw != nil {
		c.br, c.bw = rw.Reader, rw.Writer
	} else {
		c.br, c.bw = bufio.NewReader(conn), bufio.NewWriter(conn)
	}
	return c
}

// SetMaxMessageSize limits the size of a reassembled message.
func (c *Conn) SetMaxMessageSize(size int64) {
	c.maxMessageSize = size
}

// SetReadDeadline sets the deadline for the next ReadMessage.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ReadMessage returns the next data message. Pings are answered and pongs
// skipped. A close frame is echoed and reported as io.EOF.
func (c *Conn) ReadMessage() (*Message, error) {
	if c.IsClosed() {
		return nil, io.EOF
	}

	var (
		msg       *Message
		fragments [][]byte
		total     int64
	)

	for {
		frame, err := c.readFrame()
		if err != nil {
			if errors.Is(err, ErrMessageTooLarge) {
				c.closeWith(CloseTooLarge)
			} else if errors.Is(err, ErrProtocol) {
				c.closeWith(CloseProtocolError)
			}
			return nil, err
		}

		switch frame.OpCode {
		case OpText, OpBinary:
			if msg != nil {
				c.closeWith(CloseProtocolError)
				return nil, fmt.Errorf("%w: new message inside fragmented message", ErrProtocol)
			}
			if frame.Fin {
				return &Message{OpCode: frame.OpCode, Payload: frame.Payload}, nil
			}
			msg = &Message{OpCode: frame.OpCode}
			fragments = append(fragments, frame.Payload)
			total = int64(len(frame.Payload))

		case OpContinuation:
			if msg == nil {
				c.closeWith(CloseProtocolError)
				return nil, fmt.Errorf("%w: continuation without start", ErrProtocol)
			}
			total += int64(len(frame.Payload))
			if total > c.maxMessageSize {
				c.closeWith(CloseTooLarge)
				return nil, ErrMessageTooLarge
			}
			fragments = append(fragments, frame.Payload)
			if frame.Fin {
				msg.Payload = make([]byte, 0, total)
				for _, frag := range fragments {
					msg.Payload = append(msg.Payload, frag...)
				}
				return msg, nil
			}

		case OpPing:
			if err := c.WriteFrame(&Frame{Fin: true, OpCode: OpPong, Payload: frame.Payload}); err != nil {
				return nil, err
			}

		case OpPong:

		case OpClose:
			c.closeWith(CloseNormal)
			return nil, io.EOF

		default:
			c.closeWith(CloseProtocolError)
			return nil, fmt.Errorf("%w: unknown opcode %d", ErrProtocol, frame.OpCode)
		}
	}
}

func (c *Conn) readFrame() (*Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(c.br, header[:]); err != nil {
		return nil, err
	}

	frame := &Frame{
		Fin:    header[0]&0x80 != 0,
		OpCode: OpCode(header[0] & 0x0F),
		Masked: header[1]&0x80 != 0,
	}
	if header[0]&0x70 != 0 {
		return nil, fmt.Errorf("%w: reserved bits set", ErrProtocol)
	}
	if c.server && !frame.Masked {
		return nil, fmt.Errorf("%w: client frame not masked", ErrProtocol)
	}

	payloadLen := int64(header[1] & 0x7F)
	switch payloadLen {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(c.br, ext[:]); err != nil {
			return nil, err
		}
		payloadLen = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(c.br, ext[:]); err != nil {
			return nil, err
		}
		payloadLen = int64(binary.BigEndian.Uint64(ext[:]))
	}

	if frame.OpCode.isControl() && (payloadLen > 125 || !frame.Fin) {
		return nil, fmt.Errorf("%w: bad control frame", ErrProtocol)
	}
	if payloadLen < 0 || payloadLen > c.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, payloadLen, c.maxMessageSize)
	}

	var mask [4]byte
	if frame.Masked {
		if _, err := io.ReadFull(c.br, mask[:]); err != nil {
			return nil, err
		}
	}

	if payloadLen > 0 {
		frame.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(c.br, frame.Payload); err != nil {
			return nil, err
		}
		if frame.Masked {
			maskBytes(mask, frame.Payload)
		}
	}

	return frame, nil
}

func maskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}

func (c *Conn) WriteMessage(opcode OpCode, payload []byte) error {
	return c.WriteFrame(&Frame{Fin: true, OpCode: opcode, Payload: payload})
}

func (c *Conn) WriteText(text string) error {
	return c.WriteMessage(OpText, []byte(text))
}

func (c *Conn) WriteBinary(data []byte) error {
	return c.WriteMessage(OpBinary, data)
}

// WriteFrame writes one frame. Client connections mask the payload.
func (c *Conn) WriteFrame(frame *Frame) error {
	if c.IsClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeFrameLocked(frame)
}

func (c *Conn) writeFrameLocked(frame *Frame) error {
	first := byte(frame.OpCode)
	if frame.Fin {
		first |= 0x80
	}

	var maskBit byte
	if !c.server {
		maskBit = 0x80
	}

	var hdr [14]byte
	hdr[0] = first
	n := 2
	payloadLen := len(frame.Payload)
	switch {
	case payloadLen < 126:
		hdr[1] = maskBit | byte(payloadLen)
	case payloadLen < 65536:
		hdr[1] = maskBit | 126
		binary.BigEndian.PutUint16(hdr[2:], uint16(payloadLen))
		n += 2
	default:
		hdr[1] = maskBit | 127
		binary.BigEndian.PutUint64(hdr[2:], uint64(payloadLen))
		n += 8
	}

	payload := frame.Payload
	if !c.server {
		var key [4]byte
		rand.Read(key[:])
		copy(hdr[n:], key[:])
		n += 4
		payload = append([]byte(nil), frame.Payload...)
		maskBytes(key, payload)
	}

	if _, err := c.bw.Write(hdr[:n]); err != nil {
		return err
	}
	if _, err := c.bw.Write(payload); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *Conn) Ping() error {
	return c.WriteFrame(&Frame{Fin: true, OpCode: OpPing})
}

// Close sends a normal close frame and closes the connection.
func (c *Conn) Close() error {
	return c.closeWith(CloseNormal)
}

func (c *Conn) closeWith(code uint16) error {
	var err error
	c.closeOnce.Do(func() {
		// The deadline also unblocks a writer stuck on a stalled peer.
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.writeMu.Lock()
		c.closed.Store(true)
		var payload [2]byte
		binary.BigEndian.PutUint16(payload[:], code)
		c.writeFrameLocked(&Frame{Fin: true, OpCode: OpClose, Payload: payload[:]})
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}
