// Package kernel speaks the Linux netlink request/response protocol for the
// route and generic families.
//
// A Transport opens one socket per request, sends a single framed message and
// drains responses until an acknowledgement, a done marker or an error
// arrives. Requests on one Transport are serialized.
package kernel

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"

	"wgnet/pkg/errs"
)

// DefaultFlags are used when a caller passes zero flags.
const DefaultFlags = netlink.Request | netlink.Acknowledge | netlink.Excl | netlink.Create

// Socket is a connected kernel socket bound to one netlink protocol.
type Socket interface {
	Send(b []byte) (int, error)
	Recv(b []byte) (int, error)
	Close() error
}

// Opener opens a Socket for the given protocol.
type Opener func(protocol int) (Socket, error)

// Transport issues netlink requests.
type Transport struct {
	mu   sync.Mutex
	open Opener
	seq  uint32
}

// New returns a Transport over real kernel sockets.
func New() *Transport {
	return NewWithOpener(openSocket)
}

// NewWithOpener returns a Transport using open to obtain sockets.
func NewWithOpener(open Opener) *Transport {
	return &Transport{open: open}
}

// Request sends m on the given protocol and returns every response message
// received before the terminating ack or done marker. A zero flags value
// selects DefaultFlags. A kernel error payload is returned as syscall.Errno.
func (t *Transport) Request(protocol int, m netlink.Message, flags netlink.HeaderFlags) ([]netlink.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.request(protocol, m, flags)
}

func (t *Transport) request(protocol int, m netlink.Message, flags netlink.HeaderFlags) ([]netlink.Message, error) {
	if flags == 0 {
		flags = DefaultFlags
	}
	length := align(headerLen + len(m.Data))
	if length > MaxFrameSize {
		return nil, &errs.TransportError{Op: "encode", Err: fmt.Errorf("%w: %d > %d", errs.ErrOversize, length, MaxFrameSize)}
	}
	t.seq++
	m.Header.Length = uint32(length)
	m.Header.Flags = flags
	m.Header.Sequence = t.seq
	b, err := m.MarshalBinary()
	if err != nil {
		return nil, &errs.TransportError{Op: "encode", Err: err}
	}

	sock, err := t.open(protocol)
	if err != nil {
		return nil, &errs.TransportError{Op: "open", Err: err}
	}
	defer sock.Close()

	n, err := sock.Send(b)
	if err != nil {
		return nil, &errs.TransportError{Op: "send", Err: err}
	}
	if n < len(b) {
		return nil, &errs.TransportError{Op: "send", Err: fmt.Errorf("%w: %d of %d bytes", errs.ErrTruncatedWrite, n, len(b))}
	}
	return receive(sock)
}

// receive drains datagrams until a terminator is seen.
func receive(sock Socket) ([]netlink.Message, error) {
	buf := make([]byte, recvBufferSize)
	var out []netlink.Message
	for {
		n, err := sock.Recv(buf)
		if err != nil {
			return nil, &errs.TransportError{Op: "receive", Err: err}
		}
		// Copy so accumulated messages do not alias the next datagram.
		dgram := append([]byte(nil), buf[:n]...)
		msgs, done, err := parseDatagram(dgram)
		out = append(out, msgs...)
		if err != nil {
			return nil, err
		}
		if done {
			return out, nil
		}
	}
}

// parseDatagram splits one datagram into messages. done reports that an ack
// or done marker was reached; the marker itself is not returned.
func parseDatagram(b []byte) ([]netlink.Message, bool, error) {
	var out []netlink.Message
	for off := 0; off < len(b); {
		if len(b)-off < 4 {
			return nil, false, decodeErr("trailing %d bytes", len(b)-off)
		}
		length := int(nlenc.Uint32(b[off : off+4]))
		if length == 0 {
			break
		}
		if length < headerLen || off+length > len(b) {
			return nil, false, decodeErr("message length %d at offset %d exceeds datagram of %d bytes", length, off, len(b))
		}
		m := netlink.Message{
			Header: netlink.Header{
				Length:   uint32(length),
				Type:     netlink.HeaderType(nlenc.Uint16(b[off+4 : off+6])),
				Flags:    netlink.HeaderFlags(nlenc.Uint16(b[off+6 : off+8])),
				Sequence: nlenc.Uint32(b[off+8 : off+12]),
				PID:      nlenc.Uint32(b[off+12 : off+16]),
			},
			Data: b[off+headerLen : off+length],
		}
		switch m.Header.Type {
		case netlink.Error:
			if len(m.Data) < errorLen {
				return nil, false, decodeErr("short error payload of %d bytes", len(m.Data))
			}
			if code := nlenc.Int32(m.Data[:errorLen]); code != 0 {
				return nil, false, syscall.Errno(-code)
			}
			return out, true, nil
		case netlink.Done:
			return out, true, nil
		}
		out = append(out, m)
		off += align(length)
	}
	return out, false, nil
}

func decodeErr(format string, args ...any) error {
	return &errs.TransportError{Op: "decode", Err: fmt.Errorf(format, args...)}
}
