package runtime

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"time"
)

// emConn is the minimal surface the emit paths need from a connection to the
// Event Manager: write one framed CommandMessage, optionally read back one
// framed ResultMessage, and close. Abstracted so tests can substitute an
// in-memory pipe instead of a real TCP dial.
type emConn interface {
	writeCommand(code CommandCode, body []byte) error
	readResult() (ResultMessage, error)
	Close() error
}

type tcpEMConn struct {
	conn net.Conn
}

// dialTCP opens a fresh TCP connection to addr, per §4.7: "each outbound
// message opens a fresh TCP connection to the Event Manager".
func dialTCP(addr string) (emConn, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &tcpEMConn{conn: conn}, nil
}

// writeCommand writes a length-prefixed CommandMessage: a 1-byte command
// code followed by a 4-byte big-endian body length and the body itself. The
// exact wire framing of CommandMessage/ResultMessage is an assumed external
// collaborator (spec §1); this is the runtime's own choice for it.
func (c *tcpEMConn) writeCommand(code CommandCode, body []byte) error {
	header := make([]byte, 5)
	header[0] = byte(code)
	binary.BigEndian.PutUint32(header[1:], uint32(len(body)))
	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := c.conn.Write(body)
	return err
}

func (c *tcpEMConn) readResult() (ResultMessage, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return ResultMessage{}, err
	}
	if int(header[0]) >= len(resultCodeNames) {
		return ResultMessage{}, wrapErrorf(ErrBadResponse, "unknown result tag %d from event manager", header[0])
	}
	code := ResultCode(resultCodeNames[header[0]])
	n := binary.BigEndian.Uint32(header[1:])
	if n > maxEMBodyLen {
		return ResultMessage{}, wrapErrorf(ErrBadResponse, "reply length %d exceeds limit %d", n, maxEMBodyLen)
	}
	var data []byte
	if n > 0 {
		data = make([]byte, n)
		if _, err := io.ReadFull(c.conn, data); err != nil {
			return ResultMessage{}, err
		}
	}
	return ResultMessage{Code: code, Data: data}, nil
}

func (c *tcpEMConn) Close() error { return c.conn.Close() }

// resultCodeNames maps the single-byte wire tag used by readResult/
// writeResult back to a ResultCode. Kept in fixed order so both sides of
// the wire agree without needing a shared constants package.
var resultCodeNames = [...]string{
	string(Ok),
	string(IllegalPayload),
	string(BadRequest),
	string(CryptoError),
	string(InternalError),
}

func resultCodeByte(rc ResultCode) byte {
	for i, name := range resultCodeNames {
		if name == string(rc) {
			return byte(i)
		}
	}
	return 255
}

// writeResultMessage writes m using the same wire tag convention as
// readResult, for use by the listener when replying to a caller.
func writeResultMessage(w io.Writer, m ResultMessage) error {
	header := make([]byte, 5)
	header[0] = resultCodeByte(m.Code)
	binary.BigEndian.PutUint32(header[1:], uint32(len(m.Data)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(m.Data) == 0 {
		return nil
	}
	_, err := w.Write(m.Data)
	return err
}

// emAddr formats the loopback address used to reach the Event Manager.
func emAddr(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// sendToEM dials a fresh connection to the EM, writes the command body
// addressing peerEntrypoint on connID, then invokes release (dropping the
// connections lock) before optionally reading back a reply. This ordering —
// write, then release, then optionally read — guarantees the EM observes
// this module's outbound messages in issue order even under concurrent
// user-code invocations (§4.7, §5).
func (r *Runtime) sendToEM(peerEntrypoint, connID uint16, data []byte, release func(), wantReply bool) (ResultMessage, error) {
	body, err := emBody(peerEntrypoint, connID, data)
	if err != nil {
		release()
		return ResultMessage{}, err
	}

	start := time.Now()
	conn, err := r.dialEM(emAddr(r.cfg.EMHost, r.cfg.EMPort))
	if err != nil {
		release()
		return ResultMessage{}, wrapErrorf(ErrNetworkError, "dial event manager: %v", err)
	}
	defer conn.Close()

	if err := conn.writeCommand(ModuleOutput, body); err != nil {
		release()
		return ResultMessage{}, wrapErrorf(ErrNetworkError, "write command: %v", err)
	}

	release()

	if !wantReply {
		r.metrics.emRoundTripSeconds.UpdateDuration(start)
		return ResultMessage{}, nil
	}

	result, err := conn.readResult()
	r.metrics.emRoundTripSeconds.UpdateDuration(start)
	if err != nil {
		return ResultMessage{}, wrapErrorf(ErrNetworkError, "read result: %v", err)
	}
	return result, nil
}
