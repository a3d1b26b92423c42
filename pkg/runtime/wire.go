package runtime

import (
	"encoding/binary"
	"fmt"
	"io"
)

// CommandCode names the EM command carried by a CommandMessage body. The
// runtime only ever issues ModuleOutput.
type CommandCode uint8

const (
	// ModuleOutput asks the EM to invoke an entrypoint (HandleInput or
	// HandleHandler) on a destination module on our behalf.
	ModuleOutput CommandCode = 0
)

// maxEMBodyLen is the hard limit on CommandMessage body data length (§4.7):
// the body's data field must not exceed 65531 bytes.
const maxEMBodyLen = 65531

// emBody builds the body of an outbound CommandMessage: the peer entrypoint
// id to invoke, the destination connection id, and the data to deliver.
//
//	entrypoint_id(2, big-endian) || conn_id(2) || data(rest)
func emBody(peerEntrypoint, connID uint16, data []byte) ([]byte, error) {
	if len(data) > maxEMBodyLen {
		return nil, wrapErrorf(ErrPayloadTooLarge, "body data length %d exceeds limit %d", len(data), maxEMBodyLen)
	}
	b := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(b[0:2], peerEntrypoint)
	binary.BigEndian.PutUint16(b[2:4], connID)
	copy(b[4:], data)
	return b, nil
}

// decodeEntrypointID splits the outermost 2-byte entrypoint id from the rest
// of a dispatcher request (§4.1). Returns IllegalPayload if p is too short.
func decodeEntrypointID(p []byte) (id uint16, rest []byte, rc ResultCode) {
	if len(p) < 2 {
		return 0, nil, IllegalPayload
	}
	return binary.BigEndian.Uint16(p[0:2]), p[2:], Ok
}

// setKeyPayload is the parsed body of a set_key request:
//
//	enc(1) || conn_id(2) || index(2) || nonce(2) || cipher(rest)
type setKeyPayload struct {
	Enc    Encryption
	ConnID uint16
	Index  uint16
	Nonce  uint16
	Cipher []byte
}

const setKeyMinLen = 1 + 2 + 2 + 2 // 7

func parseSetKeyPayload(p []byte) (setKeyPayload, bool) {
	if len(p) < setKeyMinLen {
		return setKeyPayload{}, false
	}
	return setKeyPayload{
		Enc:    Encryption(p[0]),
		ConnID: binary.BigEndian.Uint16(p[1:3]),
		Index:  binary.BigEndian.Uint16(p[3:5]),
		Nonce:  binary.BigEndian.Uint16(p[5:7]),
		Cipher: p[7:],
	}, true
}

// associatedData returns the exact AD bytes used by set_key's AEAD
// operation: enc || conn_id || index || nonce.
func (s setKeyPayload) associatedData() []byte {
	ad := make([]byte, setKeyMinLen)
	ad[0] = byte(s.Enc)
	binary.BigEndian.PutUint16(ad[1:3], s.ConnID)
	binary.BigEndian.PutUint16(ad[3:5], s.Index)
	binary.BigEndian.PutUint16(ad[5:7], s.Nonce)
	return ad
}

// connIDCipherPayload is the parsed body shape shared by handle_input and
// handle_handler: conn_id(2) || ciphertext(rest).
type connIDCipherPayload struct {
	ConnID     uint16
	Ciphertext []byte
}

const connIDCipherMinLen = 2

func parseConnIDCipherPayload(p []byte) (connIDCipherPayload, bool) {
	if len(p) < connIDCipherMinLen {
		return connIDCipherPayload{}, false
	}
	return connIDCipherPayload{
		ConnID:     binary.BigEndian.Uint16(p[0:2]),
		Ciphertext: p[2:],
	}, true
}

// disablePayload is the parsed body of a disable request:
// nonce(2) || cipher(rest).
type disablePayload struct {
	Nonce  uint16
	Cipher []byte
}

const disableMinLen = 2

func parseDisablePayload(p []byte) (disablePayload, bool) {
	if len(p) < disableMinLen {
		return disablePayload{}, false
	}
	return disablePayload{
		Nonce:  binary.BigEndian.Uint16(p[0:2]),
		Cipher: p[2:],
	}, true
}

// disableAssociatedData returns the AD bytes used by disable's AEAD
// operation: just the nonce.
func disableAssociatedData(nonce uint16) []byte {
	ad := make([]byte, 2)
	binary.BigEndian.PutUint16(ad, nonce)
	return ad
}

// nonceAD returns the 2-byte big-endian associated-data/nonce input used by
// handle_input and handle_handler's AEAD operations, per the AEAD's
// convention described in §4.3.
func nonceAD(nonce uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, nonce)
	return b
}

// ReadFrame reads one length-prefixed request frame from r: a 4-byte
// big-endian length followed by that many payload bytes. This is the
// listener's assumed wire framing for inbound entrypoint requests (§6); the
// dispatcher itself is agnostic to framing and only ever sees the payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// WriteResult writes m to w using the same length-prefixed wire tag
// convention used between modules and the Event Manager.
func WriteResult(w io.Writer, m ResultMessage) error {
	return writeResultMessage(w, m)
}

func (c CommandCode) String() string {
	switch c {
	case ModuleOutput:
		return "ModuleOutput"
	default:
		return fmt.Sprintf("CommandCode(%d)", uint8(c))
	}
}
