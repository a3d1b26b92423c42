package runtime

import "net"

// Attestor is the external remote-attestation collaborator the optional
// bootstrap delegates to (§4.11, §9 "Attestation collaborator is
// abstracted as a function attest(port, verifying_key) -> secret_bytes").
// The core only ever needs the derived secret; it has no opinion on how
// attestation is actually performed.
type Attestor interface {
	Attest(conn net.Conn, verifyingKey []byte) (secret []byte, err error)
}

// attestEntrypoint returns the ENTRYPOINTS[1] handler for the attest
// reserved id. The body is intentionally unspecified by the protocol
// (§4.9); it always returns BadRequest, the spec's stated default, whether
// or not an Attestor is wired in.
func (r *Runtime) attestEntrypoint(attestor Attestor) EntrypointFunc {
	return func(body []byte) ResultMessage {
		if attestor == nil {
			return ResultMessage{Code: BadRequest}
		}
		// The attest entrypoint's body framing is a collaborator concern
		// outside this spec; the bootstrap path (Bootstrap, below) is the
		// supported way to provision MODULE_KEY via attestation. A module
		// built in attestation mode never reaches this entrypoint during
		// normal operation, since Bootstrap runs before the data-plane
		// listener binds.
		return ResultMessage{Code: BadRequest}
	}
}

// Bootstrap implements the SGX attestation variant's startup sequence
// (§4.11): bind addr, accept exactly one client, delegate to attestor with
// verifyingKey, and use the derived secret as MODULE_KEY. Any failure here
// is fatal — there is no degraded mode — so callers are expected to treat a
// non-nil error as cause to abort startup entirely.
func Bootstrap(addr string, verifyingKey []byte, attestor Attestor) ([]byte, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	secret, err := attestor.Attest(conn, verifyingKey)
	if err != nil {
		return nil, err
	}
	return secret, nil
}
