package runtime

import "github.com/r2northstar/authexec/pkg/endpoint"

// handleInput implements the handle_input entrypoint (§4.3).
//
// Payload: conn_id(2) || ciphertext(rest).
func (r *Runtime) handleInput(body []byte) ResultMessage {
	req, ok := parseConnIDCipherPayload(body)
	if !ok {
		return ResultMessage{Code: IllegalPayload}
	}

	plaintext, index, rc := r.decryptDataPlane(req.ConnID, req.Ciphertext)
	if rc != Ok {
		return ResultMessage{Code: rc}
	}

	if !endpoint.IsInput(index) {
		// A connection bound to a non-Input index reaching handle_input
		// means CONNECTIONS disagrees with how it was provisioned.
		r.log.Error().Uint16("conn_id", req.ConnID).Uint16("index", index).
			Msg("handle_input: connection's index is not an input endpoint")
		return ResultMessage{Code: InternalError}
	}

	// The connections lock is released before calling into user code: the
	// callback may re-enter the runtime via HandleOutput or HandleRequest.
	fn, ok := r.tables.Inputs[index]
	if !ok {
		return ResultMessage{Code: BadRequest}
	}
	fn(plaintext)

	return ResultMessage{Code: Ok}
}

// handleHandler implements the handle_handler entrypoint (§4.4).
//
// Payload: conn_id(2) || ciphertext(rest). The connection's nonce advances
// by exactly two: once for the decrypt performed here, once for the encrypt
// that follows — both increments happen before the handler runs, so a
// mid-operation failure still advances both sides and no replay window
// opens up.
func (r *Runtime) handleHandler(body []byte) ResultMessage {
	req, ok := parseConnIDCipherPayload(body)
	if !ok {
		return ResultMessage{Code: IllegalPayload}
	}

	var (
		plaintext    []byte
		index        uint16
		key          []byte
		enc          Encryption
		decryptNonce uint16
		encryptNonce uint16
	)

	r.connections.Lock()
	conn, found := r.connections.lookupLocked(req.ConnID)
	if !found {
		r.connections.Unlock()
		return ResultMessage{Code: BadRequest}
	}
	index, key, enc = conn.Index, conn.Key, conn.Encryption
	decryptNonce = conn.Nonce

	var err error
	plaintext, err = open(enc, key, decryptNonce, nonceAD(decryptNonce), req.Ciphertext)
	if err != nil {
		r.connections.Unlock()
		r.log.Warn().Err(err).Uint16("conn_id", req.ConnID).Msg("handle_handler: decrypt failed")
		return ResultMessage{Code: CryptoError}
	}

	// increment once for the decrypt just performed, once for the encrypt
	// that will follow, both before the handler executes.
	if _, err := conn.nextNonce(); err != nil {
		r.connections.Unlock()
		return ResultMessage{Code: CryptoError}
	}
	if encryptNonce, err = conn.nextNonce(); err != nil {
		r.connections.Unlock()
		return ResultMessage{Code: CryptoError}
	}
	r.connections.Unlock()

	if !endpoint.IsHandler(index) {
		r.log.Error().Uint16("conn_id", req.ConnID).Uint16("index", index).
			Msg("handle_handler: connection's index is not a handler endpoint")
		return ResultMessage{Code: InternalError}
	}

	handler, ok := r.tables.Handlers[index]
	if !ok {
		// a handler-index with a provisioned connection but no registered
		// callback indicates corrupted static tables, not a bad request.
		r.log.Error().Uint16("index", index).Msg("handle_handler: no handler registered for index")
		return ResultMessage{Code: InternalError}
	}

	reply := handler(plaintext)

	ciphertext, err := seal(enc, key, encryptNonce, nonceAD(encryptNonce), reply)
	if err != nil {
		r.log.Warn().Err(err).Uint16("conn_id", req.ConnID).Msg("handle_handler: encrypt failed")
		return ResultMessage{Code: CryptoError}
	}

	return ResultMessage{Code: Ok, Data: ciphertext}
}

// decryptDataPlane looks up connID, decrypts ciphertext with its current
// nonce, and advances the nonce by one, all under the connections lock. It
// returns the connection's bound endpoint index so the caller can resolve
// the right callback after releasing the lock.
func (r *Runtime) decryptDataPlane(connID uint16, ciphertext []byte) (plaintext []byte, index uint16, rc ResultCode) {
	r.connections.Lock()
	defer r.connections.Unlock()

	conn, found := r.connections.lookupLocked(connID)
	if !found {
		return nil, 0, BadRequest
	}

	nonce := conn.Nonce
	pt, err := open(conn.Encryption, conn.Key, nonce, nonceAD(nonce), ciphertext)
	if err != nil {
		r.log.Warn().Err(err).Uint16("conn_id", connID).Msg("decrypt failed")
		return nil, 0, CryptoError
	}

	if _, err := conn.nextNonce(); err != nil {
		return nil, 0, CryptoError
	}

	return pt, conn.Index, Ok
}
