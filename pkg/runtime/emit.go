package runtime

// HandleOutput is the user-code-callable primitive that fires cleartext to
// every connection fanned out from output endpoint index (§4.5). It never
// blocks on a reply from the Event Manager.
//
// A disconnected output (no peers, or an unknown index) is legal and
// silently succeeds. Per-peer encryption failure aborts the entire
// emission without attempting further peers; a peer whose connection id has
// gone missing from CONNECTIONS is logged and skipped, and the loop
// continues with the remaining peers.
func (r *Runtime) HandleOutput(index uint16, cleartext []byte) error {
	peers := r.outputs.peers(index)

	for _, connID := range peers {
		r.connections.Lock()

		conn, found := r.connections.lookupLocked(connID)
		if !found {
			r.connections.Unlock()
			r.log.Warn().Uint16("index", index).Uint16("conn_id", connID).
				Msg("handle_output: connection missing from table, skipping peer")
			continue
		}

		nonce := conn.Nonce
		ciphertext, err := seal(conn.Encryption, conn.Key, nonce, nonceAD(nonce), cleartext)
		if err != nil {
			r.connections.Unlock()
			r.metrics.emitOutputEncryptFailures.Inc()
			return wrapErrorf(ErrCryptoError, "encrypt for conn %d: %v", connID, err)
		}
		if _, err := conn.nextNonce(); err != nil {
			r.connections.Unlock()
			return err
		}

		r.metrics.emitOutputPeersTotal.Inc()

		// The connections lock is released only after the outbound write to
		// the EM has been submitted, so this module's emissions are observed
		// by the EM in the order they were issued (§5).
		if _, err := r.sendToEM(EntrypointHandleInput, connID, ciphertext, r.connections.Unlock, false); err != nil {
			r.log.Warn().Err(err).Uint16("index", index).Uint16("conn_id", connID).
				Msg("handle_output: EM send failed")
		}
	}

	return nil
}

// HandleRequest is the user-code-callable primitive that sends cleartext as
// a request to the single connection bound to request endpoint index and
// blocks for the reply (§4.6).
func (r *Runtime) HandleRequest(index uint16, cleartext []byte) ([]byte, error) {
	connID, found := r.requests.get(index)
	if !found {
		return nil, ErrNoConnectionForRequest
	}

	r.connections.Lock()

	conn, found := r.connections.lookupLocked(connID)
	if !found {
		r.connections.Unlock()
		r.log.Error().Uint16("index", index).Uint16("conn_id", connID).
			Msg("handle_request: connection missing from table")
		return nil, wrapErrorf(ErrInternal, "connection %d missing from table", connID)
	}

	key, enc := conn.Key, conn.Encryption
	encryptNonce := conn.Nonce

	ciphertext, err := seal(enc, key, encryptNonce, nonceAD(encryptNonce), cleartext)
	if err != nil {
		r.connections.Unlock()
		return nil, wrapErrorf(ErrCryptoError, "encrypt: %v", err)
	}

	// Both increments — for the encrypt just performed and for the decrypt
	// that follows the EM round-trip — happen before the network call, for
	// the same replay-window rationale as handle_handler.
	if _, err := conn.nextNonce(); err != nil {
		r.connections.Unlock()
		return nil, err
	}
	decryptNonce, err := conn.nextNonce()
	if err != nil {
		r.connections.Unlock()
		return nil, err
	}

	r.metrics.emitRequestsTotal.Inc()

	result, err := r.sendToEM(EntrypointHandleHandler, connID, ciphertext, r.connections.Unlock, true)
	if err != nil {
		r.metrics.emitRequestFailuresTotal.Inc()
		return nil, err
	}

	if result.Code != Ok || len(result.Data) == 0 {
		r.metrics.emitRequestFailuresTotal.Inc()
		return nil, ErrBadResponse
	}

	plaintext, err := open(enc, key, decryptNonce, nonceAD(decryptNonce), result.Data)
	if err != nil {
		r.metrics.emitRequestFailuresTotal.Inc()
		return nil, wrapErrorf(ErrCryptoError, "decrypt reply: %v", err)
	}

	return plaintext, nil
}
