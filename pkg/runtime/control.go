package runtime

import "github.com/r2northstar/authexec/pkg/endpoint"

// setKey implements the set_key entrypoint (§4.2): session provisioning.
//
// Payload: enc(1) || conn_id(2) || index(2) || nonce(2) || cipher(rest).
func (r *Runtime) setKey(body []byte) ResultMessage {
	req, ok := parseSetKeyPayload(body)
	if !ok {
		return ResultMessage{Code: IllegalPayload}
	}

	var key []byte
	rc := r.provisioning.validate(req.Nonce, func() bool {
		var err error
		key, err = open(Aes, r.cfg.ModuleKey, req.Nonce, req.associatedData(), req.Cipher)
		if err != nil {
			r.log.Warn().Err(err).Uint16("conn_id", req.ConnID).Msg("set_key: decrypt failed")
			return false
		}
		return true
	})
	if rc != Ok {
		return ResultMessage{Code: rc}
	}

	conn := &Connection{
		Index:      req.Index,
		Nonce:      0,
		Key:        key,
		Encryption: req.Enc,
	}
	r.connections.set(req.ConnID, conn)

	switch {
	case endpoint.IsOutput(req.Index):
		r.outputs.add(req.Index, req.ConnID)
	case endpoint.IsRequest(req.Index):
		r.requests.set(req.Index, req.ConnID)
	}

	r.log.Info().Uint16("conn_id", req.ConnID).Uint16("index", req.Index).
		Str("kind", endpoint.Classify(req.Index).String()).Msg("set_key: provisioned connection")

	return ResultMessage{Code: Ok}
}

// disable implements the disable entrypoint (§4.8): validates the
// administrative nonce, decrypts the authorization cipher with the
// long-term key, then atomically empties CONNECTIONS, OUTPUTS, and
// REQUESTS. After a successful disable, every data-plane entrypoint fails
// cleanly until a new set_key.
//
// Payload: nonce(2) || cipher(rest).
func (r *Runtime) disable(body []byte) ResultMessage {
	req, ok := parseDisablePayload(body)
	if !ok {
		return ResultMessage{Code: IllegalPayload}
	}

	rc := r.provisioning.validate(req.Nonce, func() bool {
		_, err := open(Aes, r.cfg.ModuleKey, req.Nonce, disableAssociatedData(req.Nonce), req.Cipher)
		if err != nil {
			r.log.Warn().Err(err).Msg("disable: decrypt failed")
			return false
		}
		return true
	})
	if rc != Ok {
		return ResultMessage{Code: rc}
	}

	// All three table locks are held together so no reader observes one
	// table emptied while another still holds entries.
	r.connections.Lock()
	r.outputs.mu.Lock()
	r.requests.mu.Lock()
	r.connections.m = make(map[uint16]*Connection)
	r.outputs.m = make(map[uint16]map[uint16]struct{})
	r.requests.m = make(map[uint16]uint16)
	r.requests.mu.Unlock()
	r.outputs.mu.Unlock()
	r.connections.Unlock()

	r.log.Info().Msg("disable: module is now inert")
	return ResultMessage{Code: Ok}
}
