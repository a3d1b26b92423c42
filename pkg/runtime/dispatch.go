package runtime

// Dispatch is the module's only externally reachable surface. It parses the
// outermost framing of an inbound request — the first two big-endian bytes
// are the entrypoint id — and routes the remainder to the registered
// entrypoint function. It performs no cryptography and holds no locks.
func (r *Runtime) Dispatch(payload []byte) ResultMessage {
	trace := newTraceID()

	id, body, rc := decodeEntrypointID(payload)
	if rc != Ok {
		r.metrics.dispatchTotal(rc)
		r.log.Debug().Str("trace", trace).Str("result", string(rc)).Msg("dispatch: malformed request")
		return ResultMessage{Code: rc}
	}

	fn, ok := r.tables.Entrypoints[id]
	if !ok {
		r.metrics.dispatchTotal(BadRequest)
		r.log.Debug().Str("trace", trace).Uint16("entrypoint", id).Msg("dispatch: unknown entrypoint")
		return ResultMessage{Code: BadRequest}
	}

	result := fn(body)
	r.metrics.dispatchTotal(result.Code)
	r.log.Debug().Str("trace", trace).Uint16("entrypoint", id).Str("result", string(result.Code)).Msg("dispatch: handled")
	return result
}
