package runtime

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// runtimeMetrics instruments the dispatch table, crypto operations, and EM
// round-trips, grounded on the teacher's api0.apiMetrics / nspkt.Listener
// metrics blocks: per-outcome counters under a private metrics.Set so
// multiple Runtime values (e.g. in tests) don't collide on the global
// default set.
type runtimeMetrics struct {
	set *metrics.Set

	dispatch struct {
		ok             *metrics.Counter
		illegalPayload *metrics.Counter
		badRequest     *metrics.Counter
		cryptoError    *metrics.Counter
		internalError  *metrics.Counter
	}

	emitOutputPeersTotal      *metrics.Counter
	emitOutputEncryptFailures *metrics.Counter
	emitRequestsTotal         *metrics.Counter
	emitRequestFailuresTotal  *metrics.Counter

	emRoundTripSeconds *metrics.Histogram
}

func newRuntimeMetrics() *runtimeMetrics {
	m := &runtimeMetrics{set: metrics.NewSet()}
	m.dispatch.ok = m.set.NewCounter(`authexec_dispatch_total{result="ok"}`)
	m.dispatch.illegalPayload = m.set.NewCounter(`authexec_dispatch_total{result="illegal_payload"}`)
	m.dispatch.badRequest = m.set.NewCounter(`authexec_dispatch_total{result="bad_request"}`)
	m.dispatch.cryptoError = m.set.NewCounter(`authexec_dispatch_total{result="crypto_error"}`)
	m.dispatch.internalError = m.set.NewCounter(`authexec_dispatch_total{result="internal_error"}`)

	m.emitOutputPeersTotal = m.set.NewCounter(`authexec_emit_output_peers_total`)
	m.emitOutputEncryptFailures = m.set.NewCounter(`authexec_emit_output_encrypt_failures_total`)
	m.emitRequestsTotal = m.set.NewCounter(`authexec_emit_requests_total`)
	m.emitRequestFailuresTotal = m.set.NewCounter(`authexec_emit_request_failures_total`)

	m.emRoundTripSeconds = m.set.NewHistogram(`authexec_em_round_trip_seconds`)
	return m
}

func (m *runtimeMetrics) dispatchTotal(rc ResultCode) {
	switch rc {
	case Ok:
		m.dispatch.ok.Inc()
	case IllegalPayload:
		m.dispatch.illegalPayload.Inc()
	case BadRequest:
		m.dispatch.badRequest.Inc()
	case CryptoError:
		m.dispatch.cryptoError.Inc()
	case InternalError:
		m.dispatch.internalError.Inc()
	}
}

// WritePrometheus writes prometheus text metrics for the runtime to w.
func (r *Runtime) WritePrometheus(w io.Writer) {
	r.metrics.set.WritePrometheus(w)
}
