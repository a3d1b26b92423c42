package main

import (
	"net"

	"github.com/r2northstar/authexec/pkg/runtime"
)

// Index constants for the demo module's endpoints. Real values would come
// from the (out-of-scope) annotation-driven code generator; these mirror
// original_source's example/input and example/output modules.
// requestGetValue is declared but no wrapper below issues a request on it.
const (
	outputButtonPressed uint16 = 16384
	outputValue         uint16 = 16385
	requestGetValue     uint16 = 32768
	handlerGetValue     uint16 = 49152

	entrypointPressButton uint16 = 5
)

// exampleRuntime is bound by main after the Runtime is constructed, so the
// sm_input and sm_entry wrappers below can call HandleOutput on it. Mirrors
// how generated wrappers close over a runtime handle that doesn't exist yet
// at table-construction time.
var exampleRuntime *runtime.Runtime

func exampleBindRuntime(r *runtime.Runtime) { exampleRuntime = r }

// exampleTables stands in for what the (out-of-scope) annotation-driven
// code generator would emit from user source like original_source's
// example/input and example/output modules: one sm_input, one sm_handler,
// and one sm_entry function wired into the static registry, the first and
// last of which emit on an output. User endpoint bodies are themselves opaque to the
// runtime (spec §1); these are just enough to exercise every entry point of
// a running module.
func exampleTables() *runtime.Tables {
	t := runtime.NewTables()

	// sm_input: forwards whatever it receives straight to an output.
	t.Inputs[0] = func(data []byte) {
		if exampleRuntime != nil {
			exampleRuntime.HandleOutput(outputValue, data)
		}
	}

	// sm_handler: answers a request with a fixed reply.
	t.Handlers[handlerGetValue] = func(_ []byte) []byte {
		return []byte{1, 2, 3, 4}
	}

	// sm_entry: a user-triggered action reachable directly through Dispatch,
	// fires an output with no payload.
	t.Entrypoints[entrypointPressButton] = func(_ []byte) runtime.ResultMessage {
		if exampleRuntime != nil {
			exampleRuntime.HandleOutput(outputButtonPressed, nil)
		}
		return runtime.ResultMessage{Code: runtime.Ok}
	}

	return t
}

// insecureAttestor is a placeholder Attestor for local testing only: it
// reads exactly one message from the provisioning client and treats it
// verbatim as the derived secret, performing no actual attestation. A real
// deployment wires in the SGX attestation collaborator referenced by
// spec §4.11 instead.
type insecureAttestor struct{}

func (insecureAttestor) Attest(conn net.Conn, _ []byte) ([]byte, error) {
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
