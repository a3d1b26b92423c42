package runtime

// Reserved entrypoint ids. IDs 5 and above are free for user sm_entry
// functions.
const (
	EntrypointSetKey        uint16 = 0
	EntrypointAttest        uint16 = 1
	EntrypointHandleInput   uint16 = 2
	EntrypointHandleHandler uint16 = 3
	EntrypointDisable       uint16 = 4
)

// InputFunc is a user input callback: it receives decrypted plaintext and
// returns nothing.
type InputFunc func(plaintext []byte)

// HandlerFunc is a user handler callback: it receives decrypted plaintext and
// returns reply plaintext.
type HandlerFunc func(plaintext []byte) []byte

// EntrypointFunc is the signature every dispatch-table entry implements,
// including the five control entrypoints and any user sm_entry function.
type EntrypointFunc func(body []byte) ResultMessage

// Tables bundles the three static, read-only-after-startup registries
// populated by the (externally generated) module wiring: the entrypoint
// dispatch table, the input callbacks, and the handler callbacks. A single
// Tables value is shared process-wide; nothing in it is mutated once the
// Runtime starts serving.
type Tables struct {
	Entrypoints map[uint16]EntrypointFunc
	Inputs      map[uint16]InputFunc
	Handlers    map[uint16]HandlerFunc
}

// NewTables returns an empty Tables. Callers populate Inputs and Handlers
// with the generated user callbacks, then pass Tables to NewRuntime, which
// fills in Entrypoints for the five reserved ids.
func NewTables() *Tables {
	return &Tables{
		Entrypoints: make(map[uint16]EntrypointFunc),
		Inputs:      make(map[uint16]InputFunc),
		Handlers:    make(map[uint16]HandlerFunc),
	}
}
