package signaling

// Kind classifies an Error.
type Kind int

// Error kinds.
const (
	// KindValidation is a malformed envelope, a non-POST request, a missing
	// field or an unknown method.
	KindValidation Kind = iota

	// KindConflict is a failed conditional write.
	KindConflict

	// KindStore is any other store failure.
	KindStore

	// KindNotFound is a missing channel or a missing channel field.
	KindNotFound
)

// Error is returned by all RPC methods. Msg is the public message sent
// to the client.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func newErr(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindStore:
		return "store"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}
