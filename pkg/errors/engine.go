package errors

// EngineError is a specialized error type for failures in the KV pipeline
// (set/get/del), recovery, and the public embedding API. It embeds baseError
// and adds the context an operator needs to tell apart "this key's record is
// unreadable" from "the database itself is unusable".
type EngineError struct {
	*baseError

	// key is the user key involved in the failing operation, when known.
	key []byte

	// oid is the operation id assigned to (or read from) the record
	// involved, when known.
	oid uint64

	// op names the pipeline operation being performed: "Set", "Get",
	// "Delete", "Recover", "Compact".
	op string
}

// NewEngineError creates a new engine-specific error with the provided context.
func NewEngineError(err error, code ErrorCode, msg string) *EngineError {
	return &EngineError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the EngineError type.
func (ee *EngineError) WithMessage(msg string) *EngineError {
	ee.baseError.WithMessage(msg)
	return ee
}

// WithCode sets the error code while preserving the EngineError type.
func (ee *EngineError) WithCode(code ErrorCode) *EngineError {
	ee.baseError.WithCode(code)
	return ee
}

// WithDetail adds contextual information while maintaining the EngineError type.
func (ee *EngineError) WithDetail(key string, value any) *EngineError {
	ee.baseError.WithDetail(key, value)
	return ee
}

// WithKey records which user key was involved in the failing operation.
func (ee *EngineError) WithKey(key []byte) *EngineError {
	ee.key = key
	return ee
}

// WithOID records the operation id involved in the failing operation.
func (ee *EngineError) WithOID(oid uint64) *EngineError {
	ee.oid = oid
	return ee
}

// WithOperation records which pipeline operation was being performed.
func (ee *EngineError) WithOperation(op string) *EngineError {
	ee.op = op
	return ee
}

// Key returns the user key involved in the error, if any.
func (ee *EngineError) Key() []byte { return ee.key }

// OID returns the operation id involved in the error, if any.
func (ee *EngineError) OID() uint64 { return ee.oid }

// Operation returns the pipeline operation name.
func (ee *EngineError) Operation() string { return ee.op }

// IsEngineError reports whether err is (or wraps) an *EngineError.
func IsEngineError(err error) bool {
	_, ok := AsEngineError(err)
	return ok
}

// AsEngineError extracts an *EngineError from err's chain, if present.
func AsEngineError(err error) (*EngineError, bool) {
	for err != nil {
		if ee, ok := err.(*EngineError); ok {
			return ee, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
