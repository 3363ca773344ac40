package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptRecord is returned when a stored session blob cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt session record")

// Encode serializes a session for cache storage.
func Encode(sess *Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("nil session")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

// Decode deserializes a cached session blob.
func Decode(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &sess, nil
}

// payload is the quota-relevant slice of a session. Identity, timestamps and
// bookkeeping fields are excluded: the quota bounds what modules write, not
// what the engine maintains.
type payload struct {
	Context         map[string]any `json:"context"`
	Metadata        map[string]any `json:"metadata"`
	CrossModuleData map[string]any `json:"crossModuleData"`
	ExecutionState  map[string]any `json:"executionState"`
}

// PayloadSize returns the serialized byte size of the mutable payload
// {context, metadata, crossModuleData, executionState}. This is the value
// compared against the session's memory limit after every mutation.
func PayloadSize(sess *Session) (int64, error) {
	data, err := json.Marshal(payload{
		Context:         sess.Context,
		Metadata:        sess.Metadata,
		CrossModuleData: sess.CrossModuleData,
		ExecutionState:  sess.ExecutionState,
	})
	if err != nil {
		return 0, fmt.Errorf("measure session payload: %w", err)
	}
	return int64(len(data)), nil
}
