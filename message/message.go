// Package message is the request/reply protocol between the worker and its
// foreground contexts. A request carries only a reply Port; the answer is
// posted to that port once.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Type string

const (
	RequestSync     Type = "REQUEST_SYNC"
	RequestFileSync Type = "REQUEST_FILE_SYNC"
	SyncResult      Type = "SYNC_RESULT"
	SyncError       Type = "SYNC_ERROR"
	FileSyncResult  Type = "FILE_SYNC_RESULT"
	FileSyncError   Type = "FILE_SYNC_ERROR"
	// SkipWaiting is unsolicited: any foreground context may send it to
	// activate a waiting worker version right away.
	SkipWaiting Type = "SKIP_WAITING"
)

func (t Type) Known() bool {
	switch t {
	case RequestSync, RequestFileSync, SyncResult, SyncError, FileSyncResult, FileSyncError, SkipWaiting:
		return true
	}
	return false
}

// ErrorReply returns the *_ERROR type that answers request type t.
func (t Type) ErrorReply() (Type, bool) {
	switch t {
	case RequestSync:
		return SyncError, true
	case RequestFileSync:
		return FileSyncError, true
	}
	return "", false
}

// Message is one protocol frame. Success and Failed are set on *_RESULT,
// Error on *_ERROR. Port names the reply port when the frame crosses a
// process boundary.
type Message struct {
	Type    Type   `json:"type"`
	Success int    `json:"success,omitempty"`
	Failed  int    `json:"failed,omitempty"`
	Error   string `json:"error,omitempty"`
	Port    string `json:"port,omitempty"`
}

var ErrMalformed = errors.New("message: malformed")

func Result(t Type, success, failed int) Message {
	return Message{Type: t, Success: success, Failed: failed}
}

func Failure(t Type, err error) Message {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Message{Type: t, Error: msg}
}

// Validate checks the frame shape against its type.
func (m Message) Validate() error {
	switch m.Type {
	case SyncResult, FileSyncResult:
		if m.Success < 0 || m.Failed < 0 {
			return fmt.Errorf("%w: %s with negative counts", ErrMalformed, m.Type)
		}
		if m.Error != "" {
			return fmt.Errorf("%w: %s carries an error", ErrMalformed, m.Type)
		}
	case SyncError, FileSyncError:
		if m.Error == "" {
			return fmt.Errorf("%w: %s without error text", ErrMalformed, m.Type)
		}
	case RequestSync, RequestFileSync, SkipWaiting:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	return nil
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates one JSON frame.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
