package protocol

import "fmt"

// HandlerFunc consumes the raw bytes of one already-tagged message.
type HandlerFunc func(data []byte) error

// Dispatcher routes incoming messages by their type tag. Both sides of the
// connection own one dispatcher; unknown tags surface as UnknownTypeError so
// the caller can answer with an error message instead of dropping the
// connection.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher creates an empty dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Register installs the handler for a message type, replacing any previous
// handler for the same tag.
func (d *Dispatcher) Register(msgType string, fn HandlerFunc) {
	d.handlers[msgType] = fn
}

// Dispatch decodes the envelope and invokes the matching handler.
func (d *Dispatcher) Dispatch(data []byte) error {
	msgType, err := MessageType(data)
	if err != nil {
		return err
	}
	fn, ok := d.handlers[msgType]
	if !ok {
		return &UnknownTypeError{Type: msgType}
	}
	return fn(data)
}

// UnknownTypeError marks a message whose tag has no registered handler.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("protocol: no handler for message type %q", e.Type)
}
