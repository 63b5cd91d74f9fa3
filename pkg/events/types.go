package events

import "encoding/json"

// Message is the wire form of an event as it travels over the daemon's SSE
// stream: the event name plus its JSON payload. The typed events on the Bus
// are flattened into Messages by the daemon's bridge.
type Message struct {
	Name string          // SSE event name, e.g. "calibration.over"
	Data json.RawMessage // Raw JSON payload
}

// DecodeAs decodes the message payload into the caller-specified generic
// type T. It ignores the message name and simply unmarshals Data into T. If
// Data is empty, it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[daemon.CalibrationOverPayload](msg)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Status)
func DecodeAs[T any](m Message) (T, error) {
	var zero T
	if len(m.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(m.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
