package proto

import "encoding/json"

// Envelope is the JSON frame exchanged with peers in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the payload of an ERROR frame.
type ErrorPayload struct {
	Msg string `json:"msg"`
}

// Error builds an ERROR frame.
func Error(msg string) Envelope {
	payload, _ := json.Marshal(ErrorPayload{Msg: msg})
	return Envelope{Type: "ERROR", Payload: payload}
}
