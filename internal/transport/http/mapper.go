package http

import (
	"encoding/json"

	"github.com/vovakirdan/wiresignal-server/internal/core"
	"github.com/vovakirdan/wiresignal-server/internal/proto"
)

// envelopeToMessage validates a frame read from client and turns it into a
// relay message. The source is always the connection's client id.
func envelopeToMessage(client *core.Client, env proto.Envelope) (core.Message, *core.CoreError) {
	kind := core.MessageType(env.Type)
	switch kind {
	case core.MessageHeartbeat, core.MessageLeave:
	case core.MessageCandidate, core.MessageOffer, core.MessageAnswer:
		if env.Dst == "" {
			return core.Message{}, core.NewCoreError(core.ErrCodeBadRequest, "dst is required")
		}
	case "":
		return core.Message{}, core.NewCoreError(core.ErrCodeBadRequest, "type is required")
	default:
		return core.Message{}, core.NewCoreError(core.ErrCodeBadRequest, "unsupported message type")
	}

	return core.Message{
		Type:        kind,
		Source:      client.ID,
		Destination: env.Dst,
		Payload:     string(env.Payload),
	}, nil
}

func messageToEnvelope(msg core.Message) proto.Envelope {
	env := proto.Envelope{
		Type: string(msg.Type),
		Src:  msg.Source,
		Dst:  msg.Destination,
	}
	if msg.Payload != "" {
		env.Payload = json.RawMessage(msg.Payload)
	}
	return env
}

// errorMessage builds an ERROR message addressed to a single client.
func errorMessage(cerr *core.CoreError) core.Message {
	payload, _ := json.Marshal(proto.ErrorPayload{Msg: cerr.Message})
	return core.NewMessage(core.MessageError, string(payload))
}
