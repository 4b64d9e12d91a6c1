package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedMessage marks an inbound frame that failed to parse or
// validate. The session drops these frames; they never reach the reconciler.
var ErrMalformedMessage = errors.New("malformed message")

// Decoder turns raw event-stream frames into the closed Event set. Payloads
// are validated structurally before anything is handed downstream.
type Decoder struct {
	validate *validator.Validate
}

func NewDecoder() *Decoder {
	return &Decoder{validate: newValidator()}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(GeoPoint)
		if lat := p.Lat(); lat < -90 || lat > 90 {
			sl.ReportError(p.Coordinates, "coordinates", "Coordinates", "latitude", "")
		}
		if lng := p.Lng(); lng < -180 || lng > 180 {
			sl.ReportError(p.Coordinates, "coordinates", "Coordinates", "longitude", "")
		}
	}, GeoPoint{})
	return v
}

// Decode parses one raw frame. Unknown topics, unparsable payloads and
// payloads missing required fields all come back as ErrMalformedMessage with
// detail attached.
func (d *Decoder) Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid frame: %v", ErrMalformedMessage, err)
	}
	if env.Topic == "" {
		return nil, fmt.Errorf("%w: frame has no topic", ErrMalformedMessage)
	}

	switch env.Topic {
	case TopicIncidentSnapshot:
		var p struct {
			Incident   IncidentPayload    `json:"incident" validate:"required"`
			Responders []ResponderPayload `json:"responders" validate:"dive"`
		}
		if err := d.decodePayload(env, &p); err != nil {
			return nil, err
		}
		return SnapshotEvent{Incident: p.Incident, Responders: p.Responders}, nil

	case TopicResponderJoined:
		var p struct {
			IncidentID     string           `json:"incidentId" validate:"required"`
			Responder      ResponderPayload `json:"responder" validate:"required"`
			ResponderCount int              `json:"responderCount" validate:"min=0"`
			Status         IncidentStatus   `json:"status" validate:"omitempty,oneof=reported active closed"`
		}
		if err := d.decodePayload(env, &p); err != nil {
			return nil, err
		}
		return ResponderJoinedEvent{
			IncidentID:     p.IncidentID,
			Responder:      p.Responder,
			ResponderCount: p.ResponderCount,
			Status:         p.Status,
		}, nil

	case TopicResponderLocationUpdate:
		var p struct {
			IncidentID  string   `json:"incidentId" validate:"required"`
			ResponderID string   `json:"responderId" validate:"required"`
			Location    GeoPoint `json:"location"`
		}
		if err := d.decodePayload(env, &p); err != nil {
			return nil, err
		}
		return ResponderLocationEvent{
			IncidentID:  p.IncidentID,
			ResponderID: p.ResponderID,
			Location:    p.Location,
		}, nil

	case TopicResponderETAUpdate:
		var p struct {
			ResponderID string    `json:"responderId" validate:"required"`
			Text        string    `json:"etaText" validate:"required"`
			Method      ETAMethod `json:"method" validate:"required,oneof=route straightline"`
		}
		if err := d.decodePayload(env, &p); err != nil {
			return nil, err
		}
		return ResponderETAEvent{
			ResponderID: p.ResponderID,
			ETA:         ETAPayload{Text: p.Text, Method: p.Method},
		}, nil

	case TopicIncidentClosed:
		var p struct {
			IncidentID string `json:"incidentId" validate:"required"`
		}
		if err := d.decodePayload(env, &p); err != nil {
			return nil, err
		}
		return IncidentClosedEvent{IncidentID: p.IncidentID}, nil
	}

	return nil, fmt.Errorf("%w: unknown topic %q", ErrMalformedMessage, env.Topic)
}

func (d *Decoder) decodePayload(env envelope, dst interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: topic %s has no payload", ErrMalformedMessage, env.Topic)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: topic %s: %v", ErrMalformedMessage, env.Topic, err)
	}
	if err := d.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: topic %s: %v", ErrMalformedMessage, env.Topic, err)
	}
	return nil
}

// Encode frames a payload under a topic for the event stream. Used for the
// outbound watch announce and by the simulator when replaying scenarios.
func Encode(topic string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", topic, err)
	}
	return json.Marshal(envelope{Topic: topic, Data: data})
}
