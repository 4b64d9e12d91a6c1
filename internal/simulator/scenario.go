package simulator

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jifi-app/livewatch/internal/protocol"
)

// Scenario is a scripted event stream: ordered steps replayed to every
// watcher with per-step delays. Scenarios live in memory only.
type Scenario struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Step is one scripted event frame.
type Step struct {
	DelayMS int64           `json:"delayMs"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
}

func (s Step) Delay() time.Duration {
	return time.Duration(s.DelayMS) * time.Millisecond
}

// LoadScenario reads a scenario script from a JSON file.
func LoadScenario(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("reading scenario: %w", err)
	}
	var sc Scenario
	if err := json.Unmarshal(raw, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if len(sc.Steps) == 0 {
		return Scenario{}, fmt.Errorf("scenario %s has no steps", path)
	}
	return sc, nil
}

// retarget rewrites the incident identity inside a step payload so a scripted
// scenario can be replayed for whatever incident a watcher asked about.
func retarget(step Step, incidentID string) (json.RawMessage, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(step.Data, &payload); err != nil {
		return nil, err
	}

	id, err := json.Marshal(incidentID)
	if err != nil {
		return nil, err
	}
	if _, ok := payload["incidentId"]; ok {
		payload["incidentId"] = id
	}
	if rawIncident, ok := payload["incident"]; ok {
		var incident map[string]json.RawMessage
		if err := json.Unmarshal(rawIncident, &incident); err != nil {
			return nil, err
		}
		incident["incidentId"] = id
		merged, err := json.Marshal(incident)
		if err != nil {
			return nil, err
		}
		payload["incident"] = merged
	}
	return json.Marshal(payload)
}

// DemoScenario is the built-in script: a reported incident in central
// Nairobi, two responders converging, live location and ETA traffic, then
// closure.
func DemoScenario() Scenario {
	incident := protocol.IncidentPayload{
		IncidentID:     "demo",
		Status:         protocol.StatusActive,
		Location:       protocol.NewGeoPoint(-1.28333, 36.81667),
		ResponderCount: 0,
		ResponderETAs: []protocol.ResponderETAPayload{
			{ResponderID: "resp-2", Text: "12 min", Method: protocol.ETAMethodStraightLine},
		},
	}

	resp1 := protocol.ResponderPayload{
		ResponderID: "resp-1",
		Name:        "Amina W.",
		Location:    geoPtr(protocol.NewGeoPoint(-1.2790, 36.8120)),
	}
	resp2 := protocol.ResponderPayload{
		ResponderID: "resp-2",
		Name:        "Brian O.",
	}

	return Scenario{
		Name: "demo",
		Steps: []Step{
			{DelayMS: 0, Topic: protocol.TopicIncidentSnapshot, Data: mustJSON(map[string]interface{}{
				"incident":   incident,
				"responders": []protocol.ResponderPayload{},
			})},
			{DelayMS: 800, Topic: protocol.TopicResponderJoined, Data: mustJSON(map[string]interface{}{
				"incidentId":     "demo",
				"responder":      resp1,
				"responderCount": 1,
				"status":         protocol.StatusActive,
			})},
			{DelayMS: 1000, Topic: protocol.TopicResponderLocationUpdate, Data: mustJSON(map[string]interface{}{
				"incidentId":  "demo",
				"responderId": "resp-1",
				"location":    protocol.NewGeoPoint(-1.2805, 36.8145),
			})},
			{DelayMS: 1000, Topic: protocol.TopicResponderJoined, Data: mustJSON(map[string]interface{}{
				"incidentId":     "demo",
				"responder":      resp2,
				"responderCount": 2,
				"status":         protocol.StatusActive,
			})},
			{DelayMS: 700, Topic: protocol.TopicResponderETAUpdate, Data: mustJSON(map[string]interface{}{
				"responderId": "resp-1",
				"etaText":     "4 min",
				"method":      protocol.ETAMethodRoute,
			})},
			{DelayMS: 1200, Topic: protocol.TopicResponderLocationUpdate, Data: mustJSON(map[string]interface{}{
				"incidentId":  "demo",
				"responderId": "resp-2",
				"location":    protocol.NewGeoPoint(-1.2822, 36.8160),
			})},
			{DelayMS: 1500, Topic: protocol.TopicIncidentClosed, Data: mustJSON(map[string]interface{}{
				"incidentId": "demo",
			})},
		},
	}
}

func geoPtr(p protocol.GeoPoint) *protocol.GeoPoint { return &p }

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
