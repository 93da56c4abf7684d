package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadKnownType(t *testing.T) {
	payload, err := DecodePayload(CompensationClaimed, []byte(`{"amount":100000,"method":"unit-prices"}`))
	require.NoError(t, err)

	claim, ok := payload.(CompensationClaimedEvent)
	require.True(t, ok, "decoded payload should be a value, got %T", payload)
	assert.Equal(t, int64(100000), claim.Amount)
	assert.Equal(t, MethodUnitPrices, claim.Method)
}

func TestDecodePayloadUnknownTypeKeepsRaw(t *testing.T) {
	raw := []byte(`{"anything":true}`)
	payload, err := DecodePayload("V2_SOMETHING_NEW", raw)
	require.NoError(t, err)

	unknown, ok := payload.(UnknownPayload)
	require.True(t, ok)
	assert.Equal(t, EventType("V2_SOMETHING_NEW"), unknown.EventType())
	assert.JSONEq(t, string(raw), string(unknown.Raw))

	encoded, err := EncodePayload(unknown)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(encoded))
}

func TestDecodePayloadRejectsMalformedKnownType(t *testing.T) {
	_, err := DecodePayload(DeadlineClaimed, []byte(`{"days":"fourteen"}`))
	assert.Error(t, err)
}

func TestEventUnmarshalCorruptPayload(t *testing.T) {
	data := []byte(`{"case_id":"C1","position":2,"event_type":"V1_DEADLINE_CLAIMED","timestamp":"2026-03-02T09:00:00Z","payload":{"days":"x"},"actor":null}`)

	var e Event
	err := json.Unmarshal(data, &e)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruption))

	var corruption *CorruptionError
	require.True(t, errors.As(err, &corruption))
	assert.Equal(t, "C1", corruption.CaseID)
	assert.Equal(t, 2, corruption.Position)
	assert.Equal(t, DeadlineClaimed, corruption.Type)
}

func TestEventJSONRecordShape(t *testing.T) {
	e := Event{
		CaseID:    "C1",
		Type:      DeadlineClaimed,
		Position:  3,
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600)),
		Actor:     "pm@example.com",
		Payload:   DeadlineClaimedEvent{Days: 14},
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"case_id": "C1",
		"position": 3,
		"event_type": "V1_DEADLINE_CLAIMED",
		"timestamp": "2026-03-02T09:00:00Z",
		"payload": {"days": 14},
		"actor": "pm@example.com"
	}`, string(data))

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, e.Payload, back.Payload)
	assert.True(t, e.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, time.UTC, back.Timestamp.Location())
}

func TestEventJSONWithoutActor(t *testing.T) {
	data, err := json.Marshal(Event{CaseID: "C1", Type: CaseCreated, Position: 1, Timestamp: t0, Payload: CaseCreatedEvent{Title: "x"}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"actor":null`)
}
