package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishEscalationRaisedSetsTypeAndChannel(t *testing.T) {
	m := NewManager(time.Second, nil)
	p := NewPublisher(m)

	p.PublishEscalationRaised("out_1", EscalationRaisedPayload{EscalationID: "esc_1", OutcomeID: "out_1"})

	buf := m.History(OutcomeChannel("out_1"))

	require.Len(t, buf, 1)
	assert.Equal(t, EventTypeEscalationRaised, buf[0].Type)
	payload, ok := buf[0].Payload.(EscalationRaisedPayload)
	require.True(t, ok)
	assert.Equal(t, EventTypeEscalationRaised, payload.Type)
	assert.Equal(t, "esc_1", payload.EscalationID)
}

func TestPublishAlertResolvedRoutesToOutcomeChannel(t *testing.T) {
	m := NewManager(time.Second, nil)
	p := NewPublisher(m)

	p.PublishAlertResolved("out_2", AlertResolvedPayload{AlertID: "alrt_1", OutcomeID: "out_2"})

	require.Len(t, m.History(OutcomeChannel("out_2")), 1)
	require.Empty(t, m.History(OutcomeChannel("out_1")))
}
