package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

func TestMultiFansOutAndSwallowsErrors(t *testing.T) {
	var got []string
	failing := SinkFunc(func(context.Context, Event) error {
		got = append(got, "failing")
		return errors.New("boom")
	})
	ok := SinkFunc(func(_ context.Context, ev Event) error {
		got = append(got, "ok:"+ev.SessionID)
		assert.False(t, ev.Timestamp.IsZero())
		return nil
	})

	m := NewMulti(logger.NewNop(), failing, nil, ok)
	require.Equal(t, 2, m.Len())
	require.NoError(t, m.Publish(context.Background(), Event{Type: EventSessionReady, SessionID: "s1"}))
	assert.Equal(t, []string{"failing", "ok:s1"}, got)
}

func TestOperatorAlert(t *testing.T) {
	assert.True(t, operatorAlert(Event{Type: EventSessionDisconnected}))
	assert.True(t, operatorAlert(Event{Type: EventSessionAuthFailed}))
	assert.False(t, operatorAlert(Event{Type: EventPairingCode}))
	assert.False(t, operatorAlert(Event{Type: EventSessionReady}))
}

func TestAlertText(t *testing.T) {
	text := alertText(Event{
		Type:      EventSessionDisconnected,
		Tenant:    "acme",
		SessionID: "sess_1",
		Reason:    "CONNECTION_LOST",
	})
	assert.Contains(t, text, "sess_1 disconnected")
	assert.Contains(t, text, "(tenant acme)")
	assert.Contains(t, text, "Reason: CONNECTION_LOST")

	text = alertText(Event{Type: EventSessionAuthFailed, SessionID: "sess_2"})
	assert.Contains(t, text, "sess_2 failed to authenticate")
	assert.NotContains(t, text, "tenant")
}
