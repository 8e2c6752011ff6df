package sse

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/glycopilot/glycopilot-backend/internal/logger"
)

func newHub(t *testing.T) *SSEHub {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	return NewSSEHub(log)
}

func TestBroadcastReachesSubscribedClient(t *testing.T) {
	hub := newHub(t)
	patientID := uuid.New()
	client := hub.NewSSEClient(patientID)
	hub.AddChannel(client, patientID.String())

	hub.Broadcast(SSEMessage{
		Channel: patientID.String(),
		Event:   SSEEventCgmReading,
		Data:    map[string]any{"bg_value": 132.0},
	})

	require.Len(t, client.Outbound, 1)
	msg := <-client.Outbound
	require.Equal(t, SSEEventCgmReading, msg.Event)
	require.Equal(t, patientID.String(), msg.Channel)
}

func TestBroadcastSkipsOtherChannels(t *testing.T) {
	hub := newHub(t)
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "patient-a")

	hub.Broadcast(SSEMessage{Channel: "patient-b", Event: SSEEventFinetuneProgress})
	require.Empty(t, client.Outbound)
}

func TestRemoveChannelStopsDelivery(t *testing.T) {
	hub := newHub(t)
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "ch")
	hub.RemoveChannel(client, "ch")

	hub.Broadcast(SSEMessage{Channel: "ch", Event: SSEEventFinetuneQueued})
	require.Empty(t, client.Outbound)
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := newHub(t)
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "ch")

	// Fill the buffer past capacity; Broadcast must never block.
	for i := 0; i < cap(client.Outbound)+5; i++ {
		hub.Broadcast(SSEMessage{Channel: "ch", Event: SSEEventFinetuneProgress})
	}
	require.Len(t, client.Outbound, cap(client.Outbound))
}

func TestCloseClientClearsSubscriptions(t *testing.T) {
	hub := newHub(t)
	client := hub.NewSSEClient(uuid.New())
	hub.AddChannel(client, "ch")
	hub.CloseClient(client)

	require.Empty(t, client.Channels)
	// Channel map entry is gone, broadcast is a no-op.
	hub.Broadcast(SSEMessage{Channel: "ch", Event: SSEEventFinetuneFailed})
}
