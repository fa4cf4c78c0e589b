package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherDeliversToSubscribers(t *testing.T) {
	dispatcher := NewInMemoryDispatcher()

	var received []Event
	dispatcher.Subscribe(EventLicenseActivated, func(_ context.Context, event Event) error {
		received = append(received, event)
		return nil
	})
	dispatcher.Subscribe(EventLicenseRevoked, func(_ context.Context, event Event) error {
		t.Fatal("wrong event type delivered")
		return nil
	})

	err := dispatcher.Publish(context.Background(), Event{
		Type:       EventLicenseActivated,
		LicenseKey: "AAAA-BBBB-CCCC-DDDD",
	})
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, "AAAA-BBBB-CCCC-DDDD", received[0].LicenseKey)
}

func TestDispatcherContinuesPastHandlerErrors(t *testing.T) {
	dispatcher := NewInMemoryDispatcher()

	var calls int
	dispatcher.Subscribe(EventLicenseExpired, func(context.Context, Event) error {
		calls++
		return errors.New("handler failed")
	})
	dispatcher.Subscribe(EventLicenseExpired, func(context.Context, Event) error {
		calls++
		return nil
	})

	err := dispatcher.Publish(context.Background(), Event{Type: EventLicenseExpired})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDispatcherNoSubscribers(t *testing.T) {
	dispatcher := NewInMemoryDispatcher()
	assert.NoError(t, dispatcher.Publish(context.Background(), Event{Type: EventLicenseCreated}))
}
