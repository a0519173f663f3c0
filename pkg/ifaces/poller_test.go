package ifaces

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timeout = 5 * time.Second

func TestPoller(t *testing.T) {
	// fake net.Interfaces implementation, returning a different set of
	// interfaces on each invocation
	eth0 := Interface{Name: "eth0", Index: 1}
	eth1 := Interface{Name: "eth1", Index: 2}
	eth2 := Interface{Name: "eth2", Index: 3}
	invocation := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller := NewPoller(5*time.Millisecond, 10)
	poller.interfaces = func() ([]Interface, error) {
		invocation++
		switch invocation {
		case 1:
			return []Interface{eth0, eth1}, nil
		case 2:
			return []Interface{eth0}, nil
		default:
			return []Interface{eth0, eth2}, nil
		}
	}

	updates, err := poller.Subscribe(ctx)
	require.NoError(t, err)
	// first poll: two interfaces added
	assert.Equal(t,
		Event{Type: EventAdded, Interface: eth0},
		getEvent(t, updates, timeout))
	assert.Equal(t,
		Event{Type: EventAdded, Interface: eth1},
		getEvent(t, updates, timeout))
	// second poll: eth1 disappeared
	assert.Equal(t,
		Event{Type: EventDeleted, Interface: eth1},
		getEvent(t, updates, timeout))
	// third poll: eth2 appeared
	assert.Equal(t,
		Event{Type: EventAdded, Interface: eth2},
		getEvent(t, updates, timeout))
}

func getEvent(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(timeout):
		require.Fail(t, "timeout while waiting for an event")
	}
	return Event{}
}
