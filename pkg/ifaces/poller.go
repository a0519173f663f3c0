package ifaces

import (
	"context"
	"time"
)

// Poller periodically fetches the system interfaces and forwards add/delete
// events by diffing against the previous snapshot.
type Poller struct {
	period     time.Duration
	current    map[Interface]struct{}
	interfaces func() ([]Interface, error)
	bufLen     int
}

func NewPoller(period time.Duration, bufLen int) *Poller {
	return &Poller{
		period:     period,
		interfaces: netInterfaces,
		current:    map[Interface]struct{}{},
		bufLen:     bufLen,
	}
}

func (np *Poller) Subscribe(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, np.bufLen)
	go func() {
		ticker := time.NewTicker(np.period)
		defer ticker.Stop()
		for {
			if ifaces, err := np.interfaces(); err != nil {
				ilog.WithError(err).Warn("fetching interface names")
			} else {
				np.diffNames(out, ifaces)
			}
			select {
			case <-ctx.Done():
				ilog.Debug("stopped querying network interfaces")
				close(out)
				return
			case <-ticker.C:
				// continue
			}
		}
	}()
	return out, nil
}

// diffNames compares and updates the internal account of interfaces with the
// fetched set, forwarding an event for each added or removed interface.
func (np *Poller) diffNames(events chan Event, ifaces []Interface) {
	fetched := make(map[Interface]struct{}, len(ifaces))
	for _, iface := range ifaces {
		fetched[iface] = struct{}{}
		if _, ok := np.current[iface]; !ok {
			ilog.WithField("interface", iface).Debug("added network interface")
			np.current[iface] = struct{}{}
			events <- Event{Type: EventAdded, Interface: iface}
		}
	}
	for iface := range np.current {
		if _, ok := fetched[iface]; !ok {
			ilog.WithField("interface", iface).Debug("deleted network interface")
			delete(np.current, iface)
			events <- Event{Type: EventDeleted, Interface: iface}
		}
	}
}
