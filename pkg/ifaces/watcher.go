package ifaces

import (
	"context"
	"fmt"
	"net"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const netDevicesDir = "/sys/class/net"

// Watcher uses a filesystem watch on /sys/class/net to learn about added
// and removed interfaces as soon as the kernel exposes them, without
// polling. The initial interface set is emitted as synthetic add events.
type Watcher struct {
	bufLen     int
	devicesDir string
	interfaces func() ([]Interface, error)
}

func NewWatcher(bufLen int) *Watcher {
	return &Watcher{
		bufLen:     bufLen,
		devicesDir: netDevicesDir,
		interfaces: netInterfaces,
	}
}

func (w *Watcher) Subscribe(ctx context.Context) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := watcher.Add(w.devicesDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", w.devicesDir, err)
	}
	out := make(chan Event, w.bufLen)
	go w.sendUpdates(ctx, watcher, out)
	return out, nil
}

func (w *Watcher) sendUpdates(ctx context.Context, watcher *fsnotify.Watcher, out chan Event) {
	defer watcher.Close()
	defer close(out)

	current, err := w.interfaces()
	if err != nil {
		ilog.WithError(err).Error("can't fetch initial interfaces. Stopping watcher")
		return
	}
	known := map[string]Interface{}
	for _, iface := range current {
		known[iface.Name] = iface
		out <- Event{Type: EventAdded, Interface: iface}
	}

	for {
		select {
		case <-ctx.Done():
			ilog.Debug("stopped watching network interfaces")
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			switch {
			case event.Op.Has(fsnotify.Create):
				iface := Interface{Name: name}
				if osIface, err := net.InterfaceByName(name); err == nil {
					iface.Index = osIface.Index
				}
				ilog.WithField("interface", iface).Debug("added network interface")
				known[name] = iface
				out <- Event{Type: EventAdded, Interface: iface}
			case event.Op.Has(fsnotify.Remove):
				iface, ok := known[name]
				if !ok {
					iface = Interface{Name: name}
				}
				delete(known, name)
				ilog.WithField("interface", iface).Debug("deleted network interface")
				out <- Event{Type: EventDeleted, Interface: iface}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			ilog.WithError(err).Warn("error watching network interfaces")
		}
	}
}
