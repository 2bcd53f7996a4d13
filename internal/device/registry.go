package device

import (
	"sort"
	"sync"
	"time"

	"github.com/tr1v3r/castlink/internal/model"
)

// Registry holds the last known record of every device the manager knows.
type Registry struct {
	mu      sync.Mutex
	devices map[string]model.Device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]model.Device)}
}

// Upsert records dev. Addressing fields are refreshed; an existing status is
// kept, a new record starts available.
func (r *Registry) Upsert(dev model.Device) model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsert(dev)
}

func (r *Registry) upsert(dev model.Device) model.Device {
	if cur, ok := r.devices[dev.ID]; ok {
		dev.Status = cur.Status
	} else {
		dev.Status = model.StatusAvailable
	}
	if dev.LastSeen.IsZero() {
		dev.LastSeen = time.Now()
	}
	r.devices[dev.ID] = dev
	return dev
}

func (r *Registry) Get(id string) (model.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[id]
	return dev, ok
}

// List returns a snapshot sorted by id.
func (r *Registry) List() []model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
}

// Transition moves device id to next if the edge is legal. changed is false
// when the device already has that status.
func (r *Registry) Transition(id string, next model.DeviceStatus) (dev model.Device, changed, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, found := r.devices[id]
	if !found {
		return dev, false, false
	}
	if dev.Status == next {
		return dev, false, true
	}
	if !dev.Status.CanTransition(next) {
		return dev, false, false
	}
	dev.Status = next
	r.devices[id] = dev
	return dev, true, true
}

// Refresh upserts a discovery result and evicts idle devices missing from it.
// Devices with a live session are never evicted.
func (r *Registry) Refresh(seen []model.Device) (evicted []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make(map[string]bool, len(seen))
	for _, d := range seen {
		r.upsert(d)
		fresh[d.ID] = true
	}
	for id, d := range r.devices {
		if fresh[id] || active(d.Status) {
			continue
		}
		delete(r.devices, id)
		evicted = append(evicted, id)
	}
	sort.Strings(evicted)
	return evicted
}

func active(s model.DeviceStatus) bool {
	switch s {
	case model.StatusConnecting, model.StatusConnected, model.StatusPlaying, model.StatusPaused:
		return true
	}
	return false
}
