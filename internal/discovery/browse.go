package discovery

import (
	"context"
	"io"
	stdlog "log"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	gossdp "github.com/koron/go-ssdp"
	"github.com/tr1v3r/pkg/log"
	"golang.org/x/sync/errgroup"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/model"
)

const (
	receiverService = "_bilibili-cast._tcp"
	rendererST      = "urn:schemas-upnp-org:service:AVTransport:1"
)

// seams for tests
var (
	mdnsQuery  = mdns.Query
	ssdpSearch = gossdp.Search
)

// BrowseReceivers lists peer cast receivers advertised over mDNS.
func BrowseReceivers(ctx context.Context, timeout time.Duration) ([]model.Device, error) {
	entries := make(chan *mdns.ServiceEntry, 64)

	var (
		mu    sync.Mutex
		found = make(map[string]model.Device)
		done  = make(chan struct{})
	)
	go func() {
		defer close(done)
		for e := range entries {
			dev, ok := receiverFromEntry(e)
			if !ok {
				continue
			}
			mu.Lock()
			found[dev.ID] = dev
			mu.Unlock()
		}
	}()

	params := mdns.DefaultParams(receiverService)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	params.Logger = stdlog.New(io.Discard, "", 0)
	err := mdnsQuery(params)
	close(entries)
	<-done

	if err != nil {
		return nil, casterr.Network(err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	devices := make([]model.Device, 0, len(found))
	for _, d := range found {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func receiverFromEntry(e *mdns.ServiceEntry) (model.Device, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return model.Device{}, false
	}
	txt := make(map[string]string, len(e.InfoFields))
	for _, f := range e.InfoFields {
		if k, v, ok := strings.Cut(f, "="); ok {
			txt[k] = v
		}
	}
	name, _, _ := strings.Cut(e.Name, "."+receiverService)
	return model.Device{
		ID:           e.Name,
		Name:         name,
		Model:        txt["model"],
		Address:      e.AddrV4.String(),
		Port:         e.Port,
		Kind:         model.KindReceiver,
		Capabilities: model.DefaultCapabilities(),
		Status:       model.StatusAvailable,
		LastSeen:     time.Now(),
	}, true
}

// SearchRenderers lists plain DLNA MediaRenderers answering an AVTransport search.
func SearchRenderers(ctx context.Context, waitSec int) ([]model.Device, error) {
	list, err := ssdpSearch(rendererST, waitSec, "")
	if err != nil {
		return nil, casterr.Network(err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	seen := make(map[string]bool)
	var devices []model.Device
	for _, srv := range list {
		if srv.Location == "" || srv.USN == "" {
			continue
		}
		id, _, _ := strings.Cut(srv.USN, "::")
		if seen[id] {
			continue
		}
		seen[id] = true

		u, err := url.Parse(srv.Location)
		if err != nil {
			continue
		}
		host := u.Hostname()
		devices = append(devices, model.Device{
			ID:       id,
			Name:     srv.Server,
			Model:    "DLNA",
			Address:  host,
			Port:     portFromLocation(srv.Location, 80),
			Kind:     model.KindRenderer,
			Location: srv.Location,
			Status:   model.StatusAvailable,
			LastSeen: time.Now(),
		})
	}
	return devices, nil
}

// Sources selects which discovery mechanisms DiscoverAll runs.
type Sources struct {
	CloudTV   *Client
	Receivers bool
	Renderers bool
}

// DiscoverAll runs the selected sources concurrently and merges the results
// by device id. A failing source is logged and skipped.
func DiscoverAll(ctx context.Context, src Sources, timeout time.Duration) []model.Device {
	var (
		mu     sync.Mutex
		merged = make(map[string]model.Device)
	)
	add := func(name string, devs []model.Device, err error) {
		if err != nil {
			log.CtxError(ctx, "%s discovery fail: %s", name, err)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, d := range devs {
			merged[d.ID] = d
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if src.CloudTV != nil {
		g.Go(func() error {
			devs, err := src.CloudTV.Discover(gctx, timeout)
			add("cloudtv", devs, err)
			return nil
		})
	}
	if src.Receivers {
		g.Go(func() error {
			devs, err := BrowseReceivers(gctx, timeout)
			add("receiver", devs, err)
			return nil
		})
	}
	if src.Renderers {
		g.Go(func() error {
			wait := int(timeout / time.Second)
			if wait < 1 {
				wait = 1
			}
			devs, err := SearchRenderers(gctx, wait)
			add("dlna", devs, err)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.Device, 0, len(merged))
	for _, d := range merged {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
