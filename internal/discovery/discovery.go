// Package discovery finds cast-capable devices on the local network.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/model"
	"github.com/tr1v3r/castlink/internal/ssdp"
)

const (
	// CloudTVST is the search target answered by TV devices that speak the
	// JSON command protocol.
	CloudTVST = "bilibili:cloudtv:1"

	DefaultTarget = "239.255.255.250:1900"
	defaultPort   = 9958
)

// Client sends one M-SEARCH per Discover call and gathers the replies.
type Client struct {
	target string
	st     string
}

func NewClient(target string) *Client {
	if target == "" {
		target = DefaultTarget
	}
	return &Client{target: target, st: CloudTVST}
}

func (c *Client) searchMessage() string {
	return fmt.Sprintf(
		"M-SEARCH * HTTP/1.1\r\nHOST: %s\r\nMAN: \"ssdp:discover\"\r\nMX: 3\r\nST: %s\r\nUSER-AGENT: CastLink/1.0\r\n\r\n",
		c.target, c.st)
}

// Discover sends the query and collects well-formed replies until timeout
// elapses or ctx is done. Devices are deduplicated by id; an empty result
// is not an error.
func (c *Client) Discover(ctx context.Context, timeout time.Duration) ([]model.Device, error) {
	dst, err := net.ResolveUDPAddr("udp4", c.target)
	if err != nil {
		return nil, casterr.Network(err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, casterr.Network(err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP([]byte(c.searchMessage()), dst); err != nil {
		return nil, casterr.Network(err)
	}
	log.CtxDebug(ctx, "sent device discovery request to %s", dst)

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, casterr.Network(err)
	}

	found := make(map[string]model.Device)
	buf := make([]byte, 8192)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return nil, casterr.Network(err)
		}
		dev, ok := ParseReply(string(buf[:n]), src.IP, c.st)
		if !ok {
			log.CtxDebug(ctx, "drop malformed discovery reply from %s", src)
			continue
		}
		found[dev.ID] = dev
	}

	devices := make([]model.Device, 0, len(found))
	for _, d := range found {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	log.CtxInfo(ctx, "device discovery completed: %d devices found", len(devices))
	return devices, nil
}

// ParseReply builds a device from a discovery reply. Replies that do not
// mention st or lack LOCATION or USN are rejected.
func ParseReply(raw string, from net.IP, st string) (model.Device, bool) {
	if !strings.Contains(raw, st) {
		return model.Device{}, false
	}
	h := ssdp.Headers(raw)
	location, usn := h["LOCATION"], h["USN"]
	if location == "" || usn == "" {
		return model.Device{}, false
	}

	id, _, _ := strings.Cut(usn, "::")
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Device{}, false
	}

	name := h["SERVER"]
	if name == "" {
		name = "Cloud TV"
	}
	modelName := h["MODEL"]
	if modelName == "" {
		modelName = "Unknown"
	}

	return model.Device{
		ID:           id,
		Name:         name,
		Model:        modelName,
		Address:      from.String(),
		Port:         portFromLocation(location, defaultPort),
		Kind:         model.KindCloudTV,
		Location:     location,
		Capabilities: model.DefaultCapabilities(),
		Status:       model.StatusAvailable,
		LastSeen:     time.Now(),
	}, true
}

func portFromLocation(location string, def int) int {
	u, err := url.Parse(location)
	if err != nil {
		return def
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil || p <= 0 {
		return def
	}
	return p
}
