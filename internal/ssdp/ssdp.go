package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tr1v3r/pkg/log"
	"golang.org/x/time/rate"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/monitoring"
	"github.com/tr1v3r/castlink/internal/netutil"
	"github.com/tr1v3r/castlink/internal/upnp"
)

const (
	// Feature names the component in FeatureError and FeatureEvent.
	Feature = "ssdp"

	discoverMarker = "ssdp:discover"
	maxAge         = 30
	replyTimeout   = time.Second
)

type Options struct {
	// ListenAddr is the multicast group and port to join, e.g. 239.255.255.250:1900.
	ListenAddr string
	// NotifyAddr receives NOTIFY datagrams. Defaults to ListenAddr.
	NotifyAddr string
	// Location is the absolute descriptor URL.
	Location string
	UUID     string
	Server   string
	Interval time.Duration
	Metrics  *monitoring.Metrics
}

// Responder answers M-SEARCH datagrams and advertises the renderer with
// periodic NOTIFY messages.
type Responder struct {
	opts    Options
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    net.PacketConn
	notify  net.Conn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewResponder(opts Options) *Responder {
	if opts.NotifyAddr == "" {
		opts.NotifyAddr = opts.ListenAddr
	}
	if opts.Server == "" {
		opts.Server = "Linux/3.0.0, UPnP/1.0, CastLink/1.0"
	}
	return &Responder{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(32), 16),
	}
}

// Start binds the multicast socket and starts the reply and NOTIFY loops.
// A bind failure is returned as a *casterr.FeatureError and leaves the
// responder stopped. Starting a running responder is a no-op.
func (r *Responder) Start(ctx context.Context, interval time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if interval <= 0 {
		interval = r.opts.Interval
	}
	if interval <= 0 {
		interval = time.Second
	}

	conn, err := netutil.ListenMulticast(ctx, r.opts.ListenAddr)
	if err != nil {
		return casterr.Feature(Feature, err)
	}
	notify, err := net.Dial("udp4", r.opts.NotifyAddr)
	if err != nil {
		_ = conn.Close()
		return casterr.Feature(Feature, err)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.conn, r.notify, r.cancel, r.running = conn, notify, cancel, true

	r.wg.Add(2)
	go func() { defer r.wg.Done(); r.serve(conn) }()
	go func() { defer r.wg.Done(); r.advertise(ctx, notify, interval) }()

	log.Info("ssdp responder listening on %s, advertising every %s", conn.LocalAddr(), interval)
	return nil
}

// Stop cancels the NOTIFY timer, sends ssdp:byebye and closes the sockets.
// It is safe to call more than once.
func (r *Responder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	_ = r.conn.Close()
	r.mu.Unlock()

	r.wg.Wait()
	_ = r.notify.Close()
	log.Info("ssdp responder stopped")
}

// Running reports whether the responder is bound.
func (r *Responder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LocalAddr returns the bound socket address, nil when stopped.
func (r *Responder) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || !r.running {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *Responder) serve(conn net.PacketConn) {
	if rb, ok := conn.(interface{ SetReadBuffer(int) error }); ok {
		_ = rb.SetReadBuffer(65536)
	}
	buf := make([]byte, 8192)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Debug("ssdp read fail: %s", err)
			continue
		}
		if !IsSearch(buf[:n], discoverMarker) {
			continue
		}
		if !r.limiter.Allow() {
			log.Debug("ssdp reply to %s dropped: rate limited", src)
			continue
		}

		log.Debug("handle ssdp discover from %s st=%s", src, HeaderValue(string(buf[:n]), "ST"))
		_ = conn.SetWriteDeadline(time.Now().Add(replyTimeout))
		if _, err := conn.WriteTo([]byte(r.searchResponse(time.Now())), src); err != nil {
			log.Debug("ssdp reply to %s fail: %s", src, err)
			r.opts.Metrics.RecordError(Feature)
			continue
		}
		r.opts.Metrics.RecordDiscoveryReply(Feature)
	}
}

func (r *Responder) advertise(ctx context.Context, conn net.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := conn.Write([]byte(r.notifyMessage("ssdp:alive"))); err != nil {
			log.Debug("ssdp notify fail: %s", err)
		} else {
			r.opts.Metrics.RecordNotify()
		}
		select {
		case <-ctx.Done():
			_, _ = conn.Write([]byte(r.notifyMessage("ssdp:byebye")))
			return
		case <-ticker.C:
		}
	}
}

func (r *Responder) searchResponse(now time.Time) string {
	return fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nLOCATION: %s\r\nCACHE-CONTROL: max-age=%d\r\nSERVER: %s\r\nEXT:\r\nUSN: uuid:%s::upnp:rootdevice\r\nST: upnp:rootdevice\r\nDATE: %s\r\n\r\n",
		r.opts.Location, maxAge, r.opts.Server, r.opts.UUID, now.UTC().Format(time.RFC1123))
}

func (r *Responder) notifyMessage(nts string) string {
	if nts == "ssdp:byebye" {
		return fmt.Sprintf(
			"NOTIFY * HTTP/1.1\r\nHOST: %s\r\nNT: %s\r\nNTS: %s\r\nUSN: uuid:%s::%s\r\n\r\n",
			r.opts.ListenAddr, upnp.DeviceType, nts, r.opts.UUID, upnp.DeviceType)
	}
	return fmt.Sprintf(
		"NOTIFY * HTTP/1.1\r\nHOST: %s\r\nLOCATION: %s\r\nCACHE-CONTROL: max-age=%d\r\nSERVER: %s\r\nNTS: %s\r\nUSN: uuid:%s::%s\r\nNT: %s\r\n\r\n",
		r.opts.ListenAddr, r.opts.Location, maxAge, r.opts.Server, nts, r.opts.UUID, upnp.DeviceType, upnp.DeviceType)
}

// IsSearch reports whether the datagram is an M-SEARCH that carries marker.
// Matching is case-insensitive.
func IsSearch(b []byte, marker string) bool {
	text := strings.ToLower(string(b))
	return strings.Contains(text, "m-search") && strings.Contains(text, strings.ToLower(marker))
}

// HeaderValue returns the value of header key in a raw SSDP message.
func HeaderValue(raw, key string) string {
	return Headers(raw)[strings.ToUpper(key)]
}

// Headers parses the header lines of an SSDP message. Keys are upper-cased;
// the start line is skipped.
func Headers(raw string) map[string]string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	headers := make(map[string]string, len(lines))
	for _, ln := range lines[1:] {
		if i := strings.IndexByte(ln, ':'); i > 0 {
			k := strings.ToUpper(strings.TrimSpace(ln[:i]))
			if _, seen := headers[k]; !seen {
				headers[k] = strings.TrimSpace(ln[i+1:])
			}
		}
	}
	return headers
}
