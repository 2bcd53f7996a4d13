package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tr1v3r/pkg/log"
	"golang.org/x/time/rate"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/netutil"
	"github.com/tr1v3r/castlink/internal/ssdp"
)

const (
	beaconMarker = "bilibili-cast"
	// BeaconST is the search target peers use to find cast receivers.
	BeaconST = "bilibili-cast:receiver"
)

// beacon answers discovery datagrams from peers looking for a receiver. It
// shares the SSDP message shape but never answers ssdp:discover.
type beacon struct {
	opts    Options
	limiter *rate.Limiter

	mu   sync.Mutex
	conn net.PacketConn
	wg   sync.WaitGroup
}

func newBeacon(opts Options) *beacon {
	return &beacon{opts: opts, limiter: rate.NewLimiter(rate.Limit(32), 16)}
}

func (b *beacon) start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}
	conn, err := netutil.ListenMulticast(ctx, b.opts.BeaconAddr)
	if err != nil {
		return casterr.Feature(FeatureBeacon, err)
	}
	b.conn = conn

	b.wg.Add(1)
	go func() { defer b.wg.Done(); b.serve(conn) }()
	log.Info("cast beacon listening on %s", conn.LocalAddr())
	return nil
}

func (b *beacon) stop() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Close()
	b.wg.Wait()
}

func (b *beacon) addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.LocalAddr()
}

func (b *beacon) serve(conn net.PacketConn) {
	buf := make([]byte, 4096)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		if !ssdp.IsSearch(buf[:n], beaconMarker) {
			continue
		}
		if !b.limiter.Allow() {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := conn.WriteTo([]byte(b.response()), src); err != nil {
			log.Debug("beacon reply to %s fail: %s", src, err)
			b.opts.Metrics.RecordError(FeatureBeacon)
			continue
		}
		b.opts.Metrics.RecordDiscoveryReply(FeatureBeacon)
		log.Debug("sent discovery response to casting device %s", src)
	}
}

func (b *beacon) response() string {
	return fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nCACHE-CONTROL: max-age=1800\r\nLOCATION: http://%s:%d/cast/info\r\nSERVER: %s/%s UPnP/1.0 CastLink-Cast/%s\r\nST: %s\r\nUSN: uuid:%s::%s\r\n\r\n",
		b.opts.AdvertiseIP, b.opts.AdvertisePort, b.opts.DeviceModel, Version, Version, BeaconST, b.opts.UUID, BeaconST)
}
