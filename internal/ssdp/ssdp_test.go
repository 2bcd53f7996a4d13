package ssdp

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tr1v3r/castlink/internal/casterr"
)

const search = "M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nMAN: \"ssdp:discover\"\r\nMX: 1\r\nST: upnp:rootdevice\r\n\r\n"

func newTestResponder(t *testing.T, interval time.Duration) (*Responder, *net.UDPConn) {
	t.Helper()
	sink, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	r := NewResponder(Options{
		ListenAddr: "239.255.255.250:0",
		NotifyAddr: sink.LocalAddr().String(),
		Location:   "http://192.0.2.1:9958/description.xml",
		UUID:       "1234",
	})
	require.NoError(t, r.Start(context.Background(), interval))
	t.Cleanup(r.Stop)
	return r, sink
}

func dialResponder(t *testing.T, r *Responder) *net.UDPConn {
	t.Helper()
	port := r.LocalAddr().(*net.UDPAddr).Port
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestResponderRepliesOncePerSearch(t *testing.T) {
	r, _ := newTestResponder(t, time.Hour)
	conn := dialResponder(t, r)

	_, err := conn.Write([]byte(search))
	require.NoError(t, err)

	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	reply := string(buf[:n])
	require.True(t, strings.HasPrefix(reply, "HTTP/1.1 200 OK"))
	h := Headers(reply)
	require.Equal(t, "http://192.0.2.1:9958/description.xml", h["LOCATION"])
	require.Equal(t, "uuid:1234::upnp:rootdevice", h["USN"])
	require.Equal(t, "upnp:rootdevice", h["ST"])
	require.Equal(t, "max-age=30", h["CACHE-CONTROL"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, err = conn.Read(buf)
	require.Error(t, err, "expected exactly one reply")
}

func TestResponderIgnoresDatagramsWithoutMarker(t *testing.T) {
	r, _ := newTestResponder(t, time.Hour)
	conn := dialResponder(t, r)

	_, err := conn.Write([]byte("M-SEARCH * HTTP/1.1\r\nST: upnp:rootdevice\r\n\r\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
	_, err = conn.Read(buf)
	require.Error(t, err)
}

func TestResponderNotifiesOnIntervalUntilStop(t *testing.T) {
	r, sink := newTestResponder(t, 50*time.Millisecond)

	alive := 0
	buf := make([]byte, 2048)
	deadline := time.Now().Add(2 * time.Second)
	for alive < 3 && time.Now().Before(deadline) {
		require.NoError(t, sink.SetReadDeadline(deadline))
		n, _, err := sink.ReadFromUDP(buf)
		require.NoError(t, err)
		if HeaderValue(string(buf[:n]), "NTS") == "ssdp:alive" {
			require.Equal(t, "urn:schemas-upnp-org:device:MediaRenderer:1", HeaderValue(string(buf[:n]), "NT"))
			alive++
		}
	}
	require.Equal(t, 3, alive)

	r.Stop()

	// drain whatever was in flight; the last datagram must be the byebye
	var last string
	for {
		require.NoError(t, sink.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
		n, _, err := sink.ReadFromUDP(buf)
		if err != nil {
			break
		}
		last = HeaderValue(string(buf[:n]), "NTS")
	}
	require.Equal(t, "ssdp:byebye", last)

	require.NoError(t, sink.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := sink.ReadFromUDP(buf)
	require.Error(t, err, "no NOTIFY after stop")
}

func TestResponderStopIsIdempotent(t *testing.T) {
	r, _ := newTestResponder(t, time.Hour)
	r.Stop()
	r.Stop()
	require.False(t, r.Running())
	require.Nil(t, r.LocalAddr())
}

func TestResponderBindFailureIsFeatureError(t *testing.T) {
	busy, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	require.NoError(t, err)
	defer busy.Close()

	r := NewResponder(Options{
		ListenAddr: net.JoinHostPort("239.255.255.250", portOf(busy)),
		NotifyAddr: "127.0.0.1:9",
		UUID:       "1234",
	})
	err = r.Start(context.Background(), time.Second)
	require.Error(t, err)

	fe, ok := casterr.AsFeature(err)
	require.True(t, ok)
	require.Equal(t, Feature, fe.Feature)
	require.False(t, r.Running())
	r.Stop()
}

func TestHeaders(t *testing.T) {
	h := Headers("HTTP/1.1 200 OK\r\nLocation: http://x/\r\nusn: uuid:a::b\r\nEXT:\r\n\r\n")
	require.Equal(t, "http://x/", h["LOCATION"])
	require.Equal(t, "uuid:a::b", h["USN"])
	require.Equal(t, "", h["EXT"])
	require.True(t, IsSearch([]byte(search), "ssdp:discover"))
	require.False(t, IsSearch([]byte("NOTIFY * HTTP/1.1\r\n"), "ssdp:discover"))
}

func portOf(c *net.UDPConn) string {
	_, port, _ := net.SplitHostPort(c.LocalAddr().String())
	return port
}
