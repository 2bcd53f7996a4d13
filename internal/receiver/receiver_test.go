package receiver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/model"
	"github.com/tr1v3r/castlink/internal/ssdp"
)

type fakeAdvertiser struct{ shutdown int }

func (f *fakeAdvertiser) Shutdown() error { f.shutdown++; return nil }

func stubMDNS(t *testing.T, err error) *fakeAdvertiser {
	t.Helper()
	adv := &fakeAdvertiser{}
	orig := startMDNS
	startMDNS = func(cfg mdnsConfig) (shutdowner, error) {
		if err != nil {
			return nil, err
		}
		require.Equal(t, "_bilibili-cast._tcp", cfg.Service)
		require.Contains(t, cfg.TXT, "version=1.0")
		return adv, nil
	}
	t.Cleanup(func() { startMDNS = orig })
	return adv
}

func newTestService() *Service {
	return New(Options{
		ListenAddr:    "127.0.0.1:0",
		BeaconAddr:    "239.255.255.250:0",
		AdvertiseIP:   "192.0.2.7",
		AdvertisePort: 9959,
		UUID:          "u-42",
		DeviceName:    "Living Room",
		DeviceModel:   "CastLink",
	})
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func drain[T any](ch <-chan T) []T {
	var out []T
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestContentCastSetsReceiving(t *testing.T) {
	s := newTestService()
	states, cancel := s.StateChanged.Subscribe()
	defer cancel()
	received, cancelR := s.Received.Subscribe()
	defer cancelR()

	rec := post(s.Router(), "/cast/bilibili", `{"aid":170001,"cid":279786,"epid":3,"title":"demo"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, []model.CastingState{{Receiving: true, Source: model.SourceCompanion}}, drain(states))
	require.Equal(t, model.CastingState{Receiving: true, Source: model.SourceCompanion}, s.State())

	cmds := drain(received)
	require.Len(t, cmds, 1)
	require.Equal(t, model.CmdPlayContent, cmds[0].Kind)
	require.EqualValues(t, 170001, cmds[0].Metadata.ContentID)
	require.EqualValues(t, 3, cmds[0].Metadata.EpisodeID)
	require.Equal(t, "demo", cmds[0].Metadata.Title)
}

func TestMalformedCastLeavesStateUnchanged(t *testing.T) {
	s := newTestService()
	states, cancel := s.StateChanged.Subscribe()
	defer cancel()

	for _, body := range []string{`not json`, `{"aid":"x","cid":1}`, `{"aid":1.5,"cid":2}`, `{"cid":2}`, `[1,2]`} {
		rec := post(s.Router(), "/cast/bilibili", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	require.Equal(t, http.StatusBadRequest, post(s.Router(), "/cast/play", `{"url":"http://a"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(s.Router(), "/cast/play", `{"url":1,"title":"t"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(s.Router(), "/cast/control", `{"action":5}`).Code)

	require.Empty(t, drain(states))
	require.False(t, s.State().Receiving)
}

func TestPlayURLCast(t *testing.T) {
	s := newTestService()
	received, cancel := s.Received.Subscribe()
	defer cancel()

	require.Equal(t, http.StatusOK, post(s.Router(), "/cast/play", `{"url":"http://a/v.mp4","title":"t","extra":1}`).Code)
	cmds := drain(received)
	require.Len(t, cmds, 1)
	require.Equal(t, model.Play("http://a/v.mp4", "t", nil), cmds[0])
}

func TestControlActions(t *testing.T) {
	s := newTestService()
	h := s.Router()
	cmds, cancel := s.Commands.Subscribe()
	defer cancel()

	require.Equal(t, http.StatusOK, post(h, "/cast/bilibili", `{"aid":1,"cid":2}`).Code)
	states, cancelS := s.StateChanged.Subscribe()
	defer cancelS()

	for _, body := range []string{
		`{"action":"play"}`,
		`{"action":"pause"}`,
		`{"action":"seek","time":42.5}`,
		`{"action":"seek"}`,
		`{"action":"seek","time":"soon"}`,
		`{"action":"volume","level":0.4}`,
		`{"action":"dance"}`,
		`{"action":"stop"}`,
	} {
		require.Equal(t, http.StatusOK, post(h, "/cast/control", body).Code, body)
	}

	require.Equal(t, []model.CastCommand{
		model.Resume(),
		model.Pause(),
		model.Seek(42.5),
		model.SetVolume(0.4),
		model.Stop(),
	}, drain(cmds))
	require.Equal(t, []model.CastingState{{Receiving: false, Source: model.SourceCompanion}}, drain(states))
}

func TestInfoAndStatus(t *testing.T) {
	s := newTestService()
	h := s.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cast/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"deviceName":"Living Room","deviceModel":"CastLink","version":"1.0","capabilities":["video","audio","bilibili"],"status":"ready"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cast/status", nil))
	require.JSONEq(t, `{"isReceiving":false,"source":"Other"}`, rec.Body.String())
}

func TestStartStopLifecycle(t *testing.T) {
	adv := stubMDNS(t, nil)
	s := newTestService()

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.Running())

	resp, err := http.Get("http://" + s.HTTPAddr() + "/cast/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusOK, post(s.Router(), "/cast/bilibili", `{"aid":1,"cid":2}`).Code)
	states, cancel := s.StateChanged.Subscribe()
	defer cancel()

	s.Stop()
	s.Stop()
	require.False(t, s.Running())
	require.Equal(t, 1, adv.shutdown)
	require.False(t, s.State().Receiving)
	require.Equal(t, []model.CastingState{{Receiving: false, Source: model.SourceCompanion}}, drain(states))
	require.Empty(t, s.HTTPAddr())
}

func TestMDNSFailureDisablesOnlyMDNS(t *testing.T) {
	stubMDNS(t, errors.New("bind 5353: address in use"))
	s := newTestService()

	err := s.Start(context.Background())
	defer s.Stop()

	fes := casterr.Features(err)
	require.Len(t, fes, 1)
	require.Equal(t, FeatureMDNS, fes[0].Feature)
	require.True(t, s.Running())
	require.NotEmpty(t, s.HTTPAddr())
	require.NotEmpty(t, s.BeaconAddr())
}

func TestBeaconAnswersOnlyCastSearch(t *testing.T) {
	stubMDNS(t, nil)
	s := newTestService()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	port := s.beacon.addr().(*net.UDPAddr).Port
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 2048)

	_, err = conn.Write([]byte("M-SEARCH * HTTP/1.1\r\nMAN: \"ssdp:discover\"\r\nST: upnp:rootdevice\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, err = conn.Read(buf)
	require.Error(t, err, "dlna search must not be answered by the beacon")

	_, err = conn.Write([]byte("M-SEARCH * HTTP/1.1\r\nST: bilibili-cast:receiver\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	h := ssdp.Headers(string(buf[:n]))
	require.Equal(t, "http://192.0.2.7:9959/cast/info", h["LOCATION"])
	require.Equal(t, BeaconST, h["ST"])
	require.Equal(t, "uuid:u-42::bilibili-cast:receiver", h["USN"])
}

func TestHTTPBindFailureAbortsStart(t *testing.T) {
	adv := stubMDNS(t, nil)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	s := New(Options{ListenAddr: busy.Addr().String(), BeaconAddr: "239.255.255.250:0"})
	err = s.Start(context.Background())
	fe, ok := casterr.AsFeature(err)
	require.True(t, ok)
	require.Equal(t, Feature, fe.Feature)
	require.False(t, s.Running())
	require.Zero(t, adv.shutdown)
	s.Stop()
}
