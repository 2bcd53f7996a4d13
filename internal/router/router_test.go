package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tr1v3r/castlink/internal/casterr"
	"github.com/tr1v3r/castlink/internal/model"
	"github.com/tr1v3r/castlink/internal/player"
	"github.com/tr1v3r/castlink/internal/state"
)

type fakePlayer struct {
	mu     sync.Mutex
	calls  []string
	events chan player.Event
}

func newFakePlayer() *fakePlayer { return &fakePlayer{events: make(chan player.Event, 8)} }

func (p *fakePlayer) record(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
	return nil
}

func (p *fakePlayer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlayer) Play(_ context.Context, url, title string, _ *model.VideoMetadata) error {
	return p.record("play %s %s", url, title)
}
func (p *fakePlayer) PlayVideo(_ context.Context, meta model.VideoMetadata) error {
	return p.record("video %d %d %d", meta.ContentID, meta.PartID, meta.EpisodeID)
}
func (p *fakePlayer) PlayLive(_ context.Context, roomID int64) error {
	return p.record("live %d", roomID)
}
func (p *fakePlayer) Pause(context.Context) error  { return p.record("pause") }
func (p *fakePlayer) Resume(context.Context) error { return p.record("resume") }
func (p *fakePlayer) Stop(context.Context) error   { return p.record("stop") }
func (p *fakePlayer) Seek(_ context.Context, s float64) error {
	return p.record("seek %.1f", s)
}
func (p *fakePlayer) SetVolume(_ context.Context, l float64) error {
	return p.record("volume %.0f", l)
}
func (p *fakePlayer) SetRate(_ context.Context, r float64) error {
	return p.record("rate %.2f", r)
}
func (p *fakePlayer) Events() <-chan player.Event { return p.events }

type fakeBroadcaster struct {
	mu       sync.Mutex
	states   []model.PlayState
	progress [][2]int
}

func (b *fakeBroadcaster) BroadcastPlayState(st model.PlayState) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states = append(b.states, st)
	return 1
}

func (b *fakeBroadcaster) BroadcastProgress(duration, position int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress = append(b.progress, [2]int{duration, position})
	return 1
}

type fakeCasting struct{ ended int }

func (c *fakeCasting) EndReceiving() { c.ended++ }

func TestApplyCallsPlayerOnce(t *testing.T) {
	meta := model.VideoMetadata{ContentID: 1, PartID: 2, EpisodeID: 3, Title: "ep"}
	cases := []struct {
		cmd  model.CastCommand
		want string
	}{
		{model.Play("http://media/a.mp4", "A", nil), "play http://media/a.mp4 A"},
		{model.PlayContent(meta), "video 1 2 3"},
		{model.PlayLive(99), "live 99"},
		{model.Pause(), "pause"},
		{model.Resume(), "resume"},
		{model.Stop(), "stop"},
		{model.Seek(120), "seek 120.0"},
		{model.SetVolume(150), "volume 100"},
		{model.SetPlaybackRate(1.5), "rate 1.50"},
	}
	for _, c := range cases {
		t.Run(string(c.cmd.Kind), func(t *testing.T) {
			p := newFakePlayer()
			r := New(p, state.New(30), &fakeBroadcaster{})
			require.NoError(t, r.Apply(context.Background(), c.cmd))
			require.Equal(t, []string{c.want}, p.Calls())
		})
	}
}

func TestApplyRejectsBadCommands(t *testing.T) {
	p := newFakePlayer()
	r := New(p, state.New(30), &fakeBroadcaster{})

	require.ErrorIs(t, r.Apply(context.Background(), model.CastCommand{Kind: model.CmdPlayContent}), casterr.ErrUnsupportedFormat)
	require.ErrorIs(t, r.Apply(context.Background(), model.SetPlaybackRate(0)), casterr.ErrCommandFailed)
	require.ErrorIs(t, r.Apply(context.Background(), model.CastCommand{Kind: "rewind"}), casterr.ErrCommandFailed)
	require.Empty(t, p.Calls())
}

func TestApplyTracksVolume(t *testing.T) {
	st := state.New(30)
	r := New(newFakePlayer(), st, &fakeBroadcaster{})
	require.NoError(t, r.Apply(context.Background(), model.SetVolume(64)))
	require.Equal(t, 64, st.GetVolume())
}

func TestOnPlayerStateChanged(t *testing.T) {
	st := state.New(30)
	b := &fakeBroadcaster{}
	c := &fakeCasting{}
	r := New(newFakePlayer(), st, b, WithCasting(c))

	r.OnPlayerStateChanged(player.Event{Type: player.EventState, State: model.PlayStatePlaying})
	r.OnPlayerStateChanged(player.Event{Type: player.EventProgress, Position: 12.7, Duration: 300.2})
	r.OnPlayerStateChanged(player.Event{Type: player.EventState, State: model.PlayStateEnded})

	require.Equal(t, []model.PlayState{model.PlayStatePlaying, model.PlayStateEnded}, b.states)
	require.Equal(t, [][2]int{{300, 12}}, b.progress)
	require.Equal(t, 1, c.ended)
	require.Equal(t, model.PlayStateEnded, st.GetPlayState())
	require.Equal(t, 12.7, st.Snapshot().Position)
}

func TestRunDrainsQueueAndEvents(t *testing.T) {
	p := newFakePlayer()
	b := &fakeBroadcaster{}
	r := New(p, state.New(30), b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	cmds := make(chan model.CastCommand, 2)
	cmds <- model.Pause()
	cmds <- model.Seek(5)
	close(cmds)
	go r.Forward(ctx, cmds)

	p.events <- player.Event{Type: player.EventState, State: model.PlayStatePaused}

	require.Eventually(t, func() bool {
		return len(p.Calls()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"pause", "seek 5.0"}, p.Calls())

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.states) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
