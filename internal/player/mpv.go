package player

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/model"
)

// https://mpv.io/manual/stable/#properties

const (
	sockPrefix          = "castlink-mpv-"
	defaultPollInterval = time.Second
	eventBuffer         = 16
)

// Resolver turns app content into something mpv can open.
type Resolver interface {
	VideoURL(meta model.VideoMetadata) string
	LiveURL(roomID int64) string
}

// webResolver hands mpv the public web pages and lets its ytdl hook do the rest.
type webResolver struct{}

func (webResolver) VideoURL(meta model.VideoMetadata) string {
	if meta.EpisodeID > 0 {
		return fmt.Sprintf("https://www.bilibili.com/bangumi/play/ep%d", meta.EpisodeID)
	}
	return fmt.Sprintf("https://www.bilibili.com/video/av%d", meta.ContentID)
}

func (webResolver) LiveURL(roomID int64) string {
	return fmt.Sprintf("https://live.bilibili.com/%d", roomID)
}

type MPVOption func(*MPVPlayer)

func WithBinary(bin string) MPVOption {
	return func(p *MPVPlayer) {
		if bin != "" {
			p.bin = bin
		}
	}
}

// WithVolume sets the start volume in percent.
func WithVolume(v int) MPVOption { return func(p *MPVPlayer) { p.volume = v } }

func WithPollInterval(d time.Duration) MPVOption {
	return func(p *MPVPlayer) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithResolver(r Resolver) MPVOption { return func(p *MPVPlayer) { p.resolver = r } }

// MPVPlayer runs one mpv process per cast and controls it over JSON IPC.
type MPVPlayer struct {
	bin      string
	volume   int
	interval time.Duration
	resolver Resolver

	ipc ipcClient

	procMu   sync.Mutex
	process  *os.Process
	sockPath string
	stopPoll context.CancelFunc

	stateMu sync.Mutex
	state   model.PlayState

	events chan Event
}

func NewMPVPlayer(opts ...MPVOption) *MPVPlayer {
	p := &MPVPlayer{
		bin:      "mpv",
		volume:   100,
		interval: defaultPollInterval,
		resolver: webResolver{},
		state:    model.PlayStateStopped,
		events:   make(chan Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *MPVPlayer) Events() <-chan Event { return p.events }

func (p *MPVPlayer) Play(ctx context.Context, url, title string, meta *model.VideoMetadata) error {
	log.CtxDebug(ctx, "mpv play: url=%s title=%s", url, title)
	p.shutdown()

	sockPath := filepath.Join(os.TempDir(), sockPrefix+uuid.NewString())
	args := []string{
		"--input-ipc-server=" + sockPath,
		"--volume=" + strconv.Itoa(p.volume),
		"--keep-open=yes",
		"--force-window=yes",
	}
	if title != "" {
		args = append(args, "--force-media-title="+title)
	}
	if meta != nil && meta.StartPosition > 0 {
		args = append(args, "--start="+strconv.Itoa(meta.StartPosition))
	}
	args = append(args, url)

	// the process outlives the request, so no CommandContext
	cmd := exec.Command(p.bin, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.bin, err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	p.procMu.Lock()
	p.process, p.sockPath, p.stopPoll = cmd.Process, sockPath, cancel
	p.procMu.Unlock()
	p.ipc.setPath(sockPath)

	go func() {
		_ = cmd.Wait()
		p.exited(cmd.Process)
	}()
	go p.poll(pollCtx)

	p.setState(model.PlayStateLoading)
	return nil
}

func (p *MPVPlayer) PlayVideo(ctx context.Context, meta model.VideoMetadata) error {
	return p.Play(ctx, p.resolver.VideoURL(meta), meta.Title, &meta)
}

func (p *MPVPlayer) PlayLive(ctx context.Context, roomID int64) error {
	return p.Play(ctx, p.resolver.LiveURL(roomID), "", nil)
}

func (p *MPVPlayer) Pause(ctx context.Context) error {
	if _, err := p.ipc.command(ctx, "set_property", "pause", true); err != nil {
		return fmt.Errorf("calling mpv pause failed: %w", err)
	}
	return nil
}

func (p *MPVPlayer) Resume(ctx context.Context) error {
	if _, err := p.ipc.command(ctx, "set_property", "pause", false); err != nil {
		return fmt.Errorf("calling mpv resume failed: %w", err)
	}
	return nil
}

func (p *MPVPlayer) Stop(ctx context.Context) error {
	log.CtxDebug(ctx, "mpv stop")
	err := p.shutdown()
	p.setState(model.PlayStateStopped)
	return err
}

func (p *MPVPlayer) Seek(ctx context.Context, seconds float64) error {
	if _, err := p.ipc.command(ctx, "seek", seconds, "absolute"); err != nil {
		return fmt.Errorf("calling mpv seek failed: %w", err)
	}
	return nil
}

func (p *MPVPlayer) SetVolume(ctx context.Context, level float64) error {
	if _, err := p.ipc.command(ctx, "set_property", "volume", level); err != nil {
		return fmt.Errorf("calling mpv set volume failed: %w", err)
	}
	return nil
}

func (p *MPVPlayer) SetRate(ctx context.Context, rate float64) error {
	if _, err := p.ipc.command(ctx, "set_property", "speed", rate); err != nil {
		return fmt.Errorf("calling mpv set speed failed: %w", err)
	}
	return nil
}

func (p *MPVPlayer) GetPosition(ctx context.Context) (float64, error) {
	return p.getFloat(ctx, "time-pos")
}

func (p *MPVPlayer) GetDuration(ctx context.Context) (float64, error) {
	return p.getFloat(ctx, "duration")
}

func (p *MPVPlayer) getFloat(ctx context.Context, name string) (float64, error) {
	val, err := p.ipc.command(ctx, "get_property", name)
	if err != nil {
		return 0, err
	}
	if v, ok := val.(float64); ok {
		return v, nil
	}
	return 0, fmt.Errorf("unexpected type for %s: %T", name, val)
}

func (p *MPVPlayer) getBool(ctx context.Context, name string) (bool, error) {
	val, err := p.ipc.command(ctx, "get_property", name)
	if err != nil {
		return false, err
	}
	if v, ok := val.(bool); ok {
		return v, nil
	}
	return false, fmt.Errorf("unexpected type for %s: %T", name, val)
}

func (p *MPVPlayer) poll(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce samples playback. Before the file is loaded time-pos is
// unavailable and nothing is reported.
func (p *MPVPlayer) pollOnce(ctx context.Context) {
	pos, err := p.GetPosition(ctx)
	if err != nil {
		return
	}
	dur, _ := p.GetDuration(ctx)
	paused, _ := p.getBool(ctx, "pause")
	eof, _ := p.getBool(ctx, "eof-reached")

	switch {
	case eof:
		p.setState(model.PlayStateEnded)
	case paused:
		p.setState(model.PlayStatePaused)
	default:
		p.setState(model.PlayStatePlaying)
	}
	p.emit(Event{Type: EventProgress, Position: pos, Duration: dur})
}

// setState reports s if it differs from the last reported state.
func (p *MPVPlayer) setState(s model.PlayState) {
	p.stateMu.Lock()
	changed := p.state != s
	p.state = s
	p.stateMu.Unlock()
	if changed {
		p.emit(Event{Type: EventState, State: s})
	}
}

// emit drops the event when nobody keeps up with the channel.
func (p *MPVPlayer) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// exited handles the mpv process going away on its own.
func (p *MPVPlayer) exited(proc *os.Process) {
	p.procMu.Lock()
	current := p.process == proc
	p.procMu.Unlock()
	if !current {
		return
	}
	_ = p.shutdown()
	p.setState(model.PlayStateStopped)
}

// shutdown kills the current process and cleans up its IPC socket.
func (p *MPVPlayer) shutdown() error {
	p.procMu.Lock()
	proc, sockPath, cancel := p.process, p.sockPath, p.stopPoll
	p.process, p.sockPath, p.stopPoll = nil, "", nil
	p.procMu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.ipc.close()

	var stopErr error
	if proc != nil {
		if err := proc.Kill(); err != nil && err != os.ErrProcessDone {
			stopErr = fmt.Errorf("killing process: %w", err)
		}
	}
	if sockPath != "" {
		if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) && stopErr == nil {
			stopErr = fmt.Errorf("removing socket file: %w", err)
		}
	}
	return stopErr
}
