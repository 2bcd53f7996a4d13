package receiver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/buger/jsonparser"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-viper/mapstructure/v2"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/httpserver"
	"github.com/tr1v3r/castlink/internal/model"
)

const maxBody = 1 << 20

type info struct {
	DeviceName   string   `json:"deviceName"`
	DeviceModel  string   `json:"deviceModel"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
}

type playRequest struct {
	URL   string `mapstructure:"url"`
	Title string `mapstructure:"title"`
}

type contentRequest struct {
	EpisodeID      int64  `mapstructure:"epid"`
	Title          string `mapstructure:"title"`
	Uploader       string `mapstructure:"upName"`
	CoverURL       string `mapstructure:"cover"`
	Duration       int    `mapstructure:"duration"`
	StartPosition  int    `mapstructure:"position"`
	DanmakuEnabled bool   `mapstructure:"danmaku"`
}

type controlRequest struct {
	Action string   `mapstructure:"action"`
	Time   *float64 `mapstructure:"time"`
	Level  *float64 `mapstructure:"level"`
}

// Router returns the /cast route table.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.LogMiddleware(s.opts.Metrics))
	r.Use(middleware.Recoverer)

	r.Route("/cast", func(r chi.Router) {
		r.Get("/info", s.handleInfo)
		r.Get("/status", s.handleStatus)
		r.Post("/play", s.handlePlay)
		r.Post("/bilibili", s.handleContent)
		r.Post("/control", s.handleControl)
	})
	return r
}

func (s *Service) handleInfo(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	if s.State().Receiving {
		status = "receiving"
	}
	writeJSON(w, info{
		DeviceName:   s.opts.DeviceName,
		DeviceModel:  s.opts.DeviceModel,
		Version:      Version,
		Capabilities: Capabilities,
		Status:       status,
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.State())
}

func (s *Service) handlePlay(w http.ResponseWriter, r *http.Request) {
	body, fields, ok := readObject(w, r)
	if !ok {
		return
	}
	var req playRequest
	if err := mapstructure.Decode(fields, &req); err != nil || req.URL == "" || req.Title == "" {
		log.CtxDebug(r.Context(), "bad /cast/play body: %s", string(body))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	log.CtxInfo(r.Context(), "received video URL: %s, title: %s", req.URL, req.Title)
	s.opts.Metrics.RecordCast("url")
	s.setReceiving(true, model.SourceCompanion)
	s.Received.Publish(model.Play(req.URL, req.Title, nil))
	writeOK(w)
}

func (s *Service) handleContent(w http.ResponseWriter, r *http.Request) {
	body, fields, ok := readObject(w, r)
	if !ok {
		return
	}
	aid, errA := jsonparser.GetInt(body, "aid")
	cid, errC := jsonparser.GetInt(body, "cid")
	if errA != nil || errC != nil {
		log.CtxDebug(r.Context(), "bad /cast/bilibili body: %s", string(body))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var extra contentRequest
	dec, _ := mapstructure.NewDecoder(&mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: &extra})
	if err := dec.Decode(fields); err != nil {
		log.CtxDebug(r.Context(), "ignore malformed cast metadata: %s", err)
	}

	log.CtxInfo(r.Context(), "received content cast: aid=%d, cid=%d", aid, cid)
	s.opts.Metrics.RecordCast("content")
	s.setReceiving(true, model.SourceCompanion)
	s.Received.Publish(model.PlayContent(model.VideoMetadata{
		ContentID:      aid,
		PartID:         cid,
		EpisodeID:      extra.EpisodeID,
		Title:          extra.Title,
		Uploader:       extra.Uploader,
		CoverURL:       extra.CoverURL,
		Duration:       extra.Duration,
		StartPosition:  extra.StartPosition,
		DanmakuEnabled: extra.DanmakuEnabled,
	}))
	writeOK(w)
}

func (s *Service) handleControl(w http.ResponseWriter, r *http.Request) {
	_, fields, ok := readObject(w, r)
	if !ok {
		return
	}
	action, isString := fields["action"].(string)
	if !isString {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// a parameter of the wrong type is treated as missing
	var req controlRequest
	if err := mapstructure.Decode(fields, &req); err != nil {
		log.CtxDebug(r.Context(), "control %s params: %s", action, err)
	}
	log.CtxDebug(r.Context(), "received control command: %s", action)

	var cmd *model.CastCommand
	switch action {
	case "play":
		c := model.Resume()
		cmd = &c
	case "pause":
		c := model.Pause()
		cmd = &c
	case "stop":
		c := model.Stop()
		cmd = &c
		s.setReceiving(false, "")
	case "seek":
		if req.Time != nil {
			c := model.Seek(*req.Time)
			cmd = &c
		}
	case "volume":
		if req.Level != nil {
			c := model.SetVolume(*req.Level)
			cmd = &c
		}
	}
	if cmd != nil {
		s.Commands.Publish(*cmd)
	}
	writeOK(w)
}

// readObject reads a JSON object body. It answers 400 and returns false
// when the body is not one.
func readObject(w http.ResponseWriter, r *http.Request) ([]byte, map[string]any, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil, nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		log.CtxDebug(r.Context(), "reject %s: body is not a JSON object", r.URL.Path)
		w.WriteHeader(http.StatusBadRequest)
		return nil, nil, false
	}
	return body, fields, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encode response fail: %s", err)
	}
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}
