package httpserver

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tr1v3r/pkg/log"

	"github.com/tr1v3r/castlink/internal/monitoring"
	"github.com/tr1v3r/castlink/internal/upnp"
)

// Feature names the descriptor server in FeatureError and FeatureEvent.
const Feature = "dlna-http"

func init() {
	// GENA verbs hit the event route
	chi.RegisterMethod("SUBSCRIBE")
	chi.RegisterMethod("UNSUBSCRIBE")
}

type Routes struct {
	Docs       *upnp.Documents
	Projection http.Handler
	LogDir     string
	Metrics    *monitoring.Metrics
}

// NewRouter builds the descriptor server route table. Panics in handlers
// are recovered into 500 responses; unknown paths get 404.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(LogMiddleware(rt.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/description.xml", xmlHandler(rt.Docs.Description))
	r.Get("/dlna/NirvanaControl.xml", xmlHandler(rt.Docs.NirvanaControl))
	r.Get("/dlna/AVTransport.xml", xmlHandler(rt.Docs.AVTransport))

	r.Post("/AVTransport/action", upnp.ActionHandler())
	r.HandleFunc("/AVTransport/event", upnp.EventHandler)

	if rt.Projection != nil {
		r.Get("/projection", rt.Projection.ServeHTTP)
		r.Post("/projection", rt.Projection.ServeHTTP)
	}

	r.Get("/debug/log", logFileHandler(rt.LogDir, true))
	r.Get("/debug/old", logFileHandler(rt.LogDir, false))
	r.Get("/metrics", rt.Metrics.Handler().ServeHTTP)

	return r
}

func xmlHandler(doc string) http.HandlerFunc {
	body := []byte(doc)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		_, _ = w.Write(body)
	}
}

func logFileHandler(dir string, newest bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := pickLogFile(dir, newest)
		if err != nil {
			log.CtxDebug(r.Context(), "no log file in %q: %s", dir, err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.CtxError(r.Context(), "read log file %s fail: %s", path, err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(data)
	}
}

// pickLogFile returns the newest or oldest *.log in dir by modification time.
func pickLogFile(dir string, newest bool) (string, error) {
	if dir == "" {
		return "", os.ErrNotExist
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return "", err
	}

	type entry struct {
		path string
		mod  int64
	}
	var files []entry
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		files = append(files, entry{path: m, mod: fi.ModTime().UnixNano()})
	}
	if len(files) == 0 {
		return "", os.ErrNotExist
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })
	if newest {
		return files[len(files)-1].path, nil
	}
	return files[0].path, nil
}
