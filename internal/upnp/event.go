package upnp

import (
	"net/http"

	"github.com/tr1v3r/pkg/log"
)

// EventHandler rejects GENA subscriptions: the renderer pushes state over
// the projection session instead.
func EventHandler(w http.ResponseWriter, r *http.Request) {
	log.Debug("Event request method=%s path=%s callback=%s", r.Method, r.URL.Path, r.Header.Get("CALLBACK"))
	WriteSOAPError(w, 401, "Invalid Action")
}
