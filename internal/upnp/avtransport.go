package upnp

import (
	"io"
	"net/http"

	"github.com/tr1v3r/pkg/log"
)

const maxActionBody = 1 << 20

// ActionHandler answers AVTransport control posts by echoing the request body.
// The renderer is driven through the projection session, so SOAP actions are
// only logged.
func ActionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxActionBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		action := ActionName(r.Header.Get("SOAPACTION"))
		log.CtxDebug(ctx, "handle AVTransport action=%q from=%s body=%s", action, remoteHost(r), string(body))

		if action == "SetAVTransportURI" {
			uri := ArgValue(body, "CurrentURI")
			if media, err := ParseMetadata(ArgValue(body, "CurrentURIMetaData")); err == nil {
				log.CtxDebug(ctx, "AVTransport uri=%s title=%q", uri, media.Title)
			} else {
				log.CtxDebug(ctx, "AVTransport uri=%s", uri)
			}
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(body)
	}
}
