package upnp

import (
	"bytes"
	"encoding/xml"
	"net"
	"net/http"
	"strings"
)

// ActionName strips the quoted service type from a SOAPACTION header.
func ActionName(header string) string {
	header = strings.Trim(header, `"`)
	return header[strings.LastIndexByte(header, '#')+1:]
}

// ArgValue returns the trimmed text of the first element called name in a
// SOAP body, ignoring any namespace prefix. Entities are decoded.
func ArgValue(body []byte, name string) string {
	d := xml.NewDecoder(bytes.NewReader(body))
	d.Strict = false
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != name {
			continue
		}
		var v string
		if err := d.DecodeElement(&v, &se); err != nil {
			return ""
		}
		return strings.TrimSpace(v)
	}
}

type soapEnvelope struct {
	XMLName  xml.Name  `xml:"s:Envelope"`
	NS       string    `xml:"xmlns:s,attr"`
	Encoding string    `xml:"s:encodingStyle,attr"`
	Fault    soapFault `xml:"s:Body>s:Fault"`
}

type soapFault struct {
	Code   string    `xml:"faultcode"`
	String string    `xml:"faultstring"`
	Detail upnpError `xml:"detail>UPnPError"`
}

type upnpError struct {
	NS          string `xml:"xmlns,attr"`
	Code        int    `xml:"errorCode"`
	Description string `xml:"errorDescription"`
}

// WriteSOAPError answers with a UPnP fault. Faults are always HTTP 500.
func WriteSOAPError(w http.ResponseWriter, code int, desc string) {
	out, _ := xml.MarshalIndent(soapEnvelope{
		NS:       "http://schemas.xmlsoap.org/soap/envelope/",
		Encoding: "http://schemas.xmlsoap.org/soap/encoding/",
		Fault: soapFault{
			Code:   "s:Client",
			String: "UPnPError",
			Detail: upnpError{NS: "urn:schemas-upnp-org:control-1-0", Code: code, Description: desc},
		},
	}, "", "  ")

	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
