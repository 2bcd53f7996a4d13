package upnp

import (
	"encoding/xml"
	"errors"
	"html"
	"strings"
)

// Media is what the first DIDL-Lite item says about the content being set.
type Media struct {
	Title        string
	URL          string
	ProtocolInfo string
}

type didlLite struct {
	Items []struct {
		Title     string `xml:"title"`
		Resources []struct {
			ProtocolInfo string `xml:"protocolInfo,attr"`
			URL          string `xml:",chardata"`
		} `xml:"res"`
	} `xml:"item"`
}

// ParseMetadata decodes CurrentURIMetaData. Controllers often escape the
// document a second time, so any remaining entities are decoded first.
func ParseMetadata(meta string) (Media, error) {
	var d didlLite
	if err := xml.Unmarshal([]byte(html.UnescapeString(meta)), &d); err != nil {
		return Media{}, err
	}
	if len(d.Items) == 0 {
		return Media{}, errors.New("metadata has no item")
	}

	item := d.Items[0]
	m := Media{Title: strings.TrimSpace(item.Title)}
	if len(item.Resources) > 0 {
		m.URL = strings.TrimSpace(item.Resources[0].URL)
		m.ProtocolInfo = item.Resources[0].ProtocolInfo
	}
	return m, nil
}
