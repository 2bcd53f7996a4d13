package upnp

import (
	"fmt"
	"html"
	"strings"
)

const (
	DeviceType         = "urn:schemas-upnp-org:device:MediaRenderer:1"
	AVTransportType    = "urn:schemas-upnp-org:service:AVTransport:1"
	NirvanaControlType = "urn:app-bilibili-com:service:NirvanaControl:3"
)

type DeviceInfo struct {
	UUID         string
	FriendlyName string
	ModelName    string
	Manufacturer string
}

// Documents are the descriptor bodies served by the renderer. They are
// rendered once and never change afterwards.
type Documents struct {
	Description    string
	NirvanaControl string
	AVTransport    string
}

func NewDocuments(info DeviceInfo) *Documents {
	if info.Manufacturer == "" {
		info.Manufacturer = "Bilibili Inc."
	}
	return &Documents{
		Description:    deviceDescriptionXML(info),
		NirvanaControl: scpdNirvanaControlXML,
		AVTransport:    scpdAVTransportXML,
	}
}

func deviceDescriptionXML(info DeviceInfo) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<root xmlns:dlna="urn:schemas-dlna-org:device-1-0" xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>%s</deviceType>
    <friendlyName>%s</friendlyName>
    <manufacturer>%s</manufacturer>
    <manufacturerURL>https://www.bilibili.com/</manufacturerURL>
    <modelDescription>%s</modelDescription>
    <modelName>%s</modelName>
    <modelNumber>1024</modelNumber>
    <UDN>uuid:%s</UDN>
    <dlna:X_DLNADOC xmlns:dlna="urn:schemas-dlna-org:device-1-0">DMR-1.50</dlna:X_DLNADOC>
    <serviceList>
      <service>
        <serviceType>%s</serviceType>
        <serviceId>urn:app-bilibili-com:serviceId:NirvanaControl</serviceId>
        <SCPDURL>/dlna/NirvanaControl.xml</SCPDURL>
        <controlURL>/NirvanaControl/action</controlURL>
        <eventSubURL>/NirvanaControl/event</eventSubURL>
      </service>
      <service>
        <serviceType>%s</serviceType>
        <serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
        <SCPDURL>/dlna/AVTransport.xml</SCPDURL>
        <controlURL>/AVTransport/action</controlURL>
        <eventSubURL>/AVTransport/event</eventSubURL>
      </service>
    </serviceList>
  </device>
</root>`,
		DeviceType,
		html.EscapeString(info.FriendlyName),
		html.EscapeString(info.Manufacturer),
		html.EscapeString(info.ModelName),
		html.EscapeString(info.ModelName),
		info.UUID,
		NirvanaControlType,
		AVTransportType)
}

const scpdNirvanaControlXML = `<?xml version="1.0" encoding="UTF-8"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <actionList>
    <action>
      <name>GetAppInfo</name>
      <argumentList>
        <argument><name>Info</name><direction>out</direction><relatedStateVariable>A_ARG_TYPE_Info</relatedStateVariable></argument>
      </argumentList>
    </action>
  </actionList>
  <serviceStateTable>
    <stateVariable sendEvents="no"><name>A_ARG_TYPE_Info</name><dataType>string</dataType></stateVariable>
  </serviceStateTable>
</scpd>`

type argument struct {
	name, dir, variable string
}

type stateVariable struct {
	name, dataType string
	events         bool
}

var (
	instanceID = argument{"InstanceID", "in", "A_ARG_TYPE_InstanceID"}

	avTransportActions = []struct {
		name string
		args []argument
	}{
		{"SetAVTransportURI", []argument{
			instanceID,
			{"CurrentURI", "in", "AVTransportURI"},
			{"CurrentURIMetaData", "in", "AVTransportURIMetaData"},
		}},
		{"Play", []argument{instanceID, {"Speed", "in", "TransportPlaySpeed"}}},
		{"Pause", []argument{instanceID}},
		{"Stop", []argument{instanceID}},
		{"Seek", []argument{
			instanceID,
			{"Unit", "in", "A_ARG_TYPE_SeekMode"},
			{"Target", "in", "A_ARG_TYPE_SeekTarget"},
		}},
	}

	avTransportState = []stateVariable{
		{"TransportState", "string", true},
		{"AVTransportURI", "string", false},
		{"AVTransportURIMetaData", "string", false},
		{"TransportPlaySpeed", "string", false},
		{"A_ARG_TYPE_SeekMode", "string", false},
		{"A_ARG_TYPE_SeekTarget", "string", false},
		{"A_ARG_TYPE_InstanceID", "ui4", false},
	}

	scpdAVTransportXML = avTransportSCPD()
)

func avTransportSCPD() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>
<scpd xmlns="urn:schemas-upnp-org:service-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <actionList>
`)
	for _, a := range avTransportActions {
		fmt.Fprintf(&b, "    <action>\n      <name>%s</name>\n      <argumentList>\n", a.name)
		for _, arg := range a.args {
			fmt.Fprintf(&b, "        <argument><name>%s</name><direction>%s</direction><relatedStateVariable>%s</relatedStateVariable></argument>\n",
				arg.name, arg.dir, arg.variable)
		}
		b.WriteString("      </argumentList>\n    </action>\n")
	}
	b.WriteString("  </actionList>\n  <serviceStateTable>\n")
	for _, v := range avTransportState {
		events := "no"
		if v.events {
			events = "yes"
		}
		fmt.Fprintf(&b, "    <stateVariable sendEvents=\"%s\"><name>%s</name><dataType>%s</dataType></stateVariable>\n", events, v.name, v.dataType)
	}
	b.WriteString("  </serviceStateTable>\n</scpd>")
	return b.String()
}
