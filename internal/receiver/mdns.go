package receiver

import (
	"fmt"
	"net"

	"github.com/hashicorp/mdns"
)

const (
	mdnsInstance = "CastLink-Receiver"
	mdnsService  = "_bilibili-cast._tcp"
)

type shutdowner interface {
	Shutdown() error
}

type mdnsConfig struct {
	Instance string
	Service  string
	IP       string
	Port     int
	TXT      []string
}

// startMDNS is replaced in tests; the real one binds UDP 5353.
var startMDNS = func(cfg mdnsConfig) (shutdowner, error) {
	var ips []net.IP
	if ip := net.ParseIP(cfg.IP); ip != nil {
		ips = []net.IP{ip}
	}
	svc, err := mdns.NewMDNSService(cfg.Instance, cfg.Service, "", "", cfg.Port, ips, cfg.TXT)
	if err != nil {
		return nil, fmt.Errorf("build mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("start mdns server: %w", err)
	}
	return server, nil
}
