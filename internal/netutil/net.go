package netutil

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"github.com/tr1v3r/pkg/log"
	"golang.org/x/net/ipv4"
)

func FirstUsableIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&(net.FlagUp|net.FlagLoopback) != net.FlagUp {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil {
				ip := ipn.IP.To4()
				if !ip.IsLoopback() {
					return ip.String(), nil
				}
			}
		}
	}
	return "", fmt.Errorf("no IPv4 found")
}

// MulticastInterfaces returns interfaces that are up, multicast-capable,
// not loopback and carry an IPv4 address.
func MulticastInterfaces() []net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var active []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil && !ipn.IP.IsLoopback() {
				active = append(active, iface)
				break
			}
		}
	}
	return active
}

// ListenPacketReuse binds a UDP socket with SO_REUSEADDR so several
// processes (or a restarted one) can share a well-known multicast port.
func ListenPacketReuse(ctx context.Context, network, address string) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var controlErr error
			if err := c.Control(func(fd uintptr) {
				controlErr = setReuseAddr(fd)
			}); err != nil {
				return err
			}
			return controlErr
		},
	}
	return lc.ListenPacket(ctx, network, address)
}

// ListenMulticast binds 0.0.0.0:<port of groupAddr> with SO_REUSEADDR and
// joins the group on every multicast-capable interface. Unicast datagrams to
// the bound port are delivered too. Binding ":0" picks a free port.
func ListenMulticast(ctx context.Context, groupAddr string) (net.PacketConn, error) {
	host, port, err := net.SplitHostPort(groupAddr)
	if err != nil {
		return nil, fmt.Errorf("parse multicast addr %q: %w", groupAddr, err)
	}
	group := net.ParseIP(host)
	if group == nil || group.To4() == nil {
		return nil, fmt.Errorf("multicast addr %q is not IPv4", groupAddr)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("multicast port %q: %w", port, err)
	}

	pc, err := ListenPacketReuse(ctx, "udp4", net.JoinHostPort("0.0.0.0", port))
	if err != nil {
		return nil, err
	}

	p4 := ipv4.NewPacketConn(pc)
	joined := 0
	for _, iface := range MulticastInterfaces() {
		if err := p4.JoinGroup(&iface, &net.UDPAddr{IP: group}); err != nil {
			log.Debug("join multicast group %s on %s fail: %s", group, iface.Name, err)
			continue
		}
		joined++
	}
	if joined == 0 {
		// no usable interface; fall back to the default route
		if err := p4.JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
			log.Debug("join multicast group %s on default interface fail: %s", group, err)
		}
	}
	_ = p4.SetMulticastLoopback(true)

	return pc, nil
}
