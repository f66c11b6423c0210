package cfddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// InterfaceResolver constructs a resolver that returns the first IPv4 address reported by the given interfaces.
// If no interfaces are provided then all interfaces will be used.
// Loopback and link-local addresses are always skipped.
//
// This is only useful on hosts that hold their public address directly, without NAT.
func InterfaceResolver(iface ...string) Resolver {
	if len(iface) == 0 {
		return localResolver{}
	}
	return interfaceResolver{ifaces: iface}
}

type interfaceResolver struct {
	ifaces []string
}

func (r interfaceResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	var errs []error
	for _, ifs := range r.ifaces {
		iface, err := net.InterfaceByName(ifs)
		if err != nil {
			errs = append(errs, fmt.Errorf("error getting interface %s by name: %w", ifs, err))
			continue
		}
		a, err := iface.Addrs()
		if err != nil {
			errs = append(errs, fmt.Errorf("error looking up addresses for interface %s: %w", ifs, err))
			continue
		}
		addr, err := firstIPv4(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("interface %s: %w", ifs, err))
			continue
		}
		return addr, nil
	}
	return netip.Addr{}, errors.Join(errs...)
}

type localResolver struct{}

func (r localResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	adds, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error getting addresses for interface: %w", err)
	}
	return firstIPv4(adds)
}

// firstIPv4 picks the first usable IPv4 address out of interface addresses such as
//
//	ip+net:192.168.86.253/24
//	ip+net:fd64:9f44:fc30:0:b951:8b16:2812:a227/64
//	ip+net:fe80::2cc9:801b:3551:9a43/64
func firstIPv4(addrs []net.Addr) (netip.Addr, error) {
	var parseErrors []error
	for _, addr := range addrs {
		prefix, err := netip.ParsePrefix(addr.String())
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("error parsing local ip %s: %s", addr.String(), err))
			continue
		}
		ip := prefix.Addr().Unmap()
		if !ip.Is4() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip, nil
	}
	return netip.Addr{}, errors.Join(append(parseErrors, errors.New("no usable IPv4 address found"))...)
}
