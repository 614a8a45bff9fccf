// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "net"

// interfaceAddresses is the part of a network interface that address
// selection looks at.
type interfaceAddresses struct {
	flags     net.Flags
	addresses []net.Addr
}

// ExternalAddress returns the first address of the requested family
// (IPv6 when ipv6 is true) on an up, non-loopback interface, or the
// loopback address of that family when there is none.
func ExternalAddress(ipv6 bool) net.IP {
	interfaces, err := net.Interfaces()
	if err != nil {
		return loopback(ipv6)
	}
	candidates := make([]interfaceAddresses, 0, len(interfaces))
	for _, iface := range interfaces {
		addresses, err := iface.Addrs()
		if err != nil {
			continue
		}
		candidates = append(candidates, interfaceAddresses{flags: iface.Flags, addresses: addresses})
	}
	return selectExternalAddress(candidates, ipv6)
}

func selectExternalAddress(candidates []interfaceAddresses, ipv6 bool) net.IP {
	for _, candidate := range candidates {
		if candidate.flags&net.FlagUp == 0 || candidate.flags&net.FlagLoopback != 0 {
			continue
		}
		for _, address := range candidate.addresses {
			var ip net.IP
			switch a := address.(type) {
			case *net.IPNet:
				ip = a.IP
			case *net.IPAddr:
				ip = a.IP
			default:
				continue
			}
			if ip.IsLoopback() || ip.IsUnspecified() {
				continue
			}
			isIPv4 := ip.To4() != nil
			if isIPv4 == ipv6 {
				continue
			}
			// Link-local IPv6 addresses need a zone to be dialed.
			if ipv6 && ip.IsLinkLocalUnicast() {
				continue
			}
			return ip
		}
	}
	return loopback(ipv6)
}

func loopback(ipv6 bool) net.IP {
	if ipv6 {
		return net.IPv6loopback
	}
	return net.IPv4(127, 0, 0, 1)
}
