// Package certs issues a locally trusted TLS certificate for the agent, so
// phones and browsers on the LAN can reach it over wss://, and serves the CA
// over plain HTTP for installing on those devices.
package certs

import (
	"net"
)

// LANAddresses returns the IPv4 addresses of the interfaces that are up,
// loopback excluded.
func LANAddresses() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ip := ipv4(addr); ip != nil && !ip.IsLoopback() {
				ips = append(ips, ip.String())
			}
		}
	}
	return ips, nil
}

func ipv4(addr net.Addr) net.IP {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	return ip.To4()
}

// Hosts returns the names a certificate must cover: localhost, the loopback
// address and every LAN address.
func Hosts() ([]string, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	lan, err := LANAddresses()
	if err != nil {
		return hosts, err
	}
	return append(hosts, lan...), nil
}

// PrimaryHost returns the first LAN address, or localhost when there is none.
func PrimaryHost() string {
	if lan, err := LANAddresses(); err == nil && len(lan) > 0 {
		return lan[0]
	}
	return "localhost"
}
