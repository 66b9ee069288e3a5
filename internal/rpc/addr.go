package rpc

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// resolveTCP4 resolves addr (host:port) into a raw IPv4 sockaddr for
// use with the unix syscall package, since the epoll-driven server
// manages its sockets below the net package.
func resolveTCP4(addr string) (unix.Sockaddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, err
	}

	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("rpc: %s does not resolve to an IPv4 address", addr)
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	copy(sa.Addr[:], ip4)
	return sa, nil
}
