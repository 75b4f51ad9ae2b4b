// Package locator implements the RTPS Locator: a transport address a
// datagram can be sent to.
package locator

import (
	"fmt"
	"net"
)

// Kind identifies the transport a Locator's address applies to.
type Kind int32

const (
	KindInvalid Kind = iota - 1
	KindReserved
	KindUDPv4
	KindUDPv6
)

func (k Kind) String() string {
	switch k {
	case KindUDPv4:
		return "UDPv4"
	case KindUDPv6:
		return "UDPv6"
	case KindReserved:
		return "Reserved"
	default:
		return "Invalid"
	}
}

// Locator is a transport address: a kind, a port, and a 16-byte
// address (IPv4 addresses are stored in the last 4 bytes, per RTPS).
type Locator struct {
	Kind    Kind
	Port    uint32
	Address [16]byte
}

// FromUDPAddr builds a Locator from a standard library UDP address.
func FromUDPAddr(addr *net.UDPAddr) Locator {
	var l Locator
	l.Port = uint32(addr.Port)
	if ip4 := addr.IP.To4(); ip4 != nil {
		l.Kind = KindUDPv4
		copy(l.Address[12:], ip4)
	} else {
		l.Kind = KindUDPv6
		copy(l.Address[:], addr.IP.To16())
	}
	return l
}

// UDPAddr converts l back to a standard library UDP address. It
// panics if l's kind is not a UDP kind.
func (l Locator) UDPAddr() *net.UDPAddr {
	switch l.Kind {
	case KindUDPv4:
		return &net.UDPAddr{IP: net.IP(l.Address[12:16]), Port: int(l.Port)}
	case KindUDPv6:
		ip := make(net.IP, 16)
		copy(ip, l.Address[:])
		return &net.UDPAddr{IP: ip, Port: int(l.Port)}
	default:
		panic(fmt.Sprintf("locator: UDPAddr: unsupported kind %s", l.Kind))
	}
}

func (l Locator) String() string {
	switch l.Kind {
	case KindUDPv4, KindUDPv6:
		return l.UDPAddr().String()
	default:
		return fmt.Sprintf("%s locator", l.Kind)
	}
}
