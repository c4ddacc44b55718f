// Package sockaddr converts between portable socket addresses and the fixed
// native SOCKADDR_IN / SOCKADDR_IN6 / SOCKADDR_STORAGE layouts used by the
// Winsock send/receive-with-address calls.
//
// The layouts are plain byte-compatible Go structs, so the conversion itself
// has no platform dependency; only the family constants follow Winsock.
package sockaddr

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"unsafe"
)

// Winsock address families.
const (
	AFInet  = 2
	AFInet6 = 23
)

var (
	// ErrFamily means the native structure holds an unsupported address family.
	ErrFamily = errors.New("sockaddr: unsupported address family")
	// ErrShort means the native length is smaller than the family's structure.
	ErrShort = errors.New("sockaddr: native address too short")
	// ErrInvalid means the portable address carries no IP.
	ErrInvalid = errors.New("sockaddr: invalid address")
)

// Inet4 mirrors SOCKADDR_IN. Port is stored in network byte order.
type Inet4 struct {
	Family uint16
	Port   [2]byte
	Addr   [4]byte
	Zero   [8]byte
}

// Inet6 mirrors SOCKADDR_IN6. Port is stored in network byte order.
type Inet6 struct {
	Family   uint16
	Port     [2]byte
	FlowInfo uint32
	Addr     [16]byte
	ScopeID  uint32
}

// Storage mirrors SOCKADDR_STORAGE and is large enough for any family.
type Storage struct {
	Family uint16
	_      [6]byte
	_      int64 // __ss_align
	_      [112]byte
}

// Size of the native structures as passed to the kernel.
var (
	SizeofInet4   = int32(unsafe.Sizeof(Inet4{}))
	SizeofInet6   = int32(unsafe.Sizeof(Inet6{}))
	SizeofStorage = int32(unsafe.Sizeof(Storage{}))
)

// Addr is the portable representation of an IPv4 or IPv6 socket address.
type Addr struct {
	IP       netip.Addr
	Port     uint16
	FlowInfo uint32
	ScopeID  uint32
}

// FromUDPAddr builds an Addr from a *net.UDPAddr. A numeric zone or the name of
// a local interface becomes the scope id.
func FromUDPAddr(a *net.UDPAddr) (Addr, error) {
	if a == nil {
		return Addr{}, ErrInvalid
	}
	return fromIPPort(a.IP, a.Port, a.Zone)
}

// FromTCPAddr builds an Addr from a *net.TCPAddr.
func FromTCPAddr(a *net.TCPAddr) (Addr, error) {
	if a == nil {
		return Addr{}, ErrInvalid
	}
	return fromIPPort(a.IP, a.Port, a.Zone)
}

func fromIPPort(ip net.IP, port int, zone string) (Addr, error) {
	if port < 0 || port > 0xFFFF {
		return Addr{}, ErrInvalid
	}
	if len(ip) == 0 {
		// unspecified IPv4, as the net package does for ":port"
		ip = net.IPv4zero
	}
	nip, ok := netip.AddrFromSlice(ip)
	if !ok {
		return Addr{}, ErrInvalid
	}
	a := Addr{IP: nip.Unmap(), Port: uint16(port)}
	if zone != "" && a.IP.Is6() {
		a.ScopeID = zoneToScope(zone)
	}
	return a, nil
}

func zoneToScope(zone string) uint32 {
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n)
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint32(ifi.Index)
	}
	return 0
}

func scopeToZone(scope uint32) string {
	if scope == 0 {
		return ""
	}
	if ifi, err := net.InterfaceByIndex(int(scope)); err == nil {
		return ifi.Name
	}
	return strconv.FormatUint(uint64(scope), 10)
}

// UDPAddr converts a back to a *net.UDPAddr.
func (a Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP.AsSlice(), Port: int(a.Port), Zone: scopeToZone(a.ScopeID)}
}

// TCPAddr converts a back to a *net.TCPAddr.
func (a Addr) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: a.IP.AsSlice(), Port: int(a.Port), Zone: scopeToZone(a.ScopeID)}
}

// Encode marshals a into native storage and reports the length of the
// family-specific structure written.
func Encode(a Addr, out *Storage) (int32, error) {
	switch {
	case a.IP.Is4():
		sa := (*Inet4)(unsafe.Pointer(out))
		*sa = Inet4{Family: AFInet, Addr: a.IP.As4()}
		binary.BigEndian.PutUint16(sa.Port[:], a.Port)
		return SizeofInet4, nil
	case a.IP.Is6():
		sa := (*Inet6)(unsafe.Pointer(out))
		*sa = Inet6{Family: AFInet6, Addr: a.IP.As16(), FlowInfo: a.FlowInfo, ScopeID: a.ScopeID}
		binary.BigEndian.PutUint16(sa.Port[:], a.Port)
		return SizeofInet6, nil
	}
	return 0, ErrInvalid
}

// Decode unmarshals the first n bytes of a native address.
func Decode(in *Storage, n int32) (Addr, error) {
	if n < int32(unsafe.Sizeof(in.Family)) {
		return Addr{}, ErrShort
	}
	switch in.Family {
	case AFInet:
		if n < SizeofInet4 {
			return Addr{}, ErrShort
		}
		sa := (*Inet4)(unsafe.Pointer(in))
		return Addr{
			IP:   netip.AddrFrom4(sa.Addr),
			Port: binary.BigEndian.Uint16(sa.Port[:]),
		}, nil
	case AFInet6:
		if n < SizeofInet6 {
			return Addr{}, ErrShort
		}
		sa := (*Inet6)(unsafe.Pointer(in))
		return Addr{
			IP:       netip.AddrFrom16(sa.Addr),
			Port:     binary.BigEndian.Uint16(sa.Port[:]),
			FlowInfo: sa.FlowInfo,
			ScopeID:  sa.ScopeID,
		}, nil
	}
	return Addr{}, ErrFamily
}
