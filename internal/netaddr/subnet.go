// Package netaddr provides an immutable subnet-aware IP address value type
// used to classify and compare addresses across IPv4 and IPv6.
package netaddr

import (
	"fmt"
	"math/bits"
	"net"
	"strconv"
	"strings"
)

// Family identifies the address family of a SubnetAddress. It is derived
// from the address length at construction and fixed for the value's lifetime.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv4 {
		return "IPv4"
	}
	return "IPv6"
}

func (f Family) addrLen() int {
	if f == IPv4 {
		return 4
	}
	return 16
}

func (f Family) maxPrefix() int {
	if f == IPv4 {
		return 32
	}
	return 128
}

// SubnetAddress is an address plus prefix length. It is a comparable value:
// equality and map-key hashing are structural on (address, prefixLength).
// All derived quantities (mask, first/last address, classification) are pure
// functions of the two fields.
type SubnetAddress struct {
	addr   [16]byte // IPv4 occupies the first 4 bytes
	family Family
	prefix uint8
	zone   string // IPv6 scope zone, textual form only
}

// New builds a SubnetAddress from an address and an explicit prefix length.
func New(ip net.IP, prefixLen int) (SubnetAddress, error) {
	s, err := fromIP(ip)
	if err != nil {
		return SubnetAddress{}, err
	}
	if prefixLen < 0 || prefixLen > s.family.maxPrefix() {
		return SubnetAddress{}, fmt.Errorf("prefix length %d out of range for %s address", prefixLen, s.family)
	}
	s.prefix = uint8(prefixLen)
	return s, nil
}

// FromIP builds a host route: prefix length 32 for IPv4, 128 for IPv6.
func FromIP(ip net.IP) (SubnetAddress, error) {
	s, err := fromIP(ip)
	if err != nil {
		return SubnetAddress{}, err
	}
	s.prefix = uint8(s.family.maxPrefix())
	return s, nil
}

// FromIPv4Mask builds a SubnetAddress from an interface-reported IPv4
// address and subnet mask; the prefix length is the mask's population count.
func FromIPv4Mask(ip net.IP, mask net.IPMask) (SubnetAddress, error) {
	s, err := fromIP(ip)
	if err != nil {
		return SubnetAddress{}, err
	}
	if s.family != IPv4 {
		return SubnetAddress{}, fmt.Errorf("mask construction requires an IPv4 address, got %s", ip)
	}
	prefix := 0
	for _, b := range mask {
		prefix += bits.OnesCount8(b)
	}
	if prefix > 32 {
		return SubnetAddress{}, fmt.Errorf("mask %s wider than 32 bits", net.IP(mask))
	}
	s.prefix = uint8(prefix)
	return s, nil
}

// FromInterfaceIPv6 builds a SubnetAddress from an interface-reported IPv6
// address: prefix 128 for the loopback address, 64 otherwise.
func FromInterfaceIPv6(ip net.IP) (SubnetAddress, error) {
	s, err := fromIP(ip)
	if err != nil {
		return SubnetAddress{}, err
	}
	if s.family != IPv6 {
		return SubnetAddress{}, fmt.Errorf("expected an IPv6 address, got %s", ip)
	}
	if s.addr == loopback6.addr {
		s.prefix = 128
	} else {
		s.prefix = 64
	}
	return s, nil
}

func fromIP(ip net.IP) (SubnetAddress, error) {
	var s SubnetAddress
	if v4 := ip.To4(); v4 != nil {
		s.family = IPv4
		copy(s.addr[:4], v4)
		return s, nil
	}
	if v6 := ip.To16(); v6 != nil {
		s.family = IPv6
		copy(s.addr[:], v6)
		return s, nil
	}
	return SubnetAddress{}, fmt.Errorf("invalid address length %d", len(ip))
}

// Parse reads "address/prefixLength", splitting on the last '/'. A missing
// prefix defaults per family (host route). An IPv6 zone suffix is kept.
func Parse(text string) (SubnetAddress, error) {
	addrText := text
	prefixText := ""
	hasPrefix := false
	if i := strings.LastIndex(text, "/"); i >= 0 {
		addrText, prefixText = text[:i], text[i+1:]
		hasPrefix = true
	}

	host := addrText
	zone := ""
	if j := strings.IndexByte(addrText, '%'); j >= 0 {
		host, zone = addrText[:j], addrText[j+1:]
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return SubnetAddress{}, fmt.Errorf("malformed address %q", addrText)
	}

	var s SubnetAddress
	var err error
	if !hasPrefix {
		s, err = FromIP(ip)
	} else {
		var prefix int
		prefix, err = strconv.Atoi(prefixText)
		if err != nil {
			return SubnetAddress{}, fmt.Errorf("malformed prefix length %q", prefixText)
		}
		s, err = New(ip, prefix)
	}
	if err != nil {
		return SubnetAddress{}, err
	}
	if zone != "" && s.family != IPv6 {
		return SubnetAddress{}, fmt.Errorf("zone %q on non-IPv6 address %q", zone, host)
	}
	s.zone = zone
	return s, nil
}

// MustParse is Parse for trusted literals; it panics on error.
func MustParse(text string) SubnetAddress {
	s, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return s
}

func (s SubnetAddress) Family() Family    { return s.family }
func (s SubnetAddress) PrefixLength() int { return int(s.prefix) }
func (s SubnetAddress) Zone() string      { return s.zone }

// IP returns a copy of the address bytes.
func (s SubnetAddress) IP() net.IP {
	ip := make(net.IP, s.family.addrLen())
	copy(ip, s.addr[:s.family.addrLen()])
	return ip
}

// maskTable maps the number of prefix bits consumed within one byte to the
// byte's mask value.
var maskTable = [9]byte{0x00, 0x80, 0xC0, 0xE0, 0xF0, 0xF8, 0xFC, 0xFE, 0xFF}

// Mask derives the subnet mask from the prefix length, byte by byte,
// consuming the remaining prefix budget per byte.
func (s SubnetAddress) Mask() net.IPMask {
	mask := make(net.IPMask, s.family.addrLen())
	remaining := int(s.prefix)
	for i := range mask {
		bitsHere := remaining
		if bitsHere > 8 {
			bitsHere = 8
		}
		mask[i] = maskTable[bitsHere]
		remaining -= bitsHere
	}
	return mask
}

// SubnetFirstIP returns the subnet's network address (address AND mask)
// with the same prefix length.
func (s SubnetAddress) SubnetFirstIP() SubnetAddress {
	out := s
	mask := s.Mask()
	for i := range mask {
		out.addr[i] = s.addr[i] & mask[i]
	}
	out.zone = ""
	return out
}

// SubnetLastIP returns the subnet's highest address (address OR NOT mask)
// with the same prefix length.
func (s SubnetAddress) SubnetLastIP() SubnetAddress {
	out := s
	mask := s.Mask()
	for i := range mask {
		out.addr[i] = s.addr[i] | ^mask[i]
	}
	out.zone = ""
	return out
}

// ContainsHost reports whether host falls inside s's subnet. The families
// must match; a mismatch is a contract violation surfaced as an error.
func (s SubnetAddress) ContainsHost(host SubnetAddress) (bool, error) {
	if host.family != s.family {
		return false, fmt.Errorf("family mismatch: subnet is %s, host is %s", s.family, host.family)
	}
	rebased := host
	rebased.prefix = s.prefix
	return rebased.SubnetFirstIP().sameAddr(s.SubnetFirstIP()), nil
}

func (s SubnetAddress) sameAddr(other SubnetAddress) bool {
	return s.addr == other.addr && s.family == other.family
}

var (
	loopback4 = MustParse("127.0.0.1")
	loopback6 = MustParse("::1")

	multicastBase4 = MustParse("224.0.0.0/4")
	multicastBase6 = MustParse("ff00::/8")

	linkLocal4          = MustParse("169.254.0.0/16")
	linkLocal6          = MustParse("fe80::/64")
	linkLocalMulticast4 = MustParse("224.0.0.0/24")
	linkLocalMulticast6 = MustParse("ff02::/16")
)

// IsLoopback reports exact equality to the canonical family loopback
// address. A general 127.0.0.0/8 check is intentionally not performed.
func (s SubnetAddress) IsLoopback() bool {
	if s.family == IPv4 {
		return s.addr == loopback4.addr
	}
	return s.addr == loopback6.addr
}

// IsMulticast reports membership in the family's well-known multicast range.
func (s SubnetAddress) IsMulticast() bool {
	base := multicastBase4
	if s.family == IPv6 {
		base = multicastBase6
	}
	in, _ := base.ContainsHost(s)
	return in
}

// IsLinkLocal reports membership in the family's link-local range or its
// link-local multicast range.
func (s SubnetAddress) IsLinkLocal() bool {
	local, localMulticast := linkLocal4, linkLocalMulticast4
	if s.family == IPv6 {
		local, localMulticast = linkLocal6, linkLocalMulticast6
	}
	if in, _ := local.ContainsHost(s); in {
		return true
	}
	in, _ := localMulticast.ContainsHost(s)
	return in
}

// Equal is structural equality on (address, prefixLength).
func (s SubnetAddress) Equal(other SubnetAddress) bool {
	return s == other
}

// String renders "address/prefixLength". An IPv6 address carrying a zone is
// rendered without the prefix suffix.
func (s SubnetAddress) String() string {
	ipText := net.IP(s.addr[:s.family.addrLen()]).String()
	if s.family == IPv6 && s.zone != "" {
		return ipText + "%" + s.zone
	}
	return ipText + "/" + strconv.Itoa(int(s.prefix))
}
