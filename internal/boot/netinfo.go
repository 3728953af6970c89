package boot

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/juju/errors"
)

const procRoute = "/proc/net/route"

type NetInfo struct {
	Interface string
	IP        net.IP
	Netmask   net.IPMask
	Gateway   net.IP
	MAC       net.HardwareAddr
}

// FormatMAC renders upper case colon separated, the form used in topics.
func FormatMAC(hw net.HardwareAddr) string {
	return strings.ToUpper(hw.String())
}

func (self NetInfo) MACString() string { return FormatMAC(self.MAC) }

func (self NetInfo) NetmaskString() string {
	if len(self.Netmask) == 0 {
		return ""
	}
	return net.IP(self.Netmask).String()
}

func (self NetInfo) String() string {
	return fmt.Sprintf("iface=%s ip=%s gw=%s nm=%s mac=%s",
		self.Interface, ipString(self.IP), ipString(self.Gateway), self.NetmaskString(), self.MACString())
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

// InterfaceInfo returns NotFound error until interface has IPv4 address.
func InterfaceInfo(name string) (NetInfo, error) {
	info := NetInfo{Interface: name}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return info, errors.Annotatef(err, "interface=%s", name)
	}
	info.MAC = iface.HardwareAddr
	addrs, err := iface.Addrs()
	if err != nil {
		return info, errors.Annotatef(err, "interface=%s addrs", name)
	}
	if !fillIPv4(&info, addrs) {
		return info, errors.NotFoundf("interface=%s IPv4 address", name)
	}
	if f, err := os.Open(procRoute); err == nil {
		info.Gateway, _ = DefaultGateway(f, name)
		f.Close()
	}
	return info, nil
}

func fillIPv4(info *NetInfo, addrs []net.Addr) bool {
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsUnspecified() {
			info.IP = ip4
			if len(ipnet.Mask) == net.IPv6len {
				info.Netmask = ipnet.Mask[12:]
			} else {
				info.Netmask = ipnet.Mask
			}
			return true
		}
	}
	return false
}

// DefaultGateway parses kernel routing table text, fields are host byte order hex.
func DefaultGateway(r io.Reader, iface string) (net.IP, error) {
	s := bufio.NewScanner(r)
	first := true
	for s.Scan() {
		if first {
			first = false
			continue
		}
		fs := strings.Fields(s.Text())
		if len(fs) < 3 || fs[0] != iface || fs[1] != "00000000" {
			continue
		}
		b, err := hex.DecodeString(fs[2])
		if err != nil || len(b) != 4 {
			return nil, errors.NotValidf("route gateway=%s", fs[2])
		}
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, binary.LittleEndian.Uint32(b))
		return ip, nil
	}
	if err := s.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return nil, errors.NotFoundf("default route iface=%s", iface)
}
