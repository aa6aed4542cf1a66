package netutils

import (
	"net"
)

// GetOutboundIP reports the local address the kernel routes outbound
// traffic through. Dialing UDP only resolves the route, no packet is ever
// sent to the probe target.
func GetOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	_ = conn.Close()

	return localAddr.IP, nil
}
