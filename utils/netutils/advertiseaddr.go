// Package netutils has small helpers for picking the address an instance
// advertises to its peers.
package netutils

// GetAdvertiseAddress resolves the address to advertise for a given bind
// address. A concrete bind address is used as-is, an inaddr_any bind falls
// back to the system's outbound interface.
func GetAdvertiseAddress(bindAddress string) (string, error) {
	if !IsInAddrAny(bindAddress) {
		return bindAddress, nil
	}

	outboundIP, err := GetOutboundIP()
	if err != nil {
		return "", err
	}

	return outboundIP.String(), nil
}
