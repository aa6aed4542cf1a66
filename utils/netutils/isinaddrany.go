package netutils

// IsInAddrAny reports whether addr is a wildcard bind address rather than a
// concrete interface address.
func IsInAddrAny(addr string) bool {
	return addr == "" || addr == "::/0" || addr == "0.0.0.0"
}
