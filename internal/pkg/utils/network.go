package utils

import "net"

// IsPrivateHost checks whether a hostname resolves to a private, loopback
// or link-local address. Used to keep webhooks off the internal network.
func IsPrivateHost(host string) bool {
	if host == "localhost" || host == "metadata.google.internal" {
		return true
	}

	if ip := net.ParseIP(host); ip != nil {
		return IsPrivateIP(ip)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return false
	}
	for _, ip := range ips {
		if IsPrivateIP(ip) {
			return true
		}
	}
	return false
}

func IsPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
