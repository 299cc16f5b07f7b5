package client

import (
	"log"
	"net"
)

// ResolveProxy picks the proxy for a server. An explicitly configured proxy
// always wins; otherwise the one that worked last time for the server is
// reused, trying the address with and without the default port.
//
// If no connection history is found the connection is direct and the empty
// string is returned.
func ResolveProxy(address, configured string, state StateStore, logger *log.Logger) string {
	if configured != "" || state == nil {
		return configured
	}

	for _, addr := range buildLookupAddresses(address) {
		proxy, err := state.GetLastSuccessfulProxy(addr)
		if err == nil && proxy != "" {
			if logger != nil {
				logger.Printf("Found connection history for %s: %s", addr, proxy)
			}
			return proxy
		}
	}
	return ""
}

// buildLookupAddresses creates a list of address variations to check for connection history
func buildLookupAddresses(address string) []string {
	lookupAddrs := []string{address}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		// No port specified, try with the registered port
		return append(lookupAddrs, net.JoinHostPort(address, DefaultPort))
	}

	lookupAddrs = append(lookupAddrs, host)
	if port != DefaultPort {
		lookupAddrs = append(lookupAddrs, net.JoinHostPort(host, DefaultPort))
	}
	return lookupAddrs
}
