// Package netutil discovers the address the control plane should advertise
// to worker hosts it provisions.
package netutil

import (
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// DiscoverPublicAddr resolves the address to advertise as the control
// plane's own reachable endpoint. It prefers an explicit override, then
// falls back to an external IP lookup, then to a local outbound-socket
// trick.
func DiscoverPublicAddr(override string) string {
	if override != "" {
		return override
	}
	if ip := os.Getenv("SERVER_PUBLIC_IP"); ip != "" {
		return ip
	}
	if ip := fetchExternalIP("https://api.ipify.org?format=text"); ip != "" {
		return ip
	}
	if ip := fetchExternalIP("https://icanhazip.com"); ip != "" {
		return ip
	}
	return localOutboundIP()
}

func fetchExternalIP(url string) string {
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}

func localOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP.String()
}
