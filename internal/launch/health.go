package launch

import (
	"net"
	"time"
)

// Reports whether a TCP address currently accepts connections.
func portOpen(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
