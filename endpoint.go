package virga

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint names the peer of a channel. vsock peers are addressed by
// context id and port; IP transports use Host and Port.
type Endpoint struct {
	CID  uint32
	Port uint32
	Host string
}

// ParseEndpoint accepts "cid:port" (numeric cid) or "host:port".
func ParseEndpoint(s string) (ep Endpoint, err error) {
	var (
		n    uint64
		host string
		port string
	)
	if host, port, err = net.SplitHostPort(s); err != nil {
		return
	}
	if host == "" {
		return ep, fmt.Errorf("endpoint %q: missing host", s)
	}
	if n, err = strconv.ParseUint(port, 10, 32); err != nil {
		return ep, fmt.Errorf("endpoint %q: invalid port: %w", s, err)
	}
	ep.Port = uint32(n)
	if n, err = strconv.ParseUint(host, 10, 32); err == nil {
		ep.CID = uint32(n)
	} else {
		ep.Host = host
		err = nil
	}
	return
}

func (ep Endpoint) String() string {
	if ep.Host != "" {
		return net.JoinHostPort(ep.Host, strconv.FormatUint(uint64(ep.Port), 10))
	}
	return strconv.FormatUint(uint64(ep.CID), 10) + ":" + strconv.FormatUint(uint64(ep.Port), 10)
}
