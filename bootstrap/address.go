// File: bootstrap/address.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"net"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/transport/local"
)

// ParseAddress accepts "local:name", a multiaddr such as
// "/ip4/127.0.0.1/tcp/7000" or a host:port pair.
func ParseAddress(s string) (net.Addr, error) {
	switch {
	case s == "":
		return nil, api.NewError(api.ErrCodeInvalidArgument, "empty address")
	case strings.HasPrefix(s, "local:"):
		return local.Addr(s), nil
	case strings.HasPrefix(s, "/"):
		m, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, api.Errorf(api.ErrCodeInvalidArgument, "bad multiaddr %q: %v", s, err)
		}
		a, err := manet.ToNetAddr(m)
		if err != nil {
			return nil, api.Errorf(api.ErrCodeInvalidArgument, "unsupported multiaddr %q: %v", s, err)
		}
		if _, ok := a.(*net.TCPAddr); !ok {
			return nil, api.Errorf(api.ErrCodeInvalidArgument, "multiaddr %q is not tcp", s)
		}
		return a, nil
	}
	a, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "bad address %q: %v", s, err)
	}
	return a, nil
}
