package abuse

import (
	"context"
	"fmt"
	"net/netip"
)

// IPReputation answers whether an address looks like a VPN, proxy or
// datacenter exit. Implementations backed by a commercial feed can be swapped
// in without touching the gate.
type IPReputation interface {
	IsVPNOrProxy(ctx context.Context, ip string) (bool, error)
}

// PrivateRangeReputation is the default heuristic: private-range, loopback and
// unspecified addresses never belong to a real subscriber hitting the public
// endpoint, so they are treated as proxy traffic.
type PrivateRangeReputation struct{}

func (PrivateRangeReputation) IsVPNOrProxy(_ context.Context, ip string) (bool, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false, fmt.Errorf("unparseable ip %q: %w", ip, err)
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified(), nil
}
