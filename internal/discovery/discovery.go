// Package discovery finds termsync hosts on the local network via
// mDNS/DNS-SD. It is the opt-in alternative to configuring a host address
// by hand; discovery only reveals presence, the auth key is still required.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/termsync/client/internal/errors"
)

// ServiceType is the mDNS service type advertised by termsync hosts.
// Follows the standard Bonjour naming convention: _<service>._<protocol>
const ServiceType = "_termsync._tcp"

// DefaultTimeout bounds a browse when the caller supplies no deadline.
const DefaultTimeout = 3 * time.Second

// Host is one discovered termsync host.
type Host struct {
	// Name is the human-readable host name from the advertisement.
	Name string

	// Addr is the IP address, IPv4 preferred.
	Addr string

	// Port is the advertised server port.
	Port int

	// Version is the advertised protocol version.
	Version string
}

// BaseURL returns the websocket origin for the host.
func (h Host) BaseURL() string {
	return fmt.Sprintf("ws://%s:%d", h.Addr, h.Port)
}

// HTTPBaseURL returns the HTTP origin for the host.
func (h Host) HTTPBaseURL() string {
	return fmt.Sprintf("http://%s:%d", h.Addr, h.Port)
}

// Browse searches the local network for termsync hosts until the context
// expires, returning every host seen.
func Browse(ctx context.Context) ([]Host, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, errors.Wrap(errors.CodeDiscoveryFailed, "creating mdns resolver", err)
	}

	var (
		hosts []Host
		mu    sync.Mutex
		wg    sync.WaitGroup
	)
	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			h := Host{Name: entry.Instance, Port: entry.Port}
			if len(entry.AddrIPv4) > 0 {
				h.Addr = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				h.Addr = entry.AddrIPv6[0].String()
			}
			for _, txt := range entry.Text {
				switch {
				case strings.HasPrefix(txt, "version="):
					h.Version = strings.TrimPrefix(txt, "version=")
				case strings.HasPrefix(txt, "name="):
					h.Name = strings.TrimPrefix(txt, "name=")
				}
			}
			mu.Lock()
			hosts = append(hosts, h)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, errors.Wrap(errors.CodeDiscoveryFailed, "mdns browse failed", err)
	}

	<-ctx.Done()
	wg.Wait()
	return hosts, nil
}

// FindFirst browses and returns the first host found, or a
// discovery.no_host error when the timeout passes with no advertisement.
func FindFirst(ctx context.Context) (Host, error) {
	hosts, err := Browse(ctx)
	if err != nil {
		return Host{}, err
	}
	if len(hosts) == 0 {
		return Host{}, errors.New(errors.CodeDiscoveryNoHost, "no host found on the local network")
	}
	return hosts[0], nil
}
