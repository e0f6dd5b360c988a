package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/zeroconf/v2"

	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/log"
)

// DefaultDiscoveryWindow bounds how long Discover listens for mDNS
// responses before returning whatever it has collected.
const DefaultDiscoveryWindow = 8 * time.Second

// serviceName is the mDNS-SD service type baza instances advertise and
// browse for, scoped per login+app so unrelated baza stores on the same
// network never see each other.
func serviceName(login, app string) string {
	return fmt.Sprintf("_%s@%s._tcp", login, app)
}

const mdnsDomain = "local."

const instanceIDTXTKey = "instance_id="

// Peer is one discovered instance: its advertised instance id and the
// address a NetworkAgent can dial.
type Peer struct {
	InstanceId ids.InstanceId
	Host       string
	Port       int
}

// Advertise publishes this instance on the local network under
// _<login>@<app>._tcp, carrying instance_id in a TXT record so a browser
// can tell which of possibly several listeners on a host is which baza
// store. The returned zeroconf.Server must be shut down when the sync
// listener stops.
func Advertise(login, app string, instanceID ids.InstanceId, port int) (*zeroconf.Server, error) {
	txt := []string{instanceIDTXTKey + string(instanceID)}

	server, err := zeroconf.Register(string(instanceID), serviceName(login, app), mdnsDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("sync: advertising mDNS service: %w", err)
	}

	return server, nil
}

// Discover browses for other baza instances advertising the same
// login+app for up to window (DefaultDiscoveryWindow if window <= 0),
// returning every peer found. selfID is excluded from the result so an
// instance never tries to sync with itself.
func Discover(ctx context.Context, login, app string, selfID ids.InstanceId, window time.Duration) ([]Peer, error) {
	if window <= 0 {
		window = DefaultDiscoveryWindow
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	var peers []Peer

	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			peer, ok := entryToPeer(entry)
			if !ok || peer.InstanceId == selfID {
				continue
			}
			peers = append(peers, peer)
		}
	}()

	browseCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	if err := zeroconf.Browse(browseCtx, serviceName(login, app), mdnsDomain, entries); err != nil {
		return nil, fmt.Errorf("sync: browsing mDNS: %w", err)
	}

	<-browseCtx.Done()
	<-done

	log.Logger.Debug().Int("count", len(peers)).Msg("mDNS discovery window closed")

	return peers, nil
}

func entryToPeer(entry *zeroconf.ServiceEntry) (Peer, bool) {
	var instanceID ids.InstanceId
	for _, field := range entry.Text {
		if after, ok := strings.CutPrefix(field, instanceIDTXTKey); ok {
			instanceID = ids.InstanceId(after)
		}
	}
	if instanceID == "" {
		return Peer{}, false
	}

	host := entry.HostName
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	}

	return Peer{InstanceId: instanceID, Host: host, Port: entry.Port}, true
}
