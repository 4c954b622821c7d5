package webserver

import (
	"os"

	"github.com/hashicorp/mdns"

	"github.com/josephschmitt/maestro/internal/debug"
)

// Announcer advertises the daemon's HTTP port on the LAN so front-ends
// can discover it without configuration.
type Announcer struct {
	server *mdns.Server
}

// Announce publishes a _maestro._tcp service for the given port. Failure
// is non-fatal: the daemon works without discovery.
func Announce(port int) *Announcer {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "maestro"
	}

	service, err := mdns.NewMDNSService(host, "_maestro._tcp", "", "", port, nil, []string{"maestro daemon"})
	if err != nil {
		debug.LogKV("webserver", "mdns service setup failed", "error", err)
		return nil
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		debug.LogKV("webserver", "mdns announce failed", "error", err)
		return nil
	}

	debug.LogKV("webserver", "mdns announced", "service", "_maestro._tcp", "port", port)
	return &Announcer{server: server}
}

// Shutdown stops the mDNS responder. Safe on nil.
func (a *Announcer) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}
