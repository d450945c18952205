package discovery

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/grandcat/zeroconf"

	"trustchain.mini/tcm/internal/types"
)

// Config describes what this node announces.
type Config struct {
	ServiceName string
	// APIPort is the registered service port.
	APIPort int
	// P2PPort and NodeID are announced in TXT records for persistent_peers.
	P2PPort int
	NodeID  string
}

// DiscoveryService handles the mDNS registration and browsing.
type DiscoveryService struct {
	cfg       Config
	resolver  *zeroconf.Resolver
	server    *zeroconf.Server
	peerStore *PeerStore
	onChange  func(peers []string)
	logger    *slog.Logger
	cancel    context.CancelFunc
}

// NewDiscoveryService creates a new mDNS discovery service. onChange, when
// set, receives the persistent peer list whenever it changes.
func NewDiscoveryService(cfg Config, onChange func(peers []string), logger *slog.Logger) (*DiscoveryService, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DiscoveryService{
		cfg:       cfg,
		resolver:  resolver,
		peerStore: NewPeerStore(),
		onChange:  onChange,
		logger:    logger.With("component", "mdns"),
	}, nil
}

// Txt returns the TXT records announced for this node.
func (c Config) Txt() []string {
	return []string{
		TxtNodeID + "=" + c.NodeID,
		TxtP2PPort + "=" + strconv.Itoa(c.P2PPort),
		TxtVersion + "=" + types.Version,
	}
}

// Start announces the local service and begins browsing for remote
// services until ctx is done or Stop is called.
func (s *DiscoveryService) Start(ctx context.Context) error {
	hostname, _ := os.Hostname()

	server, err := zeroconf.Register(hostname, s.cfg.ServiceName, "local.", s.cfg.APIPort, s.cfg.Txt(), nil)
	if err != nil {
		return err
	}
	s.server = server
	s.logger.Info("announced service", "service", s.cfg.ServiceName, "host", hostname, "node_id", s.cfg.NodeID)

	ctx, s.cancel = context.WithCancel(ctx)
	go s.browseForPeers(ctx)

	return nil
}

func (s *DiscoveryService) browseForPeers(ctx context.Context) {
	entries := make(chan *zeroconf.ServiceEntry)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			s.handleEntry(entry)
		}
	}(entries)

	s.logger.Info("browsing for peers")
	if err := s.resolver.Browse(ctx, s.cfg.ServiceName, "local.", entries); err != nil {
		s.logger.Error("failed to browse for mDNS services", "err", err)
	}
	<-ctx.Done()
	s.logger.Info("peer browsing stopped")
}

func (s *DiscoveryService) handleEntry(entry *zeroconf.ServiceEntry) {
	var changed bool
	if entry.TTL == 0 {
		s.logger.Info("peer removed", "instance", entry.Instance)
		changed = s.peerStore.Remove(entry.Instance)
	} else {
		s.logger.Debug("peer discovered", "instance", entry.Instance, "addrs", entry.AddrIPv4, "port", entry.Port)
		changed = s.peerStore.AddFromServiceEntry(entry)
	}
	if changed && s.onChange != nil {
		s.onChange(s.peerStore.PersistentPeers(s.cfg.NodeID))
	}
}

// GetPeers returns a snapshot of discovered peers as Peer entries.
func (s *DiscoveryService) GetPeers() []*Peer {
	return s.peerStore.List()
}

// PersistentPeers returns the current id@ip:port list excluding this node.
func (s *DiscoveryService) PersistentPeers() []string {
	return s.peerStore.PersistentPeers(s.cfg.NodeID)
}

// Stop gracefully shuts down the mDNS service.
func (s *DiscoveryService) Stop() {
	s.logger.Info("stopping service discovery")
	if s.cancel != nil {
		s.cancel()
	}
	if s.server != nil {
		s.server.Shutdown()
	}
}
