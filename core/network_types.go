package core

import (
	"fmt"
	"time"
)

// NodeID is a libp2p peer ID rendered as its base58 string form.
type NodeID string

// Peer is a remote node this Node has dialed or been dialed by.
type Peer struct {
	ID      NodeID
	Addr    string
	Latency time.Duration
}

// Message is one pubsub delivery: the sender, the topic it arrived on, and
// its raw bytes.
type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// NetworkMessage is a topic/content pair handed to the local replication
// hook, independent of which transport delivered it.
type NetworkMessage struct {
	Topic   string
	Content []byte
}

// InboundMsg is a PeerManagement subscription delivery.
type InboundMsg struct {
	PeerID  string
	Payload []byte
	Topic   string
	Ts      int64
}

// NetworkConfig configures a Node's listen address, discovery tag and seed
// peer set.
type NetworkConfig struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// Address is a host/port pair used by PeerInfo; it stands in for whatever
// concrete transport address a PeerManager implementation resolves.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	if a.Host == "" && a.Port == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// PeerInfo is a PeerManager's external view of one known peer: its ID,
// address, last observed round-trip time, and when that observation was
// made.
type PeerInfo struct {
	ID      NodeID
	Address Address
	RTT     float64
	Updated int64
}

// PeerManager abstracts peer discovery/connection management so election
// and bootstrap machinery can be driven against either the libp2p-backed
// PeerManagement or a test double.
type PeerManager interface {
	DiscoverPeers() []PeerInfo
	Connect(addr string) error
	Disconnect(id NodeID) error
	AdvertiseSelf(topic string) error
	Peers() []PeerInfo
}
