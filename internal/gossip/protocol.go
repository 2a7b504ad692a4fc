package gossip

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/pkg/types"
)

// wireMessage is the UDP datagram format gossip exchanges are marshaled
// as (spec.md §9 "dynamic dispatch to replica module" translation
// applied to transport: the wire shape is an implementation detail of
// this Transport, not of the Gossiper itself).
type wireMessage struct {
	FromNode string                   `json:"from_node"`
	View     map[string]types.NodeInfo `json:"view"`
}

// UDPTransport implements Transport over UDP for a real multi-process
// deployment (spec.md treats RPC transport as an external collaborator;
// this is that collaborator's reference implementation for gossip
// specifically, grounded on the teacher's original UDP protocol.go).
// Because UDP has no request/reply framing, an exchange is one-way: the
// receiver merges the datagram and sends nothing back, so each side
// learns the other's view only from the other's own rounds. Merge's
// idempotence makes lost or reordered datagrams harmless to convergence
// (spec.md §4.8 "Ordering and delivery").
type UDPTransport struct {
	selfID string
	conn   *net.UDPConn
	log    *zap.SugaredLogger

	mu    sync.RWMutex
	peers map[string]*net.UDPAddr

	gossiper *Gossiper
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewUDPTransport binds a UDP socket at listenAddr for node selfID.
// Call Attach before Start to wire it to the Gossiper it serves.
func NewUDPTransport(selfID, listenAddr string, log *zap.SugaredLogger) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPTransport{
		selfID: selfID,
		conn:   conn,
		log:    log,
		peers:  make(map[string]*net.UDPAddr),
		stopCh: make(chan struct{}),
	}, nil
}

// Attach wires this transport to the Gossiper it carries traffic for.
func (t *UDPTransport) Attach(g *Gossiper) {
	t.gossiper = g
	g.SetTransport(t)
}

// AddPeer registers the UDP address for a peer node id.
func (t *UDPTransport) AddPeer(nodeID, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.peers[nodeID] = udpAddr
	t.mu.Unlock()
	return nil
}

// RemovePeer forgets a peer's address.
func (t *UDPTransport) RemovePeer(nodeID string) {
	t.mu.Lock()
	delete(t.peers, nodeID)
	t.mu.Unlock()
}

// Start begins the UDP receive loop.
func (t *UDPTransport) Start() {
	t.wg.Add(1)
	go t.receiveLoop()
}

// Stop closes the socket and waits for the receive loop to exit.
func (t *UDPTransport) Stop() {
	close(t.stopCh)
	t.conn.Close()
	t.wg.Wait()
}

// SendGossip implements Transport: marshal the view and send it as a
// single best-effort datagram to peerID. There is no reply on this
// call — the peer merges it in its receiveLoop, and when the peer later
// gossips to this node on its own round, this node absorbs that via its
// own receive loop. An unknown peerID returns (nil, nil) without sending.
func (t *UDPTransport) SendGossip(ctx context.Context, peerID string, view map[string]types.NodeInfo) (map[string]types.NodeInfo, error) {
	t.mu.RLock()
	addr, ok := t.peers[peerID]
	t.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	data, err := json.Marshal(wireMessage{FromNode: t.selfID, View: view})
	if err != nil {
		return nil, err
	}

	_, err = t.conn.WriteToUDP(data, addr)
	return nil, err
}

func (t *UDPTransport) receiveLoop() {
	defer t.wg.Done()

	buf := make([]byte, 65535)
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		t.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-t.stopCh:
				return
			default:
				t.log.Warnw("gossip udp read error", "error", err)
				continue
			}
		}

		var msg wireMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			t.log.Warnw("invalid gossip datagram", "error", err)
			continue
		}

		if t.gossiper != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			t.gossiper.HandleGossip(ctx, msg.View)
			cancel()
		}
	}
}
