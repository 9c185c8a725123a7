// Package httptransport carries raft.Message between peers over HTTP/2
// cleartext (h2c), the way bernerdschaefer-raft's rafthttp.Server installs
// one JSON handler per RPC onto a mux and a matching client round-trips
// against a peer's base URL - collapsed here to one path, since
// raft.Message already self-discriminates on MsgType instead of needing
// one path per RPC.
package httptransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/tinyraft/raftcore/raft"
)

const messagePath = "/raft/message"

// Dispatcher is the receiving side of a Server: *node.Node satisfies this
// directly through its Step method.
type Dispatcher interface {
	Step(ctx context.Context, m raft.Message) error
}

// Server answers inbound raft.Message deliveries over h2c.
type Server struct {
	dispatcher Dispatcher
}

// NewServer returns a Server that forwards every delivered message to d.
func NewServer(d Dispatcher) *Server {
	return &Server{dispatcher: d}
}

// Handler returns the http.Handler to mount on a listener; wrapping it in
// h2c.NewHandler lets it speak HTTP/2 without TLS, the cheapest way to get
// multiplexed, low-latency RPCs between cluster members on a trusted
// network.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(messagePath, s.handleMessage)
	return h2c.NewHandler(mux, &http2.Server{})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var m raft.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.dispatcher.Step(r.Context(), m); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Transport is the sending side: a registry of peer id -> base URL plus
// an h2c-capable client to reach them.
type Transport struct {
	mu    sync.RWMutex
	peers map[uint64]string

	client *http.Client
}

// NewTransport returns a Transport with no peers registered yet.
func NewTransport() *Transport {
	return &Transport{
		peers: make(map[uint64]string),
		client: &http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
	}
}

// AddPeer registers (or updates) the base URL a server id is reachable at.
func (t *Transport) AddPeer(id uint64, baseURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[id] = baseURL
}

// RemovePeer drops a peer, e.g. once RemoveServer commits for it.
func (t *Transport) RemovePeer(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, id)
}

// Send delivers a single message to its m.To peer.
func (t *Transport) Send(ctx context.Context, m raft.Message) error {
	t.mu.RLock()
	url, ok := t.peers[m.To]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("httptransport: no peer registered for id %d", m.To)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+messagePath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httptransport: peer %d responded %s", m.To, resp.Status)
	}
	return nil
}

// SendAll fans a batch of outbound messages out concurrently, one
// connection attempt per message, and waits for all of them to finish -
// the network-facing counterpart to bcastAppend/bcastHeartbeat's fan-out.
// Per-peer delivery failures are not returned; a peer that is down simply
// misses this round and catches up on the next heartbeat or append retry.
func (t *Transport) SendAll(ctx context.Context, msgs []raft.Message) {
	var wg sync.WaitGroup
	for _, m := range msgs {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = t.Send(ctx, m)
		}()
	}
	wg.Wait()
}
