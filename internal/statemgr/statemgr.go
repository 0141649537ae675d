// Package statemgr implements the Session Manager / State Manager: it owns
// the Registry and Session Store, computes system metrics, reaps
// timed-out connections, and persists per-client session snapshots across
// reconnects. Grounded on internal/websocket/agent_hub.go's Run() event
// loop (register/unregister/broadcast/staleCheck select) generalized with
// a periodic sweep goroutine shaped like the teacher's internal/tracker
// package.
package statemgr

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Hdpbilly/agent-bridge-platform/internal/logger"
	"github.com/Hdpbilly/agent-bridge-platform/internal/registry"
	"github.com/Hdpbilly/agent-bridge-platform/internal/session"
)

// PersistedSessionState is a client's state carried across a disconnect,
// restored to the next actor that connects for the same client id.
// Mirrors spec.md §3's PersistedSessionState.
type PersistedSessionState struct {
	ClientID       string
	Authenticated  bool
	WalletAddress  string
	OutboundBuffer [][]byte
	LastSeen       time.Time
	SessionData    map[string]string

	savedAt time.Time
}

type sample struct {
	at    time.Time
	total uint64
}

// Manager owns the Registry, Session Store, and persisted snapshots, and
// computes the system-wide metrics query.
type Manager struct {
	Registry *registry.Registry
	Sessions *session.Store

	snapshotTTL time.Duration

	mu        sync.Mutex
	snapshots map[string]*PersistedSessionState

	windowMu      sync.Mutex
	window        []sample
	totalMessages uint64
	totalBytes    uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Manager. snapshotTTL governs how long a disconnected
// client's persisted state survives before being dropped (distinct from
// the Session Store's own TTL, per spec.md §4.6).
func New(reg *registry.Registry, sessions *session.Store, snapshotTTL time.Duration) *Manager {
	if snapshotTTL <= 0 {
		snapshotTTL = time.Hour
	}
	return &Manager{
		Registry:    reg,
		Sessions:    sessions,
		snapshotTTL: snapshotTTL,
		snapshots:   make(map[string]*PersistedSessionState),
		stopCh:      make(chan struct{}),
	}
}

// RegisterClient registers a newly connected client actor and, if a
// snapshot exists for clientID, returns it (and clears it) so the caller
// can restore it onto the new actor before any fresh traffic.
func (m *Manager) RegisterClient(clientID uuid.UUID, sessionToken string, addr registry.Sender, authenticated bool, wallet string) *PersistedSessionState {
	m.Registry.RegisterClient(clientID, sessionToken, addr, authenticated, wallet)

	m.mu.Lock()
	snap, ok := m.snapshots[clientID.String()]
	if ok {
		delete(m.snapshots, clientID.String())
	}
	m.mu.Unlock()

	if ok {
		return snap
	}
	return nil
}

// RegisterAgent registers a newly connected agent actor.
func (m *Manager) RegisterAgent(agentID string, addr registry.Sender) {
	m.Registry.RegisterAgent(agentID, addr)
}

// OnClientDisconnect unregisters clientID (transitioning it to Disconnected
// without deleting the record) and persists its outbound buffer and
// session metadata into a snapshot for a future reconnect.
func (m *Manager) OnClientDisconnect(clientID string, outboundBuffer [][]byte, authenticated bool, wallet string, sessionData map[string]string) {
	m.Registry.UnregisterClient(clientID)

	snap := &PersistedSessionState{
		ClientID:       clientID,
		Authenticated:  authenticated,
		WalletAddress:  wallet,
		OutboundBuffer: outboundBuffer,
		LastSeen:       time.Now(),
		SessionData:    sessionData,
		savedAt:        time.Now(),
	}

	m.mu.Lock()
	m.snapshots[clientID] = snap
	m.mu.Unlock()
}

// OnAgentDisconnect unregisters an agent actor.
func (m *Manager) OnAgentDisconnect(agentID string) {
	m.Registry.UnregisterAgent(agentID)
}

// RecordActivity forwards to the Registry and records the message in the
// sliding messages-per-second window.
func (m *Manager) RecordActivity(id string, isClient, sent, received bool, bytes uint64) {
	m.Registry.UpdateActivity(id, isClient, sent, received, bytes)
	if sent || received {
		m.recordSample(bytes)
	}
}

func (m *Manager) recordSample(bytes uint64) {
	m.windowMu.Lock()
	defer m.windowMu.Unlock()

	m.totalMessages++
	m.totalBytes += bytes
	now := time.Now()
	m.window = append(m.window, sample{at: now, total: m.totalMessages})

	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(m.window) && m.window[i].at.Before(cutoff) {
		i++
	}
	m.window = m.window[i:]
}

// MessagesPerSecond computes the rate from the oldest and newest samples in
// the sliding 60-second window (spec.md §4.6).
func (m *Manager) MessagesPerSecond() float64 {
	m.windowMu.Lock()
	defer m.windowMu.Unlock()

	if len(m.window) < 2 {
		return 0
	}
	oldest := m.window[0]
	newest := m.window[len(m.window)-1]
	elapsed := newest.at.Sub(oldest.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(newest.total-oldest.total) / elapsed
}

// SystemMetrics is the result of a system_metrics() query (spec.md §4.6).
type SystemMetrics struct {
	TotalClients           int       `json:"total_clients"`
	ActiveClients          int       `json:"active_clients"`
	TotalAgents            int       `json:"total_agents"`
	ActiveAgents           int       `json:"active_agents"`
	TotalMessagesProcessed uint64    `json:"total_messages_processed"`
	MessagesPerSecond      float64   `json:"messages_per_second"`
	BytesTransferred       uint64    `json:"bytes_transferred"`
	Timestamp              time.Time `json:"timestamp"`
}

// SystemMetrics computes the aggregate metrics query.
func (m *Manager) SystemMetrics() SystemMetrics {
	reg := m.Registry.SystemMetrics()
	return SystemMetrics{
		TotalClients:           reg.TotalClients,
		ActiveClients:          reg.ActiveClients,
		TotalAgents:            reg.TotalAgents,
		ActiveAgents:           reg.ActiveAgents,
		TotalMessagesProcessed: reg.TotalMessagesProcessed,
		MessagesPerSecond:      m.MessagesPerSecond(),
		BytesTransferred:       reg.BytesTransferred,
		Timestamp:              reg.Timestamp,
	}
}

// StartSweep launches the background goroutine that reaps stale Registry
// records and expired snapshots every interval, using clientTimeout as the
// Registry's reap threshold basis (records are removed after 3x timeout
// non-Connected, per spec.md §4.3).
func (m *Manager) StartSweep(interval, clientTimeout time.Duration) {
	go m.sweepLoop(interval, clientTimeout)
}

func (m *Manager) sweepLoop(interval, clientTimeout time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logger.State()
	for {
		select {
		case <-ticker.C:
			removed := m.Registry.ReapStale(clientTimeout)
			expired := m.expireSnapshots()
			if removed > 0 || expired > 0 {
				log.Info().Int("reaped_records", removed).Int("expired_snapshots", expired).Msg("sweep complete")
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) expireSnapshots() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, snap := range m.snapshots {
		if now.Sub(snap.savedAt) > m.snapshotTTL {
			delete(m.snapshots, id)
			removed++
		}
	}
	return removed
}

// Stop halts the sweep goroutine.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
