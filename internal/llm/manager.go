package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"memrelay/internal/config"
)

// Manager hands out one Client per API key. Keys are never stored; the
// pool is indexed by a short digest.
type Manager struct {
	base       config.LLM
	httpClient *http.Client

	mu      sync.Mutex
	clients map[string]*Client
}

// NewManager returns a pool whose clients share base except for the key.
func NewManager(base config.LLM, httpClient *http.Client) *Manager {
	base.APIKey = ""
	return &Manager{base: base, httpClient: httpClient, clients: map[string]*Client{}}
}

func keyID(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:16]
}

// Get returns the client for apiKey, creating it on first use.
func (m *Manager) Get(apiKey string) *Client {
	id := keyID(apiKey)
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[id]; ok {
		return c
	}
	cfg := m.base
	cfg.APIKey = apiKey
	c := New(cfg, m.httpClient)
	m.clients[id] = c
	logrus.WithField("key_id", id).Debug("llm client created")
	return c
}

// Remove drops the client for apiKey, if any.
func (m *Manager) Remove(apiKey string) {
	m.mu.Lock()
	delete(m.clients, keyID(apiKey))
	m.mu.Unlock()
}

// Len reports how many clients are pooled.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Close drops every client and releases idle connections.
func (m *Manager) Close() {
	m.mu.Lock()
	m.clients = map[string]*Client{}
	m.mu.Unlock()
	if m.httpClient != nil {
		m.httpClient.CloseIdleConnections()
	}
}
