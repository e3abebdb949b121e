// Package host loads out-of-process embedding plugins.
package host

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	"github.com/spetr/mcp-chunkgraph/pkg/plugin/shared"
)

// Manager manages external plugins found in one directory.
type Manager struct {
	pluginsDir string
	plugins    map[string]*LoadedPlugin
	mu         sync.RWMutex
	logger     hclog.Logger
}

// LoadedPlugin represents a running plugin process.
type LoadedPlugin struct {
	Name      string
	Path      string
	Client    *plugin.Client
	Embedding shared.EmbeddingProvider
}

// NewManager creates a new plugin manager.
func NewManager(pluginsDir string) *Manager {
	return &Manager{
		pluginsDir: pluginsDir,
		plugins:    make(map[string]*LoadedPlugin),
		logger: hclog.New(&hclog.LoggerOptions{
			Name:   "plugins",
			Level:  hclog.Warn,
			Output: os.Stderr,
		}),
	}
}

// Dir returns the plugins directory.
func (m *Manager) Dir() string {
	return m.pluginsDir
}

// DiscoverPlugins lists executable files in the plugins directory, sorted by name.
// A missing directory yields no plugins.
func (m *Manager) DiscoverPlugins() ([]string, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Mode()&0111 != 0 {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadEmbedding starts the named plugin, or returns it if already running.
func (m *Manager) LoadEmbedding(name string) (*LoadedPlugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.plugins[name]; ok {
		return p, nil
	}

	if filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid plugin name: %s", name)
	}
	pluginPath := filepath.Join(m.pluginsDir, name)
	if _, err := os.Stat(pluginPath); err != nil {
		return nil, fmt.Errorf("plugin not found: %s", name)
	}

	slog.Info("loading plugin", "name", name, "path", pluginPath)

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  shared.Handshake,
		Plugins:          shared.PluginMap,
		Cmd:              exec.Command(pluginPath),
		Logger:           m.logger,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(string(shared.PluginTypeEmbedding))
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}

	embedding, ok := raw.(shared.EmbeddingProvider)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin %s does not implement EmbeddingProvider", name)
	}

	loaded := &LoadedPlugin{
		Name:      name,
		Path:      pluginPath,
		Client:    client,
		Embedding: embedding,
	}
	m.plugins[name] = loaded
	slog.Info("plugin loaded", "name", name, "provider", embedding.Name())

	return loaded, nil
}

// Embedding loads the named plugin and wraps it as a provider.
// Closing the returned adapter unloads the plugin.
func (m *Manager) Embedding(name string) (*EmbeddingAdapter, error) {
	p, err := m.LoadEmbedding(name)
	if err != nil {
		return nil, err
	}
	return NewEmbeddingAdapter(p.Embedding, func() error { return m.unload(name, false) }), nil
}

// UnloadPlugin closes and stops a plugin.
func (m *Manager) UnloadPlugin(name string) error {
	return m.unload(name, true)
}

func (m *Manager) unload(name string, closeProvider bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plugins[name]
	if !ok {
		return nil
	}
	if closeProvider {
		p.Embedding.Close()
	}
	p.Client.Kill()
	delete(m.plugins, name)
	slog.Info("plugin unloaded", "name", name)
	return nil
}

// UnloadAll stops every running plugin.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, p := range m.plugins {
		p.Embedding.Close()
		p.Client.Kill()
		slog.Debug("plugin unloaded", "name", name)
	}
	m.plugins = make(map[string]*LoadedPlugin)
}

// ListLoaded returns the names of running plugins, sorted.
func (m *Manager) ListLoaded() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
