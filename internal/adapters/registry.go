// Registry maps configured provider tags to adapters.
//
// DESIGN: Thread-safe map of lower-cased tag → Adapter. Built-ins are
// registered at startup; resolution of an unknown tag fails with a
// ConfigurationError naming the tag and listing every known tag, so a typo
// dies at configuration time instead of deep inside a request.
package adapters

import (
	"sort"
	"strings"
	"sync"

	"github.com/omnillm/omnillm/llmerr"
)

// Built-in provider tags.
const (
	TagOpenAI    = "openai"
	TagAnthropic = "anthropic"
	TagGemini    = "gemini"
	TagOllama    = "ollama"
	TagBedrock   = "bedrock"
)

// Registry manages adapter registration and lookup. Tags are
// case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry with all built-in adapters registered.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}

	r.Register(NewOpenAIAdapter())
	r.Register(NewAnthropicAdapter())
	r.Register(NewGeminiAdapter())
	r.Register(NewOllamaAdapter())
	r.Register(NewBedrockAdapter())

	return r
}

// Register adds (or replaces) an adapter under its name.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(adapter.Name())] = adapter
}

// Resolve returns the adapter for tag. Unknown tags fail with a
// ConfigurationError listing the registered tags.
func (r *Registry) Resolve(tag string) (Adapter, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[strings.ToLower(tag)]
	r.mu.RUnlock()
	if !ok {
		return nil, &llmerr.ConfigurationError{Tag: tag, Known: r.Known()}
	}
	return adapter, nil
}

// ResolveStreamer returns the adapter for tag if it implements the streaming
// capability, or ErrUnsupportedOperation when the adapter declines it.
func (r *Registry) ResolveStreamer(tag string) (Streamer, error) {
	adapter, err := r.Resolve(tag)
	if err != nil {
		return nil, err
	}
	s, ok := adapter.(Streamer)
	if !ok {
		return nil, llmerr.ErrUnsupportedOperation
	}
	return s, nil
}

// Known returns the registered tags, sorted.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.adapters))
	for tag := range r.adapters {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
