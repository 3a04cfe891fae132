package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods for a name that
// has no factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Provider kinds accepted by [Registry.Names].
const (
	KindSTT = "stt"
	KindLLM = "llm"
	KindTTS = "tts"
)

// Factory builds one provider from its configuration entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is the name table of one provider kind. The Registry lock guards
// it.
type factories[P any] struct {
	kind  string
	byKey map[string]Factory[P]
}

func newFactories[P any](kind string) factories[P] {
	return factories[P]{kind: kind, byKey: make(map[string]Factory[P])}
}

func (f factories[P]) lookup(entry ProviderEntry) (Factory[P], error) {
	fn, ok := f.byKey[entry.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return fn, nil
}

// Registry maps provider names from the configuration to constructors, one
// table per stage. Registering a name twice replaces the earlier factory.
// It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	stt factories[stt.Provider]
	llm factories[llm.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt: newFactories[stt.Provider](KindSTT),
		llm: newFactories[llm.Provider](KindLLM),
		tts: newFactories[tts.Provider](KindTTS),
	}
}

func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	r.stt.byKey[name] = f
	r.mu.Unlock()
}

func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	r.llm.byKey[name] = f
	r.mu.Unlock()
}

func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	r.tts.byKey[name] = f
	r.mu.Unlock()
}

// CreateSTT runs the factory registered under entry.Name. The factory is
// called without holding the registry lock.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	fn, err := r.stt.lookup(entry)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(entry)
}

// CreateLLM is [Registry.CreateSTT] for the generation stage.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	fn, err := r.llm.lookup(entry)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(entry)
}

// CreateTTS is [Registry.CreateSTT] for the synthesis stage.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	fn, err := r.tts.lookup(entry)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return fn(entry)
}

// Names returns the sorted names registered for kind, or nil for an unknown
// kind.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindSTT:
		return slices.Sorted(maps.Keys(r.stt.byKey))
	case KindLLM:
		return slices.Sorted(maps.Keys(r.llm.byKey))
	case KindTTS:
		return slices.Sorted(maps.Keys(r.tts.byKey))
	}
	return nil
}
