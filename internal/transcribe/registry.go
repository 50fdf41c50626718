package transcribe

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/snarg/stt-bench/internal/config"
)

// ErrUnknownProvider is returned by Registry.Get for names that are not
// registered.
var ErrUnknownProvider = errors.New("unknown provider")

// Registry maps provider names to configured providers.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry from the given providers. Later providers
// with a duplicate name replace earlier ones.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// RegistryFromConfig builds a registry with every provider that has
// credentials. If cfg.Enabled is set, only the listed providers are kept.
func RegistryFromConfig(cfg config.ProviderConfig, timeout time.Duration) *Registry {
	var all []Provider
	if cfg.OpenAIAPIKey != "" {
		all = append(all, NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, timeout))
	}
	if cfg.WhisperURL != "" {
		all = append(all, NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, timeout))
	}
	if cfg.DeepInfraAPIKey != "" {
		all = append(all, NewDeepInfraClient(cfg.DeepInfraAPIKey, cfg.DeepInfraModel, timeout))
	}
	if cfg.ElevenLabsAPIKey != "" {
		all = append(all, NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModel, cfg.ElevenLabsKeyterms, timeout))
	}
	if cfg.DeepgramAPIKey != "" {
		all = append(all, NewDeepgramClient(cfg.DeepgramAPIKey, cfg.DeepgramModel, timeout))
	}
	if cfg.GoogleAPIKey != "" {
		all = append(all, NewGoogleClient(cfg.GoogleAPIKey, cfg.GoogleModel, timeout))
	}
	if cfg.SonioxAPIKey != "" {
		all = append(all, NewSonioxClient(cfg.SonioxAPIKey, cfg.SonioxModel, timeout))
	}
	if cfg.SpeechmaticsAPIKey != "" {
		all = append(all, NewSpeechmaticsClient(cfg.SpeechmaticsAPIKey, cfg.SpeechmaticsOperatingPoint, timeout))
	}
	if cfg.SarvamAPIKey != "" {
		all = append(all, NewSarvamClient(cfg.SarvamAPIKey, cfg.SarvamModel, timeout))
	}

	enabled := cfg.EnabledSet()
	var kept []Provider
	for _, p := range all {
		if enabled == nil || enabled[p.Name()] {
			kept = append(kept, p)
		}
	}
	return NewRegistry(kept...)
}

// Get returns the named provider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the providers for names in sorted order, or all providers
// when names is empty.
func (r *Registry) Select(names []string) ([]Provider, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	seen := make(map[string]bool, len(names))
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// Len returns the number of registered providers.
func (r *Registry) Len() int { return len(r.providers) }
