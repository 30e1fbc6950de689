package llm

import (
	"fmt"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/infrastructure/llm/ollamachat"
	"browser-bridge/internal/infrastructure/llm/openaichat"
	"browser-bridge/internal/infrastructure/llm/prompts"
)

// Factory resolves configured backends by name. Selection is pure
// configuration dispatch; every backend behaves identically from the
// loop's point of view.
type Factory struct {
	providers   map[string]output.ProviderPort
	defaultName string
}

var _ output.ProviderFactory = (*Factory)(nil)

type FactoryConfig struct {
	Default   string
	Providers map[string]output.ProviderConfig
	Retry     RetryConfig
	Builder   prompts.BuilderConfig
	Logger    output.LoggerPort
}

func NewFactory(cfg FactoryConfig) (*Factory, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no model providers configured")
	}
	builder := prompts.NewBuilder(cfg.Builder)

	providers := make(map[string]output.ProviderPort, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		var (
			adapter output.ProviderPort
			err     error
		)
		switch pc.Kind {
		case "openai":
			adapter = openaichat.New(openaichat.Config{
				APIKey:  pc.APIKey,
				Model:   pc.Model,
				BaseURL: pc.BaseURL,
				Timeout: pc.Timeout,
				Builder: builder,
				Logger:  cfg.Logger,
			})
		case "ollama":
			adapter, err = ollamachat.New(ollamachat.Config{
				ServerURL: pc.BaseURL,
				Model:     pc.Model,
				Timeout:   pc.Timeout,
				Builder:   builder,
				Logger:    cfg.Logger,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", name, pc.Kind)
		}
		providers[name] = NewRetryingProvider(adapter, cfg.Retry, cfg.Logger)
	}

	defaultName := cfg.Default
	if defaultName == "" {
		for name := range providers {
			defaultName = name
			break
		}
	}
	if _, ok := providers[defaultName]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", defaultName)
	}

	return &Factory{providers: providers, defaultName: defaultName}, nil
}

func (f *Factory) Provider(name string) (output.ProviderPort, error) {
	if name == "" {
		name = f.defaultName
	}
	provider, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return provider, nil
}

func (f *Factory) DefaultName() string { return f.defaultName }
