package enrich

import (
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/pkg/llm"
)

// Providers maps provider names to completion clients.
type Providers struct {
	clients     map[string]llm.Client
	defaultName string
	knownModels map[string]string // model id -> provider name
}

// NewProviders registers the available completion backends. defaultName
// selects the provider used when a request names none.
func NewProviders(defaultName string, clients ...llm.Client) *Providers {
	p := &Providers{
		clients:     make(map[string]llm.Client, len(clients)),
		defaultName: defaultName,
		knownModels: make(map[string]string),
	}
	for _, c := range clients {
		p.clients[c.Provider()] = c
		p.knownModels[c.DefaultModel()] = c.Provider()
	}
	return p
}

// Select resolves the client and model for an enrichment request. Unknown
// providers or models fall back to the default provider's default model with
// a warning, so a bad request degrades instead of failing the job.
func (p *Providers) Select(opts model.EnrichOptions) (llm.Client, string) {
	name := opts.Provider
	if name == "" && opts.Model != "" {
		// Infer the provider from a known model id.
		if owner, ok := p.knownModels[opts.Model]; ok {
			name = owner
		}
	}
	if name == "" {
		name = p.defaultName
	}

	client, ok := p.clients[name]
	if !ok {
		zap.L().Warn("unknown completion provider, using default",
			zap.String("requested", name),
			zap.String("default", p.defaultName),
		)
		client = p.clients[p.defaultName]
		return client, client.DefaultModel()
	}

	modelID := opts.Model
	if modelID == "" {
		modelID = client.DefaultModel()
	}
	return client, modelID
}

// Default returns the default provider's client.
func (p *Providers) Default() llm.Client {
	return p.clients[p.defaultName]
}
