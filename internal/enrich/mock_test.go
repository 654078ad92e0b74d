package enrich

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lumenlead/prospector/pkg/llm"
	"github.com/lumenlead/prospector/pkg/profile"
	"github.com/lumenlead/prospector/pkg/techstack"
	"github.com/lumenlead/prospector/pkg/webcrawl"
)

// --- profile mock ---

type mockProfileClient struct {
	mock.Mock
}

func (m *mockProfileClient) Lookup(ctx context.Context, profileURL string) (*profile.Profile, error) {
	args := m.Called(ctx, profileURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*profile.Profile), args.Error(1)
}

// --- webcrawl mock ---

type mockCrawlClient struct {
	mock.Mock
}

func (m *mockCrawlClient) Scrape(ctx context.Context, req webcrawl.ScrapeRequest) (*webcrawl.PageContent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*webcrawl.PageContent), args.Error(1)
}

func (m *mockCrawlClient) ScrapeSite(ctx context.Context, siteURL string) (*webcrawl.PageContent, error) {
	args := m.Called(ctx, siteURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*webcrawl.PageContent), args.Error(1)
}

// --- techstack mock ---

type mockDetectClient struct {
	mock.Mock
}

func (m *mockDetectClient) Detect(ctx context.Context, domain string) ([]techstack.Technology, error) {
	args := m.Called(ctx, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]techstack.Technology), args.Error(1)
}

// --- llm mock ---

type mockLLMClient struct {
	mock.Mock
	provider     string
	defaultModel string
}

func newMockLLM(provider, defaultModel string) *mockLLMClient {
	return &mockLLMClient{provider: provider, defaultModel: defaultModel}
}

func (m *mockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Completion), args.Error(1)
}

func (m *mockLLMClient) Provider() string     { return m.provider }
func (m *mockLLMClient) DefaultModel() string { return m.defaultModel }
