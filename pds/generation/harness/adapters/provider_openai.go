package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	ports "github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness/ports"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint. Clients are
// cached per base URL and API key since personas may each bring their own.
type OpenAIProvider struct {
	httpClient *http.Client

	mu      sync.Mutex
	clients map[clientKey]openai.Client
}

type clientKey struct {
	baseURL string
	apiKey  string
}

// NewOpenAIProvider reports 4xx request errors other than 408 and 429 as
// ports.ErrInvalidRequest; every other failure is an *UpstreamError. A nil httpClient
// uses http.DefaultClient.
func NewOpenAIProvider(httpClient *http.Client) *OpenAIProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAIProvider{
		httpClient: httpClient,
		clients:    make(map[clientKey]openai.Client),
	}
}

// ChatComplete sends the system and user turns and returns the first choice's text.
func (p *OpenAIProvider) ChatComplete(ctx context.Context, req ports.ChatRequest) (string, error) {
	client := p.client(req.Credentials.BaseURL, req.Credentials.APIKey)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Credentials.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	})
	if err != nil {
		return "", p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ports.UpstreamError{Err: errors.New("response has no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) client(baseURL, apiKey string) openai.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := clientKey{baseURL: baseURL, apiKey: apiKey}
	if c, ok := p.clients[key]; ok {
		return c
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(p.httpClient),
		// retries belong to the completion client's policy
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(opts...)
	p.clients[key] = c
	return c
}

func (p *OpenAIProvider) classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
			return fmt.Errorf("%w: status %d: %v", ports.ErrInvalidRequest, status, err)
		}
		return &ports.UpstreamError{StatusCode: status, Err: err}
	}
	return &ports.UpstreamError{Err: err}
}

var _ ports.Provider = (*OpenAIProvider)(nil)
