package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoProvider is returned when no configured provider can serve a model.
var ErrNoProvider = errors.New("no LLM provider configured")

// Spec describes one provider the router knows how to reach.
type Spec struct {
	Name        string
	DisplayName string
	// Keywords matched against the lowercased model name.
	Keywords []string
	// Gateway providers route any model; they are tried first.
	Gateway bool
	// Local providers have no default base and need apiBase in config.
	Local          bool
	KeyPrefix      string
	BaseKeyword    string
	DefaultAPIBase string
	// StripVendor drops every "vendor/" segment before sending the model.
	StripVendor bool
	// ModelOverrides force a temperature for model names containing the key.
	ModelOverrides map[string]float64
}

// Label returns the name shown in status output.
func (s Spec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Name
}

// Specs lists the known providers. Order controls match priority.
var Specs = []Spec{
	{Name: "openrouter", DisplayName: "OpenRouter", Keywords: []string{"openrouter"}, Gateway: true,
		KeyPrefix: "sk-or-", BaseKeyword: "openrouter", DefaultAPIBase: "https://openrouter.ai/api/v1"},
	{Name: "aihubmix", DisplayName: "AiHubMix", Keywords: []string{"aihubmix"}, Gateway: true,
		BaseKeyword: "aihubmix", DefaultAPIBase: "https://aihubmix.com/v1", StripVendor: true},
	{Name: "anthropic", DisplayName: "Anthropic", Keywords: []string{"anthropic", "claude"},
		DefaultAPIBase: "https://api.anthropic.com/v1"},
	{Name: "openai", DisplayName: "OpenAI", Keywords: []string{"openai", "gpt"},
		DefaultAPIBase: "https://api.openai.com/v1"},
	{Name: "deepseek", DisplayName: "DeepSeek", Keywords: []string{"deepseek"},
		DefaultAPIBase: "https://api.deepseek.com/v1"},
	{Name: "gemini", DisplayName: "Gemini", Keywords: []string{"gemini"},
		DefaultAPIBase: "https://generativelanguage.googleapis.com/v1beta/openai"},
	{Name: "zhipu", DisplayName: "Zhipu AI", Keywords: []string{"zhipu", "glm", "zai"},
		DefaultAPIBase: "https://open.bigmodel.cn/api/paas/v4"},
	{Name: "dashscope", DisplayName: "DashScope", Keywords: []string{"qwen", "dashscope"},
		DefaultAPIBase: "https://dashscope.aliyuncs.com/compatible-mode/v1"},
	{Name: "moonshot", DisplayName: "Moonshot", Keywords: []string{"moonshot", "kimi"},
		DefaultAPIBase: "https://api.moonshot.ai/v1", ModelOverrides: map[string]float64{"kimi-k2.5": 1.0}},
	{Name: "vllm", DisplayName: "vLLM/Local", Keywords: []string{"vllm"}, Local: true},
	{Name: "groq", DisplayName: "Groq", Keywords: []string{"groq"},
		DefaultAPIBase: "https://api.groq.com/openai/v1"},
}

// SpecByName returns the spec with the given config name.
func SpecByName(name string) (Spec, bool) {
	for _, s := range Specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Credentials is the per-provider configuration block.
type Credentials struct {
	APIKey       string
	APIBase      string
	ExtraHeaders map[string]string
}

// KeyLookup returns a stored API key for a provider name, or "".
type KeyLookup func(provider string) string

// Router implements LLMProvider by resolving an Endpoint for every call
// from the requested model name.
type Router struct {
	creds        map[string]Credentials
	defaultModel string
	lookup       KeyLookup
	client       *OpenAIClient
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithKeyLookup sets the fallback used when a provider has no apiKey in
// config, typically the OS keyring.
func WithKeyLookup(fn KeyLookup) RouterOption {
	return func(r *Router) { r.lookup = fn }
}

// WithClient replaces the HTTP client.
func WithClient(c *OpenAIClient) RouterOption {
	return func(r *Router) { r.client = c }
}

// NewRouter creates a router over the configured provider credentials.
func NewRouter(creds map[string]Credentials, defaultModel string, opts ...RouterOption) *Router {
	r := &Router{
		creds:        creds,
		defaultModel: defaultModel,
		client:       NewOpenAIClient(0),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// DefaultModel returns the configured default model.
func (r *Router) DefaultModel() string { return r.defaultModel }

// Chat resolves the endpoint for req.Model and sends the request there.
func (r *Router) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = r.defaultModel
	}
	ep, err := r.Resolve(model)
	if err != nil {
		return nil, err
	}
	return r.client.Complete(ctx, ep, req)
}

// credentials returns the effective credentials for a provider with the
// key lookup applied, and whether the provider is usable.
func (r *Router) credentials(s Spec) (Credentials, bool) {
	c := r.creds[s.Name]
	if c.APIKey == "" && r.lookup != nil {
		c.APIKey = r.lookup(s.Name)
	}
	if s.Local {
		return c, c.APIBase != ""
	}
	return c, c.APIKey != ""
}

// Configured reports whether the named provider has usable credentials.
func (r *Router) Configured(name string) bool {
	s, ok := SpecByName(name)
	if !ok {
		return false
	}
	_, ok = r.credentials(s)
	return ok
}

// Resolve picks the provider for model. A provider whose keywords match the
// model wins; otherwise the first configured provider is used. Credentials
// that point at a gateway (by key prefix or base URL) are treated as that
// gateway regardless of which config block holds them.
func (r *Router) Resolve(model string) (Endpoint, error) {
	lower := strings.ToLower(model)

	var (
		chosen Spec
		creds  Credentials
		found  bool
	)
	for _, s := range Specs {
		c, ok := r.credentials(s)
		if ok && matchesKeyword(lower, s.Keywords) {
			chosen, creds, found = s, c, true
			break
		}
	}
	if !found {
		for _, s := range Specs {
			if c, ok := r.credentials(s); ok {
				chosen, creds, found = s, c, true
				break
			}
		}
	}
	if !found {
		return Endpoint{}, fmt.Errorf("%w for model %q: set providers.<name>.apiKey in config or run: clawlet auth set <provider>", ErrNoProvider, model)
	}
	if gw, ok := detectGateway(creds); ok {
		chosen = gw
	}

	base := creds.APIBase
	if base == "" {
		base = chosen.DefaultAPIBase
	}
	ep := Endpoint{
		Provider:     chosen.Name,
		APIKey:       creds.APIKey,
		APIBase:      base,
		ExtraHeaders: creds.ExtraHeaders,
		Model:        remoteModel(chosen, model),
	}
	for pattern, temp := range chosen.ModelOverrides {
		if strings.Contains(lower, pattern) {
			t := temp
			ep.Temperature = &t
			break
		}
	}
	return ep, nil
}

func matchesKeyword(model string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(model, kw) {
			return true
		}
	}
	return false
}

func detectGateway(c Credentials) (Spec, bool) {
	for _, s := range Specs {
		if !s.Gateway {
			continue
		}
		if s.KeyPrefix != "" && strings.HasPrefix(c.APIKey, s.KeyPrefix) {
			return s, true
		}
		if s.BaseKeyword != "" && strings.Contains(c.APIBase, s.BaseKeyword) {
			return s, true
		}
	}
	return Spec{}, false
}

// remoteModel maps a configured model name to the name the provider API
// expects. Gateways keep the vendor path ("anthropic/claude-...") unless
// they strip it; direct providers drop their own prefix.
func remoteModel(s Spec, model string) string {
	model = strings.TrimPrefix(model, s.Name+"/")
	if s.StripVendor {
		if i := strings.LastIndex(model, "/"); i >= 0 {
			model = model[i+1:]
		}
		return model
	}
	if s.Gateway {
		return model
	}
	if vendor, rest, ok := strings.Cut(model, "/"); ok {
		if vendor == "hosted_vllm" || matchesKeyword(strings.ToLower(vendor), s.Keywords) {
			return rest
		}
	}
	return model
}
