package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

const maxPlanItems = 8

// ChatGPTPlanner implements ports.Planner backed by OpenAI-compatible chat completion APIs.
type ChatGPTPlanner struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Planner = (*ChatGPTPlanner)(nil)

// NewChatGPTPlanner builds a planner from configuration.
func NewChatGPTPlanner(cfg config.ChatGPTConfig) *ChatGPTPlanner {
	return &ChatGPTPlanner{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type planPayload struct {
	Angles          []string `json:"angles"`
	Queries         []string `json:"queries"`
	ContestedClaims []string `json:"contested_claims"`
}

// Plan asks the model for topic angles, search queries and contested claims.
func (c *ChatGPTPlanner) Plan(ctx context.Context, patchID, topic string) (domain.Plan, error) {
	if c == nil {
		return domain.Plan{}, fmt.Errorf("chatgpt planner is nil")
	}
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Plan{}, fmt.Errorf("chatgpt planner misconfigured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return domain.Plan{}, fmt.Errorf("plan %s: empty topic", patchID)
	}

	body, err := json.Marshal(map[string]any{
		"model":           c.model,
		"response_format": map[string]string{"type": "json_object"},
		"messages": []chatMessage{
			{Role: "system", Content: safePrompt(c.systemPrompt)},
			{Role: "user", Content: userPrompt(topic)},
		},
	})
	if err != nil {
		return domain.Plan{}, fmt.Errorf("marshal chatgpt payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Plan{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("request plan: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Plan{}, fmt.Errorf("chatgpt error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Plan{}, fmt.Errorf("decode chatgpt response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return domain.Plan{}, fmt.Errorf("chatgpt returned no choices")
	}

	plan, err := parsePlan(decoded.Choices[0].Message.Content)
	if err != nil {
		return domain.Plan{}, err
	}
	plan.Topic = topic
	return plan, nil
}

// parsePlan accepts the model's JSON, tolerating a fenced code block around it.
func parsePlan(content string) (domain.Plan, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var p planPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &p); err != nil {
		return domain.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return domain.Plan{
		Angles:          clean(p.Angles),
		Queries:         clean(p.Queries),
		ContestedClaims: clean(p.ContestedClaims),
	}, nil
}

func clean(values []string) []string {
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
		if len(out) == maxPlanItems {
			break
		}
	}
	return out
}

func userPrompt(topic string) string {
	return fmt.Sprintf(`Topic: %s
Return a JSON object with three string arrays:
"angles": distinct facets the coverage must include,
"queries": web search queries that find recent in-depth articles, one per angle where possible,
"contested_claims": claims about the topic that credible sources dispute.`, topic)
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You plan research coverage for a topic. Reply with JSON only."
	}
	return prompt
}
