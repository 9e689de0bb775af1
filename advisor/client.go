package advisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ErrUnavailable wraps any transport, status, or parse failure talking to the
// generative-text service. Callers degrade to a manual-review verdict; the
// deterministic policy layer is never blocked by this error.
var ErrUnavailable = errors.New("advisor: narrative service unavailable")

// Assessment is the structured output requested from the model. The verdict
// field is advisory text until the dispute engine validates it against the
// closed enum.
type Assessment struct {
	Verdict           string   `json:"verdict"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
	RecommendedAction string   `json:"recommended_action"`
	MissingEvidence   []string `json:"missing_evidence,omitempty"`
}

// Facts are the deterministic inputs passed to the model. The engine computes
// them itself; the model only narrates.
type Facts struct {
	TradeID        string
	Reason         string
	ShipmentStatus string
	DaysOverdue    int
	RecentMovement bool
}

// Client calls an OpenAI-compatible chat completions endpoint with a bounded
// timeout.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You are a trade dispute analyst for a B2B marketplace with escrow payments.
Given the computed shipment facts, explain the situation for both parties.
Respond with strict JSON only, no prose outside the JSON object, with keys:
"verdict" (one of "REFUND_BUYER", "WAIT_FOR_SELLER", "MANUAL_REVIEW"),
"confidence" (0.0-1.0), "reasoning" (string), "recommended_action" (string),
"missing_evidence" (optional array of strings).`

// Assess requests a narrative explanation for the computed dispute facts.
func (c *Client) Assess(ctx context.Context, facts Facts) (Assessment, error) {
	user := fmt.Sprintf(
		"Trade %s is disputed. Claim reason: %q. Shipment status: %s. Days overdue past the estimated delivery date: %d. Carrier movement in the last 7 days: %t.",
		facts.TradeID, facts.Reason, facts.ShipmentStatus, facts.DaysOverdue, facts.RecentMovement,
	)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return Assessment{}, fmt.Errorf("advisor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Assessment{}, fmt.Errorf("advisor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Assessment{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, raw)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return Assessment{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(chat.Choices) == 0 {
		return Assessment{}, fmt.Errorf("%w: empty choices", ErrUnavailable)
	}

	assessment, err := ParseAssessment(chat.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("unparseable narrative output", zap.Error(err))
		return Assessment{}, err
	}
	return assessment, nil
}

// ParseAssessment parses the model's content into an Assessment, stripping
// any non-JSON wrapping (markdown fences, leading prose) first. Free-text
// output is never trusted beyond the braces.
func ParseAssessment(content string) (Assessment, error) {
	payload := ExtractJSON(content)
	if payload == "" {
		return Assessment{}, fmt.Errorf("%w: no JSON object in output", ErrUnavailable)
	}
	var a Assessment
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return Assessment{}, fmt.Errorf("%w: parse assessment: %v", ErrUnavailable, err)
	}
	a.Verdict = strings.ToUpper(strings.TrimSpace(a.Verdict))
	return a, nil
}

// ExtractJSON returns the outermost JSON object embedded in s, or "".
func ExtractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
