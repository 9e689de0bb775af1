package advisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func completionResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestAssess(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(completionResponse(
			`{"verdict":"WAIT_FOR_SELLER","confidence":0.72,"reasoning":"The carrier moved two days ago.","recommended_action":"wait"}`,
		))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "gpt-4o-mini", 2*time.Second, nil)
	got, err := c.Assess(context.Background(), Facts{
		TradeID:        "trade-1",
		Reason:         "late delivery",
		ShipmentStatus: "in_transit",
		DaysOverdue:    3,
		RecentMovement: true,
	})
	require.NoError(t, err)
	require.Equal(t, "WAIT_FOR_SELLER", got.Verdict)
	require.Equal(t, 0.72, got.Confidence)
	require.Equal(t, "wait", got.RecommendedAction)

	require.Equal(t, "Bearer test-key", gotAuth)
	require.Equal(t, "gpt-4o-mini", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	require.Contains(t, gotReq.Messages[1].Content, "trade-1")
	require.Contains(t, gotReq.Messages[1].Content, "late delivery")
}

func TestAssess_FencedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse(
			"Here is my analysis:\n```json\n{\"verdict\":\"refund_buyer\",\"confidence\":0.9,\"reasoning\":\"Abandoned.\"}\n```\nHope that helps!",
		))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "gpt-4o-mini", 2*time.Second, nil)
	got, err := c.Assess(context.Background(), Facts{TradeID: "trade-1"})
	require.NoError(t, err)
	require.Equal(t, "REFUND_BUYER", got.Verdict)
	require.Equal(t, 0.9, got.Confidence)
}

func TestAssess_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "gpt-4o-mini", 2*time.Second, nil)
	_, err := c.Assess(context.Background(), Facts{TradeID: "trade-1"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestAssess_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "gpt-4o-mini", 2*time.Second, nil)
	_, err := c.Assess(context.Background(), Facts{TradeID: "trade-1"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestAssess_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, "test-key", "gpt-4o-mini", time.Second, nil)
	_, err := c.Assess(context.Background(), Facts{TradeID: "trade-1"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestParseAssessment(t *testing.T) {
	got, err := ParseAssessment(`The model says: {"verdict":" manual_review ","confidence":0.5,"reasoning":"Unclear.","missing_evidence":["photos"]}`)
	require.NoError(t, err)
	require.Equal(t, "MANUAL_REVIEW", got.Verdict)
	require.Equal(t, []string{"photos"}, got.MissingEvidence)

	_, err = ParseAssessment("no json here at all")
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = ParseAssessment("{not valid json}")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{`prose before {"a":{"b":2}} prose after`, `{"a":{"b":2}}`},
		{"no braces", ""},
		{"}{", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ExtractJSON(tc.in), "input %q", tc.in)
	}
}
