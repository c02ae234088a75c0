package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/mailreport/internal/budget"
	"github.com/daviddao/mailreport/internal/deadline"
	"github.com/daviddao/mailreport/internal/tier"
)

// fakeOpenAI serves the two endpoints the client uses.
func fakeOpenAI(t *testing.T, status int, chatReply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
			return
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			reply, _ := json.Marshal(chatReply)
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":0,"model":"gpt-4o",` +
				`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` + string(reply) + `}}]}`))
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			var req struct {
				Input []string `json:"input"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			// Answer in reverse order to exercise index handling.
			var data []string
			for i := len(req.Input) - 1; i >= 0; i-- {
				data = append(data, `{"object":"embedding","index":`+itoa(i)+`,"embedding":[`+itoa(i)+`,0.5]}`)
			}
			_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","usage":{"prompt_tokens":1,"total_tokens":1},"data":[` +
				strings.Join(data, ",") + `]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func newTestClient(srv *httptest.Server) *OpenAI {
	return NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/", Model: "gpt-4o"})
}

func TestOpenAI_Summarize(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusOK, "```json\n{\"summary\":\"Budget approved.\",\"labels\":[\"finance\"]}\n```")
	res, err := newTestClient(srv).Summarize(context.Background(), "Subject: budget")
	require.NoError(t, err)
	assert.Equal(t, "Budget approved.", res.Summary)
	assert.Equal(t, []string{"finance"}, res.Labels)
}

func TestOpenAI_SummarizeKeepsProse(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusOK, "The team approved the budget.")
	res, err := newTestClient(srv).Summarize(context.Background(), "Subject: budget")
	require.NoError(t, err)
	assert.Equal(t, "The team approved the budget.", res.Summary)
	assert.Empty(t, res.Labels)
}

func TestOpenAI_GenerateReport(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusOK, `{"report":"# Weekly\n\nAll quiet.","highlights":["nothing urgent"]}`)
	rep, err := newTestClient(srv).GenerateReport(context.Background(), Material{})
	require.NoError(t, err)
	assert.Equal(t, "# Weekly\n\nAll quiet.", rep.Text)
	assert.Equal(t, []string{"nothing urgent"}, rep.Highlights)
}

func TestOpenAI_EmbedKeepsInputOrder(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusOK, "")
	vecs, err := newTestClient(srv).Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Equal(t, []float32{float32(i), 0.5}, v)
	}
}

func TestOpenAI_UnauthorizedIsDistinct(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusUnauthorized, "")
	c := newTestClient(srv)

	_, err := c.Summarize(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, deadline.ErrTimeout)

	_, err = c.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestOpenAI_ServerErrorIsGeneric(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusInternalServerError, "")
	_, err := newTestClient(srv).Summarize(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, deadline.ErrTimeout)
}

func TestFormatMaterial(t *testing.T) {
	day := time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)
	m := Material{
		Account: "me@example.com",
		Since:   day.AddDate(0, 0, -7),
		Until:   day,
		Plan:    budget.Plan{TotalEmails: 3, TotalEmailsCovered: 2},
		Detailed: []tier.Detailed{{
			Header: tier.Header{ID: "1", Subject: "Launch", From: "ana@example.com", Date: day, Labels: []string{"work"}},
			Body:   "We ship Friday.",
		}},
		Summaries: []tier.SummaryOnly{{
			Header: tier.Header{ID: "2", Subject: "Lunch", From: "bo@example.com", Date: day, Summary: "Lunch moved"},
		}},
	}

	out := FormatMaterial(m)
	assert.Contains(t, out, "Account: me@example.com")
	assert.Contains(t, out, "Period: 2025-01-27 to 2025-02-03")
	assert.Contains(t, out, "3 total, 1 detailed, 1 summarized, 1 omitted")
	assert.Contains(t, out, "### Launch")
	assert.Contains(t, out, "We ship Friday.")
	assert.Contains(t, out, "- 2025-02-03 | bo@example.com | Lunch | Lunch moved")
	assert.Less(t, strings.Index(out, "Launch"), strings.Index(out, "Lunch"))
}
