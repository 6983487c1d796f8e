package enrichment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	emaildomain "kyra-backend/internal/email/domain"
	taskdomain "kyra-backend/internal/task/domain"
	"kyra-backend/pkg/ai"
)

type fakeProvider struct {
	generate func(prompt string, format ai.ResponseFormat) (string, error)
	embed    func(text string, dims int) ([]float32, error)
	prompts  []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(_ context.Context, prompt string, format ai.ResponseFormat) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.generate(prompt, format)
}

func (f *fakeProvider) Embed(_ context.Context, text string, dims int) ([]float32, error) {
	return f.embed(text, dims)
}

func reply(s string) func(string, ai.ResponseFormat) (string, error) {
	return func(string, ai.ResponseFormat) (string, error) { return s, nil }
}

func newTestEngine(p *fakeProvider) *Engine {
	e := NewEngine(p, Rules{
		VIPDomains:       []string{"@srmist.edu.in"},
		SpamKeywords:     []string{"Zomato"},
		PriorityKeywords: []string{"Vertex"},
	}, nil, nil)
	e.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestClassifyBatch(t *testing.T) {
	docs := []*emaildomain.Document{
		{ProviderID: "m1", Sender: "dean@srmist.edu.in", Subject: "Exam schedule", RawSnippet: strings.Repeat("x", 300)},
		{ProviderID: "m2", Sender: "deals@zomato.com", Subject: "50% Offer"},
	}

	t.Run("bands derive from score", func(t *testing.T) {
		var format ai.ResponseFormat
		p := &fakeProvider{generate: func(_ string, f ai.ResponseFormat) (string, error) {
			format = f
			return "```json\n" + `{
				"m1": {"score": 90, "category": "Important", "explanation": "Exam", "confidence": 0.9},
				"m2": {"score": 130, "category": "Noise", "explanation": "promo", "confidence": 1.7},
				"unknown": {"score": 50}
			}` + "\n```", nil
		}}
		got := newTestEngine(p).ClassifyBatch(context.Background(), docs)

		assert.Equal(t, ai.FormatJSON, format)
		require.Len(t, got, 2)
		assert.Equal(t, Parsed, got["m1"].Kind)
		assert.Equal(t, 90, got["m1"].Score)
		assert.Equal(t, emaildomain.CategoryCritical, got["m1"].Category)
		assert.Equal(t, 100, got["m2"].Score)
		assert.Equal(t, 1.0, got["m2"].Confidence)
	})

	t.Run("prompt carries rules and truncated snippet", func(t *testing.T) {
		p := &fakeProvider{generate: reply("{}")}
		newTestEngine(p).ClassifyBatch(context.Background(), docs)

		require.Len(t, p.prompts, 1)
		prompt := p.prompts[0]
		assert.Contains(t, prompt, "VIP Domains: @srmist.edu.in")
		assert.Contains(t, prompt, `"Vertex" is the user's project name`)
		assert.Contains(t, prompt, "ID: m1\nFrom: dean@srmist.edu.in\nSubject: Exam schedule\nSnippet: "+strings.Repeat("x", 200)+"\n__\n")
		assert.NotContains(t, prompt, strings.Repeat("x", 201))
	})

	t.Run("malformed json is empty", func(t *testing.T) {
		p := &fakeProvider{generate: reply("not json at all")}
		assert.Empty(t, newTestEngine(p).ClassifyBatch(context.Background(), docs))
	})

	t.Run("provider error is empty", func(t *testing.T) {
		p := &fakeProvider{generate: func(string, ai.ResponseFormat) (string, error) { return "", errors.New("quota") }}
		assert.Empty(t, newTestEngine(p).ClassifyBatch(context.Background(), docs))
	})

	t.Run("empty batch makes no call", func(t *testing.T) {
		p := &fakeProvider{generate: reply("{}")}
		assert.Empty(t, newTestEngine(p).ClassifyBatch(context.Background(), nil))
		assert.Empty(t, p.prompts)
	})
}

func TestDetectTask(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     TaskDetection
	}{
		{
			name:     "object",
			response: `{"is_task": true, "description": "Submit lab record", "type": "deadline", "due_date": "2025-03-05T17:00:00", "priority": "high"}`,
			want: TaskDetection{
				Kind: Parsed, IsTask: true, Description: "Submit lab record",
				Type: taskdomain.TaskTypeDeadline, Priority: taskdomain.PriorityHigh,
				DueDate: ptrTime(time.Date(2025, 3, 5, 17, 0, 0, 0, time.UTC)),
			},
		},
		{
			name:     "list takes first element",
			response: `[{"is_task": true, "description": "Sync", "type": "meeting", "priority": "low"}, {"is_task": false}]`,
			want:     TaskDetection{Kind: Parsed, IsTask: true, Description: "Sync", Type: taskdomain.TaskTypeMeeting, Priority: taskdomain.PriorityLow},
		},
		{
			name:     "unknown type and priority fall back",
			response: `{"is_task": true, "description": "Review", "type": "chore", "due_date": "soon", "priority": "urgent"}`,
			want:     TaskDetection{Kind: Parsed, IsTask: true, Description: "Review", Type: taskdomain.TaskTypeTask, Priority: taskdomain.PriorityMedium},
		},
		{
			name:     "empty list",
			response: `[]`,
			want:     TaskDetection{Kind: Parsed},
		},
		{
			name:     "garbage",
			response: `sorry`,
			want:     TaskDetection{Kind: Unparseable},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{generate: reply(tt.response)}
			got := newTestEngine(p).DetectTask(context.Background(), TaskInput("Lab", "Submit by Friday"))
			assert.Equal(t, tt.want, got)
			assert.Contains(t, p.prompts[0], "assume current year 2025")
			assert.Contains(t, p.prompts[0], "Subject: Lab\nBody: Submit by Friday")
		})
	}
}

func TestTaskInputTruncatesBody(t *testing.T) {
	in := TaskInput("S", strings.Repeat("é", 2500))
	assert.Equal(t, "Subject: S\nBody: "+strings.Repeat("é", 2000), in)
}

func TestThreadText(t *testing.T) {
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	got := ThreadText([]emaildomain.Email{
		{Sender: "a@x.com", ReceivedAt: at, BodyPlain: "first"},
		{Sender: "b@x.com", ReceivedAt: at.Add(time.Hour), BodyPlain: strings.Repeat("b", 600)},
	})
	assert.Equal(t, 2, strings.Count(got, "\n---\n"))
	assert.Contains(t, got, "From: a@x.com\nDate: Sat, 01 Mar 2025 09:00:00 +0000\nBody: first\n---\n")
	assert.NotContains(t, got, strings.Repeat("b", 501))
}

func TestSummarizeThread(t *testing.T) {
	p := &fakeProvider{generate: reply("  Short summary.  ")}
	got, err := newTestEngine(p).SummarizeThread(context.Background(), "From: a\n")
	require.NoError(t, err)
	assert.Equal(t, "Short summary.", got)

	p = &fakeProvider{generate: reply("")}
	_, err = newTestEngine(p).SummarizeThread(context.Background(), "From: a\n")
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	t.Run("requests 768 dimensions", func(t *testing.T) {
		var asked int
		p := &fakeProvider{embed: func(_ string, dims int) ([]float32, error) {
			asked = dims
			return make([]float32, dims), nil
		}}
		vec, ok := newTestEngine(p).Embed(context.Background(), "hello")
		assert.True(t, ok)
		assert.Len(t, vec, 768)
		assert.Equal(t, 768, asked)
	})

	t.Run("wrong size is absent", func(t *testing.T) {
		p := &fakeProvider{embed: func(string, int) ([]float32, error) { return make([]float32, 3), nil }}
		_, ok := newTestEngine(p).Embed(context.Background(), "hello")
		assert.False(t, ok)
	})

	t.Run("error is absent", func(t *testing.T) {
		p := &fakeProvider{embed: func(string, int) ([]float32, error) { return nil, errors.New("down") }}
		_, ok := newTestEngine(p).Embed(context.Background(), "hello")
		assert.False(t, ok)
	})
}

func TestClassifyIntent(t *testing.T) {
	tests := []struct {
		name     string
		response string
		intent   Intent
		kind     Kind
		allowed  bool
	}{
		{"explain", `Sure: {"intent": "explain", "confidence": "high", "reasoning": "asks why"}`, IntentExplain, Parsed, true},
		{"chat", `{"intent": "chat", "confidence": "high", "reasoning": "poem"}`, IntentChat, Parsed, false},
		{"no json", `I think it's a filter`, IntentChat, Unparseable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{generate: reply(tt.response)}
			got := newTestEngine(p).ClassifyIntent(context.Background(), "why is this urgent?")
			assert.Equal(t, tt.intent, got.Intent)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.allowed, got.Intent.Allowed())
		})
	}

	t.Run("provider error is chat", func(t *testing.T) {
		p := &fakeProvider{generate: func(string, ai.ResponseFormat) (string, error) { return "", errors.New("down") }}
		got := newTestEngine(p).ClassifyIntent(context.Background(), "q")
		assert.Equal(t, IntentChat, got.Intent)
		assert.Equal(t, "Classification error", got.Reasoning)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "éé", Truncate("ééé", 2))
}

func ptrTime(t time.Time) *time.Time { return &t }
