// Package enrichment turns provider model calls into typed verdicts for the sync and chat pipelines.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	emaildomain "kyra-backend/internal/email/domain"
	taskdomain "kyra-backend/internal/task/domain"
	"kyra-backend/pkg/ai"
	"kyra-backend/pkg/monitoring"
)

// Engine wraps an ai.Provider with the prompts and parsing of every enrichment step
type Engine struct {
	provider ai.Provider
	rules    Rules
	metrics  *monitoring.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewEngine(provider ai.Provider, rules Rules, metrics *monitoring.Metrics, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		provider: provider,
		rules:    rules,
		metrics:  metrics,
		log:      log.Named("enrichment"),
		now:      time.Now,
	}
}

func (e *Engine) call(ctx context.Context, op, prompt string, format ai.ResponseFormat) (string, error) {
	if e.provider == nil {
		return "", ai.ErrNoProvider
	}
	start := time.Now()
	out, err := e.provider.Generate(ctx, prompt, format)
	e.metrics.ObserveAICall(op, time.Since(start), err)
	return out, err
}

type rawClassification struct {
	Score       float64 `json:"score"`
	Category    string  `json:"category"`
	Explanation string  `json:"explanation"`
	Confidence  float64 `json:"confidence"`
}

// ClassifyBatch scores every document with a single model call. The result is keyed by
// provider id; documents the model skipped are absent. Any provider or parse failure
// yields an empty map.
func (e *Engine) ClassifyBatch(ctx context.Context, docs []*emaildomain.Document) map[string]Classification {
	out := make(map[string]Classification, len(docs))
	if len(docs) == 0 {
		return out
	}

	prompt := classifyPrompt(e.rules) + "\n" + classifyInput(docs)
	resp, err := e.call(ctx, "classify", prompt, ai.FormatJSON)
	if err != nil {
		e.log.Error("classify batch failed", zap.Int("batch", len(docs)), zap.Error(err))
		return out
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(ai.ExtractJSON(resp)), &raw); err != nil {
		e.log.Warn("classify batch response unparseable",
			zap.Stringer("kind", Unparseable),
			zap.Int("batch", len(docs)),
			zap.Error(err))
		return out
	}

	wanted := make(map[string]bool, len(docs))
	for _, d := range docs {
		wanted[d.ProviderID] = true
	}
	for id, msg := range raw {
		if !wanted[id] {
			continue
		}
		var rc rawClassification
		if err := json.Unmarshal(msg, &rc); err != nil {
			e.log.Warn("classification entry unparseable", zap.String("provider_id", id), zap.Error(err))
			continue
		}
		score := emaildomain.ClampScore(int(math.Round(rc.Score)))
		out[id] = Classification{
			Kind:        Parsed,
			Score:       score,
			Category:    emaildomain.CategoryForScore(score),
			Explanation: strings.TrimSpace(rc.Explanation),
			Confidence:  math.Max(0, math.Min(1, rc.Confidence)),
		}
	}
	return out
}

type rawTask struct {
	IsTask      bool    `json:"is_task"`
	Description string  `json:"description"`
	Type        *string `json:"type"`
	DueDate     *string `json:"due_date"`
	Priority    string  `json:"priority"`
}

// DetectTask looks for one action item in text (see TaskInput). Failures come back as
// a negative detection.
func (e *Engine) DetectTask(ctx context.Context, text string) TaskDetection {
	none := TaskDetection{Kind: Unparseable}

	prompt := fmt.Sprintf(detectTaskPrompt, e.now().Year()) + "\n" + text
	resp, err := e.call(ctx, "detect_task", prompt, ai.FormatJSON)
	if err != nil {
		e.log.Error("task detection failed", zap.Error(err))
		return none
	}

	rt, err := decodeTask(ai.ExtractJSON(resp))
	if err != nil {
		e.log.Warn("task detection response unparseable", zap.Error(err))
		return none
	}
	if rt == nil {
		return TaskDetection{Kind: Parsed}
	}

	det := TaskDetection{
		Kind:        Parsed,
		IsTask:      rt.IsTask,
		Description: strings.TrimSpace(rt.Description),
		Priority:    taskdomain.ParsePriority(strings.ToLower(rt.Priority)),
		Type:        taskdomain.TaskTypeTask,
	}
	if rt.Type != nil {
		det.Type = taskdomain.ParseTaskType(strings.ToLower(*rt.Type))
	}
	if rt.DueDate != nil {
		det.DueDate = parseDueDate(*rt.DueDate)
	}
	return det
}

// decodeTask accepts an object or a list of objects; an empty list is no task
func decodeTask(doc string) (*rawTask, error) {
	doc = strings.TrimSpace(doc)
	if strings.HasPrefix(doc, "[") {
		var list []rawTask
		if err := json.Unmarshal([]byte(doc), &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	}
	var rt rawTask
	if err := json.Unmarshal([]byte(doc), &rt); err != nil {
		return nil, err
	}
	return &rt, nil
}

var dueDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDueDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// SummarizeThread writes a short paragraph for a thread rendered with ThreadText
func (e *Engine) SummarizeThread(ctx context.Context, threadText string) (string, error) {
	resp, err := e.call(ctx, "summarize_thread", summarizePrompt+"\n"+threadText, ai.FormatText)
	if err != nil {
		return "", fmt.Errorf("summarize thread: %w", err)
	}
	summary := strings.TrimSpace(resp)
	if summary == "" {
		return "", fmt.Errorf("summarize thread: empty response")
	}
	return summary, nil
}

// Embed returns a vector of ai.EmbeddingDimensions, or false when none could be made
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, bool) {
	if e.provider == nil {
		return nil, false
	}
	start := time.Now()
	vec, err := e.provider.Embed(ctx, text, ai.EmbeddingDimensions)
	e.metrics.ObserveAICall("embed", time.Since(start), err)
	if err != nil {
		e.log.Warn("embedding failed", zap.Error(err))
		return nil, false
	}
	if len(vec) != ai.EmbeddingDimensions {
		e.log.Warn("embedding has wrong size", zap.Int("dims", len(vec)))
		return nil, false
	}
	return vec, true
}

type rawIntent struct {
	Intent     string `json:"intent"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// ClassifyIntent labels a chat query. Anything unreadable is chat.
func (e *Engine) ClassifyIntent(ctx context.Context, query string) IntentResult {
	fallback := IntentResult{Kind: Unparseable, Intent: IntentChat, Confidence: "low"}

	resp, err := e.call(ctx, "classify_intent", intentPrompt(query), ai.FormatText)
	if err != nil {
		e.log.Warn("intent classification failed", zap.Error(err))
		fallback.Reasoning = "Classification error"
		return fallback
	}

	obj := ai.FirstJSONObject(resp)
	var ri rawIntent
	if obj == "" || json.Unmarshal([]byte(obj), &ri) != nil {
		fallback.Reasoning = "Could not parse"
		return fallback
	}

	intent := Intent(strings.ToLower(strings.TrimSpace(ri.Intent)))
	if intent == "" {
		intent = IntentChat
	}
	confidence := ri.Confidence
	if confidence == "" {
		confidence = "low"
	}
	return IntentResult{
		Kind:       Parsed,
		Intent:     intent,
		Confidence: confidence,
		Reasoning:  ri.Reasoning,
	}
}

// Generate returns free text for a fully built prompt
func (e *Engine) Generate(ctx context.Context, prompt string) (string, error) {
	return e.call(ctx, "generate", prompt, ai.FormatText)
}

// Digest writes the morning briefing for the urgent email and task context
func (e *Engine) Digest(ctx context.Context, digestContext string) (string, error) {
	resp, err := e.call(ctx, "digest", digestPrompt+"\n"+digestContext, ai.FormatText)
	if err != nil {
		return "", fmt.Errorf("generate digest: %w", err)
	}
	return strings.TrimSpace(resp), nil
}
