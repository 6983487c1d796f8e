package enrichment

import (
	"time"

	emaildomain "kyra-backend/internal/email/domain"
	taskdomain "kyra-backend/internal/task/domain"
)

// Kind tells whether a model answer could be read
type Kind int

const (
	Unparseable Kind = iota
	Parsed
)

func (k Kind) String() string {
	if k == Parsed {
		return "parsed"
	}
	return "unparseable"
}

// TaskDetectionThreshold is the lowest priority score that gets task detection
const TaskDetectionThreshold = 30

// Classification is the priority verdict for one message
type Classification struct {
	Kind        Kind
	Score       int
	Category    emaildomain.Category
	Explanation string
	Confidence  float64
}

// TaskDetection is the result of scanning one message for an action item
type TaskDetection struct {
	Kind        Kind
	IsTask      bool
	Description string
	Type        taskdomain.TaskType
	DueDate     *time.Time
	Priority    taskdomain.Priority
}

// Intent is what a chat query asks for
type Intent string

const (
	IntentExplain Intent = "explain"
	IntentFilter  Intent = "filter"
	IntentTeach   Intent = "teach"
	IntentCommand Intent = "command"
	IntentChat    Intent = "chat"
)

// Allowed reports whether the responder answers this intent
func (i Intent) Allowed() bool {
	switch i {
	case IntentExplain, IntentFilter, IntentTeach, IntentCommand:
		return true
	}
	return false
}

// IntentResult is the classified intent of a chat query
type IntentResult struct {
	Kind       Kind
	Intent     Intent
	Confidence string
	Reasoning  string
}
