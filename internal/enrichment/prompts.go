package enrichment

import (
	"fmt"
	"strings"
	"time"

	emaildomain "kyra-backend/internal/email/domain"
)

// Rules are the user specific hints fed to the classifier
type Rules struct {
	VIPDomains       []string
	SpamKeywords     []string
	PriorityKeywords []string
}

func classifyPrompt(r Rules) string {
	var b strings.Builder
	b.WriteString(`You are a highly intelligent Email Priority Engine for a CS Student at SRM University.
Your goal is to classify emails into one of 4 buckets:
- Critical (Score 85-100): Exam, Deadline, Placement, Security, OTP.
- Important (Score 60-84): Lab, Faculty, Project, Hackathon, Internship.
- FYI (Score 30-59): General updates, Newsletters, Events.
- Noise (Score 0-29): Spam, Promotions, Social Media.

**Rules**:
`)
	if len(r.VIPDomains) > 0 {
		fmt.Fprintf(&b, "- VIP Domains: %s -> Boost score.\n", strings.Join(r.VIPDomains, ", "))
	}
	if len(r.SpamKeywords) > 0 {
		fmt.Fprintf(&b, "- Spam Keywords: %s -> Kill score.\n", strings.Join(r.SpamKeywords, ", "))
	}
	for _, k := range r.PriorityKeywords {
		fmt.Fprintf(&b, "- %q is the user's project name -> HIGH PRIORITY.\n", k)
	}
	b.WriteString(`
**Input Format**:
ID: <message_id>
From: <sender>
Subject: <subject>
Snippet: <snippet>
__
...

**Output Format**:
Return a JSON object where keys are the message ID and values are objects with:
- score (int 0-100)
- category (string)
- explanation (string, max 15 words)
- confidence (float 0.0-1.0)
`)
	return b.String()
}

func classifyInput(docs []*emaildomain.Document) string {
	var b strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&b, "ID: %s\nFrom: %s\nSubject: %s\nSnippet: %s\n__\n",
			d.ProviderID, d.Sender, d.Subject, Truncate(d.RawSnippet, 200))
	}
	return b.String()
}

const detectTaskPrompt = `Analyze the following email content and extract any actionable TASKS, DEADLINES, or MEETING requests.

Task Types:
- "deadline": Hard deadlines (submission, due by, last date).
- "meeting": Requests to meet (zoom, in-person, time slots).
- "task": Soft action items (review, read, check).

Rules:
- If clear date/time is mentioned, extract it in ISO 8601 format (approximate if needed, assume current year %d).
- If "Vertex", "GitHub", "Vercel" mentioned -> Priority "high".
- If "Manual" or "Procedure" attachment implied -> Task "Read [Subject] Manual".

Output JSON:
{
  "is_task": boolean,
  "description": "short description",
  "type": "deadline" | "meeting" | "task" | null,
  "due_date": "YYYY-MM-DDTHH:MM:SS" | null,
  "priority": "high" | "medium" | "low"
}
`

// TaskInput is the text handed to DetectTask for one message
func TaskInput(subject, body string) string {
	return fmt.Sprintf("Subject: %s\nBody: %s", subject, Truncate(body, 2000))
}

const summarizePrompt = `You are an expert executive assistant. Summarize the following email thread into a concise 3-4 sentence paragraph.
Focus on:
- The main issue/topic
- Who said what (briefly)
- The current status or next action item

Keep it professional and objective.
`

// ThreadText renders messages (oldest first) for SummarizeThread
func ThreadText(emails []emaildomain.Email) string {
	var b strings.Builder
	for _, e := range emails {
		fmt.Fprintf(&b, "From: %s\nDate: %s\nBody: %s\n---\n",
			e.Sender, e.ReceivedAt.Format(time.RFC1123Z), Truncate(e.BodyPlain, 500))
	}
	return b.String()
}

const digestPrompt = `You are 'Kyra', a highly intelligent Personal AI OS for a busy CS student.
Generate a "Morning Briefing" based on the following context (Urgent Emails & Tasks).

Style Guide:
- Tone: Professional, slightly crisp, direct. No fluff.
- Structure:
  1. "Good Morning. Here is your briefing for [Date]."
  2. Top Priorities (Combine urgent emails and deadlines).
  3. FYI / Notice (Less critical items).
  4. "Good luck today."

Keep it under 200 words. Use bullet points.
`

func intentPrompt(query string) string {
	return fmt.Sprintf(`Classify the intent of this user query related to email management:

Query: %q

Possible intents:
- explain: Asking "why", "how", or requesting explanation about emails/decisions
- filter: Asking to show, filter, or find specific emails
- teach: Teaching preferences, correcting behavior, setting rules
- command: Asking to perform actions (archive, mark, etc.)
- chat: General conversation, unrelated questions, creative writing

Respond in JSON format:
{
    "intent": "explain" | "filter" | "teach" | "command" | "chat",
    "confidence": "high" | "medium" | "low",
    "reasoning": "brief explanation"
}
`, query)
}

// Truncate keeps the first n characters of s
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
