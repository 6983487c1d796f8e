// Package calendar reads and writes the primary Google Calendar of an account.
package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	emaildomain "kyra-backend/internal/email/domain"
)

const primary = "primary"

type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	// StartRaw is the provider value (dateTime or date), kept for display
	StartRaw string `json:"start_raw"`
	HTMLLink string `json:"html_link,omitempty"`
}

type NewEvent struct {
	Summary     string    `json:"summary" binding:"required"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start" binding:"required"`
	End         time.Time `json:"end" binding:"required"`
}

// ConflictReport lists the busy events overlapping a proposed slot
type ConflictReport struct {
	HasConflicts bool    `json:"has_conflicts"`
	Conflicts    []Event `json:"conflicts"`
}

// ClientFunc returns an authorized HTTP client for an account
type ClientFunc func(ctx context.Context, acct *emaildomain.Account) *http.Client

type Service struct {
	client  ClientFunc
	options []option.ClientOption
	now     func() time.Time
}

func NewService(client ClientFunc, opts ...option.ClientOption) *Service {
	return &Service{client: client, options: opts, now: time.Now}
}

func (s *Service) calendarService(ctx context.Context, acct *emaildomain.Account) (*gcal.Service, error) {
	opts := append([]option.ClientOption{option.WithHTTPClient(s.client(ctx, acct))}, s.options...)
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return srv, nil
}

// ListUpcoming returns single events starting within the next days, ordered by start time
func (s *Service) ListUpcoming(ctx context.Context, acct *emaildomain.Account, days int) ([]Event, error) {
	srv, err := s.calendarService(ctx, acct)
	if err != nil {
		return nil, err
	}

	now := s.now()
	resp, err := srv.Events.List(primary).
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.AddDate(0, 0, days).Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(50).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		events = append(events, toEvent(item))
	}
	return events, nil
}

// Conflicts returns the events that overlap [start, end). Events marked free are ignored.
func (s *Service) Conflicts(ctx context.Context, acct *emaildomain.Account, start, end time.Time) (*ConflictReport, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("end must be after start")
	}
	srv, err := s.calendarService(ctx, acct)
	if err != nil {
		return nil, err
	}

	resp, err := srv.Events.List(primary).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	report := &ConflictReport{Conflicts: []Event{}}
	for _, item := range resp.Items {
		if item.Transparency == "transparent" || item.Status == "cancelled" {
			continue
		}
		report.Conflicts = append(report.Conflicts, toEvent(item))
	}
	report.HasConflicts = len(report.Conflicts) > 0
	return report, nil
}

// CreateEvent inserts an event into the primary calendar
func (s *Service) CreateEvent(ctx context.Context, acct *emaildomain.Account, in NewEvent) (*Event, error) {
	if !in.End.After(in.Start) {
		return nil, fmt.Errorf("event end must be after start")
	}
	srv, err := s.calendarService(ctx, acct)
	if err != nil {
		return nil, err
	}

	created, err := srv.Events.Insert(primary, &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Location:    in.Location,
		Start:       &gcal.EventDateTime{DateTime: in.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: in.End.Format(time.RFC3339)},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	ev := toEvent(created)
	return &ev, nil
}

func toEvent(item *gcal.Event) Event {
	ev := Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		HTMLLink:    item.HtmlLink,
	}
	ev.Start, ev.StartRaw, ev.AllDay = parseEventTime(item.Start)
	ev.End, _, _ = parseEventTime(item.End)
	return ev
}

func parseEventTime(t *gcal.EventDateTime) (time.Time, string, bool) {
	if t == nil {
		return time.Time{}, "", false
	}
	if t.DateTime != "" {
		parsed, _ := time.Parse(time.RFC3339, t.DateTime)
		return parsed, t.DateTime, false
	}
	parsed, _ := time.Parse("2006-01-02", t.Date)
	return parsed, t.Date, true
}
