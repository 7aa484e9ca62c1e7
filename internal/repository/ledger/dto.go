package ledger

import (
	"time"

	"github.com/kailas-cloud/mathroute/internal/domain/feedback"
	"github.com/kailas-cloud/mathroute/internal/domain/route"
	"github.com/kailas-cloud/mathroute/internal/domain/trace"
)

// entryDTO is the JSON form of a trace entry.
type entryDTO struct {
	ID              string    `json:"id"`
	Query           string    `json:"query"`
	NormalizedQuery string    `json:"normalized_query"`
	Route           string    `json:"route"`
	Answer          string    `json:"answer"`
	Steps           string    `json:"steps,omitempty"`
	Sources         []string  `json:"sources,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	Disclaimer      string    `json:"disclaimer,omitempty"`
	Confidence      *float64  `json:"confidence,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toEntryDTO(e trace.Entry) entryDTO {
	a := e.Answer()
	return entryDTO{
		ID:              e.ID(),
		Query:           e.Query(),
		NormalizedQuery: e.NormalizedQuery(),
		Route:           string(e.Tag()),
		Answer:          a.Text(),
		Steps:           a.Steps(),
		Sources:         a.Sources(),
		Provider:        a.Provider(),
		Disclaimer:      a.Disclaimer(),
		Confidence:      e.Confidence(),
		CreatedAt:       e.CreatedAt(),
	}
}

func (d entryDTO) toDomain() trace.Entry {
	answer := route.NewAnswer(d.Answer, d.Steps, d.Sources, d.Provider).WithDisclaimer(d.Disclaimer)
	return trace.Reconstruct(d.ID, d.Query, d.NormalizedQuery, route.Tag(d.Route), answer, d.Confidence, d.CreatedAt)
}

// feedbackDTO is the JSON form of a feedback record.
type feedbackDTO struct {
	TraceID    string    `json:"trace_id"`
	Verdict    string    `json:"verdict"`
	RawVerdict string    `json:"raw_verdict"`
	Comment    string    `json:"comment,omitempty"`
	Query      string    `json:"query,omitempty"`
	Route      string    `json:"route,omitempty"`
	Resolved   bool      `json:"resolved"`
	Promoted   bool      `json:"promoted"`
	ReceivedAt time.Time `json:"received_at"`
}

func toFeedbackDTO(r feedback.Record) feedbackDTO {
	return feedbackDTO{
		TraceID:    r.TraceID,
		Verdict:    string(r.Verdict),
		RawVerdict: r.RawVerdict,
		Comment:    r.Comment,
		Query:      r.Query,
		Route:      string(r.Route),
		Resolved:   r.Resolved,
		Promoted:   r.Promoted,
		ReceivedAt: r.ReceivedAt,
	}
}

func (d feedbackDTO) toDomain() feedback.Record {
	return feedback.Record{
		TraceID:    d.TraceID,
		Verdict:    feedback.Verdict(d.Verdict),
		RawVerdict: d.RawVerdict,
		Comment:    d.Comment,
		Query:      d.Query,
		Route:      route.Tag(d.Route),
		Resolved:   d.Resolved,
		Promoted:   d.Promoted,
		ReceivedAt: d.ReceivedAt,
	}
}
