// Package voting implements timed rating sessions for talks: one vote per
// voter, a 1-5 star distribution with a running average, auto-expiry on a
// timer with authoritative deadline checks on every access, and final
// aggregation onto the talk record.
package voting

import (
	"encoding/json"
	"math"
	"time"

	"github.com/flashtalks/backend/pkg/storage"
)

// Session status values. The machine is monotonic: active -> ended, never
// reversed.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// Vote is one voter's rating within a session.
type Vote struct {
	Rating    int       `json:"rating"`
	Timestamp time.Time `json:"timestamp"`
}

// Results is the aggregate over a session's votes.
type Results struct {
	TotalVotes    int         `json:"totalVotes"`
	AverageRating float64     `json:"averageRating"`
	Distribution  map[int]int `json:"distribution"`
}

// Session is a time-boxed rating window for a single talk.
type Session struct {
	ID              string          `json:"id"`
	EventID         string          `json:"eventId"`
	TalkID          string          `json:"talkId"`
	Status          string          `json:"status"`
	CreatedBy       string          `json:"createdBy,omitempty"`
	DurationSeconds int             `json:"durationSeconds"`
	CreatedAt       time.Time       `json:"createdAt"`
	EndsAt          time.Time       `json:"endsAt"`
	EndedAt         *time.Time      `json:"endedAt,omitempty"`
	Votes           map[string]Vote `json:"votes"`
	Results         Results         `json:"results"`
}

// ResultsView is the read shape returned by GetResults.
type ResultsView struct {
	Status        string      `json:"status"`
	TotalVotes    int         `json:"totalVotes"`
	AverageRating float64     `json:"averageRating"`
	Distribution  map[int]int `json:"distribution"`
	Percentages   map[int]int `json:"percentages"`
	EndsAt        time.Time   `json:"endsAt"`
}

// computeResults aggregates a vote set. An empty set yields average 0.
func computeResults(votes map[string]Vote) Results {
	dist := make(map[int]int, MaxRating)
	for r := MinRating; r <= MaxRating; r++ {
		dist[r] = 0
	}
	sum := 0
	for _, v := range votes {
		dist[v.Rating]++
		sum += v.Rating
	}
	res := Results{TotalVotes: len(votes), Distribution: dist}
	if res.TotalVotes > 0 {
		res.AverageRating = round2(float64(sum) / float64(res.TotalVotes))
	}
	return res
}

// percentages derives the per-rating share of the total, rounded
// independently. All zero when there are no votes.
func percentages(res Results) map[int]int {
	out := make(map[int]int, MaxRating)
	for r := MinRating; r <= MaxRating; r++ {
		if res.TotalVotes > 0 {
			out[r] = int(math.Round(float64(res.Distribution[r]) / float64(res.TotalVotes) * 100))
		} else {
			out[r] = 0
		}
	}
	return out
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// clone deep-copies the session so cache contents are never mutated before a
// persistence write succeeds.
func (s *Session) clone() *Session {
	cp := *s
	cp.Votes = make(map[string]Vote, len(s.Votes))
	for k, v := range s.Votes {
		cp.Votes[k] = v
	}
	cp.Results.Distribution = make(map[int]int, len(s.Results.Distribution))
	for k, v := range s.Results.Distribution {
		cp.Results.Distribution[k] = v
	}
	return &cp
}

// view builds the read shape for GetResults.
func (s *Session) view() ResultsView {
	return ResultsView{
		Status:        s.Status,
		TotalVotes:    s.Results.TotalVotes,
		AverageRating: s.Results.AverageRating,
		Distribution:  s.Results.Distribution,
		Percentages:   percentages(s.Results),
		EndsAt:        s.EndsAt,
	}
}

// toRecord and sessionFromRecord convert through JSON so the document store
// sees the same shapes regardless of backend.
func toRecord(v any) storage.Record {
	data, _ := json.Marshal(v)
	var rec storage.Record
	_ = json.Unmarshal(data, &rec)
	return rec
}

func sessionFromRecord(rec storage.Record) (*Session, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Votes == nil {
		s.Votes = make(map[string]Vote)
	}
	if s.Results.Distribution == nil {
		s.Results = computeResults(s.Votes)
	}
	return &s, nil
}
