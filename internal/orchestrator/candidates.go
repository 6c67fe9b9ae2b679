package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"squeeze-discovery/internal/domain"
)

// Candidate list provenance.
const (
	CandidatesFromRanking  = "ranking"
	CandidatesFromLastTick = "last_tick"
	CandidatesEmpty        = "empty"
)

// Candidate is one entry of the candidate list served to clients.
type Candidate struct {
	Symbol     string           `json:"symbol"`
	Score      float64          `json:"score"`
	Price      *float64         `json:"price,omitempty"`
	Action     string           `json:"action"`
	Tier       domain.Tier      `json:"tier,omitempty"`
	Components domain.SubScores `json:"components"`
	Synthetic  bool             `json:"synthetic,omitempty"`
}

// CandidateList is never nil; an empty list always carries a reason.
type CandidateList struct {
	Source string      `json:"source"`
	Day    string      `json:"day"`
	Reason string      `json:"reason,omitempty"`
	Items  []Candidate `json:"items"`
}

// Candidates returns today's ranking from the store, else the last tick's
// scored list, else an explicit empty list with the reason.
func (o *Orchestrator) Candidates(ctx context.Context) *CandidateList {
	day := domain.DayOf(o.opts.Clock())
	list := &CandidateList{Day: day.Format("2006-01-02"), Items: []Candidate{}}

	if o.opts.Discoveries != nil {
		ranking, err := o.opts.Discoveries.GetRanking(ctx, day, o.opts.CandidateLimit)
		switch {
		case err != nil:
			o.logger.Warn("ranking lookup failed", zap.Error(err))
			list.Reason = "ranking unavailable: " + err.Error()
		case len(ranking) > 0:
			list.Source = CandidatesFromRanking
			for _, e := range ranking {
				list.Items = append(list.Items, Candidate{
					Symbol:     e.Symbol,
					Score:      e.Score,
					Price:      e.Price,
					Action:     e.Action,
					Components: e.Components,
				})
			}
			return list
		}
	}

	if last := o.LastTick(); last != nil && len(last.Scored) > 0 {
		list.Source = CandidatesFromLastTick
		list.Reason = ""
		for i, sc := range last.Scored {
			if i >= o.opts.CandidateLimit {
				break
			}
			c := Candidate{
				Symbol:     sc.Symbol(),
				Score:      float64(sc.Score),
				Action:     sc.Tier.Action(),
				Tier:       sc.Tier,
				Components: sc.SubScores,
				Synthetic:  sc.Synthetic,
			}
			if sc.Enriched != nil && sc.Enriched.Price > 0 {
				p := sc.Enriched.Price
				c.Price = &p
			}
			list.Items = append(list.Items, c)
		}
		return list
	}

	list.Source = CandidatesEmpty
	if list.Reason == "" {
		if o.LastTick() == nil {
			list.Reason = "no discovery tick has completed yet"
		} else {
			list.Reason = "no candidates discovered today"
		}
	}
	return list
}
