package router

import (
	"sync"
	"time"

	"github.com/kailas-cloud/mathroute/internal/domain/route"
)

// RouteStats aggregates decisions for one route.
type RouteStats struct {
	Count      int64
	Cached     int64
	AvgLatency time.Duration
}

// Snapshot is the in-process routing summary.
type Snapshot struct {
	Total  int64
	Routes map[route.Tag]RouteStats
}

type routeStats struct {
	mu      sync.Mutex
	total   int64
	count   map[route.Tag]int64
	cached  map[route.Tag]int64
	latency map[route.Tag]time.Duration
}

func newRouteStats() *routeStats {
	return &routeStats{
		count:   make(map[route.Tag]int64),
		cached:  make(map[route.Tag]int64),
		latency: make(map[route.Tag]time.Duration),
	}
}

func (s *routeStats) observe(tag route.Tag, cached bool, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.count[tag]++
	if cached {
		s.cached[tag]++
	}
	s.latency[tag] += d
}

// Stats returns per-route counts and mean latency since start.
func (s *Service) Stats() Snapshot {
	st := s.stats
	st.mu.Lock()
	defer st.mu.Unlock()

	out := Snapshot{Total: st.total, Routes: make(map[route.Tag]RouteStats, len(st.count))}
	for tag, n := range st.count {
		out.Routes[tag] = RouteStats{
			Count:      n,
			Cached:     st.cached[tag],
			AvgLatency: st.latency[tag] / time.Duration(n),
		}
	}
	return out
}

// Capability describes one tier for clients.
type Capability struct {
	Route       route.Tag
	Order       int
	Description string
	Enabled     bool
}

var tierDescriptions = map[route.Tag]string{
	route.KnowledgeBase: "Pre-validated question and answer pairs matched by exact question or semantic similarity",
	route.WebSearch:     "Live web search with cited sources",
	route.Generative:    "Step-by-step solution generated by an AI model",
	route.HumanReview:   "Escalation to a human expert when no automated tier can answer",
}

// Capabilities lists the tiers in fallback order.
func (s *Service) Capabilities() []Capability {
	enabled := map[route.Tag]bool{
		route.KnowledgeBase: true,
		route.WebSearch:     s.web != nil,
		route.Generative:    s.generative != nil,
		route.HumanReview:   true,
	}
	tags := route.All()
	out := make([]Capability, 0, len(tags))
	for _, t := range tags {
		out = append(out, Capability{
			Route:       t,
			Order:       t.Tier(),
			Description: tierDescriptions[t],
			Enabled:     enabled[t],
		})
	}
	return out
}
