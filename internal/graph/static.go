package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Static answers graph requests from an in-process rule-set seed. It backs
// local runs without a graph endpoint and doubles as a recording fake.
type Static struct {
	mu       sync.Mutex
	ruleSets []map[string]any
	sent     []Request
}

func NewStatic(ruleSets []map[string]any) *Static {
	return &Static{ruleSets: ruleSets}
}

// Sent returns the conversion reports received so far.
func (s *Static) Sent() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *Static) Do(ctx context.Context, req Request) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Edge() {
	case ConfigsEdge:
		data := make([]any, 0, len(s.ruleSets))
		for _, rs := range s.ruleSets {
			data = append(data, rs)
		}
		return map[string]any{"data": data}, nil
	case ConversionsEdge:
		s.sent = append(s.sent, req)
		log.Debug().Interface("params", req.Params).Msg("conversion report accepted")
		return map[string]any{"success": true}, nil
	default:
		return nil, fmt.Errorf("%w: unknown edge %s", ErrUnexpectedStatus, req.Edge())
	}
}
