package flags

import "context"

// Paused is what the trading loop asks before every commit.
func (s *Store) Paused(ctx context.Context) (bool, error) {
	p, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	return p.Active(s.now()), nil
}
