package session

import "time"

// SetClock overrides the time source of a PgStore or Reaper in tests.
func (s *PgStore) SetClock(now func() time.Time) { s.now = now }

func (r *Reaper) SetClock(now func() time.Time) { r.now = now }
