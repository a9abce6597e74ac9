package capture

import "context"

// run is the session worker. It handles status snapshots in the order the
// interrupt handler queued them.
func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}

		for {
			evt, ok := s.events.Dequeue()
			if !ok {
				break
			}

			s.process(evt)
		}
	}
}

func (s *Session) process(evt *StatusEvent) {
	defer s.inflight.Add(-1)

	status0, status1, fatal := evt.Status0, evt.Status1, evt.Fatal
	s.eventPool.Release(evt)

	slot := s.slot.Load()

	if fatal != 0 {
		s.reportError(slot, fatal)
	}

	if slot == nil {
		return
	}

	slot.engine.dispatch(slot, s, status0, status1, false)
}
