package session

import "github.com/Vasu1712/silensess-backend/internal/models"

// BatchEvent describes one applied render step.
type BatchEvent struct {
	ChannelID    string
	Latest       models.SimulationFrame
	MessageCount int
	BatchSize    int
	// Rounds holds copies of every round the batch touched, ascending.
	Rounds []models.RoundRecord
}

// Observer is notified of session changes.
//
// OnBatch runs on the scheduler goroutine while the session state lock is
// held: it must not call back into the Session and should hand work off
// quickly. OnStateChange and OnClear run on the goroutine that caused the
// change.
type Observer interface {
	OnBatch(BatchEvent)
	OnStateChange(State)
	OnClear()
}

// Subscribe registers o and returns a function that removes it.
func (s *Session) Subscribe(o Observer) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = o
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) snapshotObservers() []Observer {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	out := make([]Observer, 0, len(s.observers))
	for _, o := range s.observers {
		out = append(out, o)
	}
	return out
}

func (s *Session) notifyBatch(ev BatchEvent) {
	for _, o := range s.snapshotObservers() {
		o.OnBatch(ev)
	}
}

func (s *Session) notifyState(st State) {
	for _, o := range s.snapshotObservers() {
		o.OnStateChange(st)
	}
}

func (s *Session) notifyClear() {
	for _, o := range s.snapshotObservers() {
		o.OnClear()
	}
}
