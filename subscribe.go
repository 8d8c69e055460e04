package runway

// TypeAll subscribes to changes of every registered type.
const TypeAll = "all"

type subscription struct {
	id int
	fn func()
}

// Subscribe registers a callback invoked once after every successful save
// or delete affecting the type (or any type, for TypeAll). The returned
// function removes exactly that callback.
//
// Callbacks run asynchronously relative to the write that triggered them;
// WaitNotifications blocks until all scheduled rounds have finished.
func (s *Store) Subscribe(typeName string, fn func()) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[typeName] = append(s.subs[typeName], subscription{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		list := s.subs[typeName]
		for i, sub := range list {
			if sub.id == id {
				s.subs[typeName] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// notify schedules one notification round for the type: its subscribers
// in registration order, then the wildcard subscribers.
func (s *Store) notify(typeName string) {
	s.subMu.Lock()
	round := make([]subscription, 0, len(s.subs[typeName])+len(s.subs[TypeAll]))
	round = append(round, s.subs[typeName]...)
	if typeName != TypeAll {
		round = append(round, s.subs[TypeAll]...)
	}
	s.subMu.Unlock()

	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		for _, sub := range round {
			sub.fn()
		}
	}()
}

// WaitNotifications blocks until every notification round scheduled so
// far has run its callbacks.
func (s *Store) WaitNotifications() {
	s.notifyWG.Wait()
}
