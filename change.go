/*
change.go implements the change-notification stream: a single-producer,
multi-consumer broadcast of commit batches, serialized onto one dedicated
goroutine so subscribers observe commits in a total order consistent with
commit order.

This is the teacher's api/scheduler.go shape - a background goroutine plus
a mutex-guarded registry - adapted from a ticker-driven poll loop into an
event-driven fan-out loop: instead of waking up on an interval, the
goroutine wakes up on enqueued work (a publish, a subscribe, an
unsubscribe) and drains it in order.
*/
package freezer

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// ChangeType distinguishes an appended value from a removed one.
type ChangeType int

const (
	ChangeAdd ChangeType = iota
	ChangeRemove
)

func (t ChangeType) String() string {
	if t == ChangeRemove {
		return "remove"
	}
	return "add"
}

// Change is one record describing a single tuple append visible to
// subscribers post-commit.
type Change struct {
	Type             ChangeType
	EntityID         string
	Attribute        string
	Delta            Value
	PreviousDatabase Database
	ChangedDatabase  Database
}

// EntityChange is the element type of the ValuesAndChangesFor feed: the
// entity's current attribute map alongside the Change that produced it
// (or a synthetic seed change for the first element).
type EntityChange struct {
	Value  Attributes
	Change Change
}

// pendingChange is what Transactor mutators queue during an open write
// transaction, before the previous/changed snapshots are known.
type pendingChange struct {
	Type      ChangeType
	EntityID  string
	Attribute string
	Delta     Value
}

type subscriber struct {
	id      int
	deliver func(batch []Change)
}

// changeStream is the dedicated single-goroutine scheduler.
type changeStream struct {
	logger zerolog.Logger

	work chan func()
	done chan struct{}
	stop sync.Once

	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

func newChangeStream(logger zerolog.Logger) *changeStream {
	s := &changeStream{
		logger: logger,
		work:   make(chan func(), 256),
		done:   make(chan struct{}),
		subs:   make(map[int]*subscriber),
	}
	go s.run()
	return s
}

func (s *changeStream) run() {
	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.done:
			return
		}
	}
}

// close completes the stream: every subscriber is dropped and no further
// batches will be delivered. Subscriber channels are not closed.
func (s *changeStream) close() {
	s.stop.Do(func() {
		done := make(chan struct{})
		s.work <- func() {
			s.mu.Lock()
			for id, sub := range s.subs {
				_ = sub
				delete(s.subs, id)
			}
			s.mu.Unlock()
			close(done)
		}
		<-done
		close(s.done)
	})
}

// subscribeRaw registers a subscriber whose deliver callback runs on the
// scheduler goroutine for every published batch, and returns an unsubscribe
// func. Registration is synchronous: by the time this returns, the
// subscriber will see every subsequent publish.
func (s *changeStream) subscribeRaw(deliver func(batch []Change)) func() {
	done := make(chan struct{})
	var id int
	s.work <- func() {
		s.mu.Lock()
		id = s.nextID
		s.nextID++
		s.subs[id] = &subscriber{id: id, deliver: deliver}
		s.mu.Unlock()
		close(done)
	}
	<-done

	return func() {
		doneU := make(chan struct{})
		s.work <- func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(doneU)
		}
		<-doneU
	}
}

// publish schedules batch for delivery to every current subscriber.
// Scheduling is fire-and-forget from the committing goroutine's point of
// view: the batch is handed to the scheduler and delivery happens
// asynchronously, in the order batches were published.
func (s *changeStream) publish(batch []Change) {
	if len(batch) == 0 {
		return
	}
	s.work <- func() {
		s.mu.Lock()
		subs := make([]*subscriber, 0, len(s.subs))
		for _, sub := range s.subs {
			subs = append(subs, sub)
		}
		s.mu.Unlock()
		for _, sub := range subs {
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.logger.Warn().Interface("panic", r).Msg("dropped change notification: subscriber panicked")
					}
				}()
				sub.deliver(batch)
			}()
		}
	}
}

// Subscribe returns a channel delivering every future commit batch in
// commit order, and a func to stop receiving. Delivery never blocks the
// scheduler: a subscriber whose buffer is full silently misses that
// batch, since a commit has already succeeded by the time its
// notification is published.
func (s *changeStream) Subscribe() (<-chan []Change, func()) {
	ch := make(chan []Change, 16)
	unsub := s.subscribeRaw(func(batch []Change) {
		select {
		case ch <- batch:
		default:
			s.logger.Warn().Msg("dropped change batch: subscriber channel full")
		}
	})
	return ch, func() {
		unsub()
		close(ch)
	}
}

// subscribeEntity implements the per-entity values-and-changes feed: one
// seed element from the current snapshot, then every subsequent batch
// record whose entity matches, both produced on the scheduler goroutine
// so ordering is total with respect to commits.
func (s *changeStream) subscribeEntity(ctx context.Context, store *Store, entity string) (<-chan EntityChange, func()) {
	ch := make(chan EntityChange, 16)
	seeded := make(chan struct{})

	var unsub func()
	s.work <- func() {
		defer close(seeded)
		cur := store.CurrentDatabase()
		attrs, _ := cur.Entity(ctx, entity)
		seed := Change{Type: ChangeAdd, EntityID: entity, ChangedDatabase: cur}
		select {
		case ch <- EntityChange{Value: attrs, Change: seed}:
		default:
		}
	}
	<-seeded

	unsub = s.subscribeRaw(func(batch []Change) {
		for _, c := range batch {
			if c.EntityID != entity {
				continue
			}
			attrs, _ := c.ChangedDatabase.Entity(context.Background(), entity)
			select {
			case ch <- EntityChange{Value: attrs, Change: c}:
			default:
				s.logger.Warn().Str("entity", entity).Msg("dropped entity change: subscriber channel full")
			}
		}
	})

	return ch, func() {
		unsub()
		close(ch)
	}
}
