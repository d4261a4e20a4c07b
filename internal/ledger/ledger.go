package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// warningUtilization is the consumed/ceiling ratio that triggers a
// WarningEvent when first crossed.
const warningUtilization = 0.8

// BudgetState is a read-only view of one scope's accounting.
// Consumed counts committed spend plus outstanding holds, so
// Consumed + Remaining == Ceiling always holds.
type BudgetState struct {
	Scope     string `json:"scope"`
	Ceiling   Amount `json:"ceiling"`
	Consumed  Amount `json:"consumed"`
	Remaining Amount `json:"remaining"`
}

type reservationState int8

const (
	reservationHeld reservationState = iota
	reservationCommitted
	reservationReleased
)

// Reservation is a provisional hold against a scope's remaining balance.
// It is settled exactly once, by Commit or Release. The zero value is not
// usable; reservations are created by Ledger.Reserve.
type Reservation struct {
	id     string
	scope  string
	amount Amount

	// state transitions are guarded by the owning ledger's lock.
	state reservationState
}

// ID returns the reservation identifier, used for log correlation.
func (r *Reservation) ID() string { return r.id }

// Scope returns the scope the hold was placed against.
func (r *Reservation) Scope() string { return r.scope }

// Amount returns the held amount.
func (r *Reservation) Amount() Amount { return r.amount }

// scopeState tracks one scope. held is the sum of open reservations.
type scopeState struct {
	ceiling Amount
	spent   Amount
	held    Amount
}

func (s *scopeState) available() Amount {
	return s.ceiling - s.spent - s.held
}

func (s *scopeState) utilization() float64 {
	if s.ceiling <= 0 {
		return 0
	}
	return float64(s.spent+s.held) / float64(s.ceiling)
}

func (s *scopeState) snapshot(scope string) BudgetState {
	consumed := s.spent + s.held
	return BudgetState{
		Scope:     scope,
		Ceiling:   s.ceiling,
		Consumed:  consumed,
		Remaining: s.ceiling - consumed,
	}
}

// Ledger tracks spend per scope and never lets remaining go negative.
// All methods are safe for concurrent use; mutations for a scope are
// serialized by the ledger lock.
type Ledger struct {
	mu      sync.RWMutex
	scopes  map[string]*scopeState
	emitter EventEmitter
}

// New creates an empty ledger. The emitter may be nil.
func New(emitter EventEmitter) *Ledger {
	return &Ledger{
		scopes:  make(map[string]*scopeState),
		emitter: emitter,
	}
}

// Ensure creates the scope with the given ceiling if it does not exist yet.
// An existing scope keeps its current ceiling.
func (l *Ledger) Ensure(scope string, ceiling Amount) BudgetState {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.scopes[scope]
	if !ok {
		s = &scopeState{ceiling: ceiling}
		l.scopes[scope] = s
	}
	return s.snapshot(scope)
}

// SetCeiling creates the scope or resizes an existing one. Resizing below
// the scope's committed spend plus open holds fails with
// ErrCeilingBelowCommitted, since that would make remaining negative.
func (l *Ledger) SetCeiling(scope string, ceiling Amount) (BudgetState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.scopes[scope]
	if !ok {
		s = &scopeState{ceiling: ceiling}
		l.scopes[scope] = s
		return s.snapshot(scope), nil
	}

	if committed := s.spent + s.held; ceiling < committed {
		return s.snapshot(scope), fmt.Errorf("%w: ceiling %s, committed %s in scope %q",
			ErrCeilingBelowCommitted, ceiling, committed, scope)
	}
	s.ceiling = ceiling
	return s.snapshot(scope), nil
}

// Reserve places a hold of amount against the scope's remaining balance.
// The check and the hold are atomic, so concurrent reservations can never
// jointly overspend. Failure names the requested and available amounts.
//
// Events are emitted after the lock is released to prevent deadlocks when
// handlers call back into the ledger.
func (l *Ledger) Reserve(scope string, amount Amount) (*Reservation, error) {
	var events []Event
	var res *Reservation
	var err error

	func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		s, ok := l.scopes[scope]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrScopeNotFound, scope)
			return
		}
		if amount < 0 {
			err = fmt.Errorf("%w: reservation of %s", ErrInvalidAmount, amount)
			return
		}

		available := s.available()
		if amount > available {
			events = append(events, ExhaustedEvent{
				scope:     scope,
				Requested: amount,
				Available: available,
			})
			err = fmt.Errorf("%w: requested %s, available %s in scope %q",
				ErrBudgetExceeded, amount, available, scope)
			return
		}

		before := s.utilization()
		s.held += amount
		res = &Reservation{
			id:     uuid.NewString(),
			scope:  scope,
			amount: amount,
			state:  reservationHeld,
		}

		if after := s.utilization(); before < warningUtilization && after >= warningUtilization {
			events = append(events, WarningEvent{
				scope:       scope,
				Consumed:    s.spent + s.held,
				Ceiling:     s.ceiling,
				Utilization: after,
			})
		}
	}()

	l.emit(events)
	return res, err
}

// Commit settles a reservation at the actual amount. An overestimate is
// refunded. An actual above the reserved amount is admitted only if the
// delta still fits under the ceiling; otherwise the commit fails with
// ErrBudgetExceeded and the hold stays open for the caller to release.
func (l *Ledger) Commit(res *Reservation, actual Amount) error {
	var events []Event
	var err error

	func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if res.state != reservationHeld {
			err = fmt.Errorf("%w: %s", ErrReservationSettled, res.id)
			return
		}
		s, ok := l.scopes[res.scope]
		if !ok {
			err = fmt.Errorf("%w: %q", ErrScopeNotFound, res.scope)
			return
		}
		if actual < 0 {
			err = fmt.Errorf("%w: commit of %s", ErrInvalidAmount, actual)
			return
		}

		if actual > res.amount {
			delta := actual - res.amount
			if available := s.available(); delta > available {
				events = append(events, ExhaustedEvent{
					scope:     res.scope,
					Requested: delta,
					Available: available,
				})
				err = fmt.Errorf("%w: commit overage %s, available %s in scope %q",
					ErrBudgetExceeded, delta, available, res.scope)
				return
			}
		}

		before := s.utilization()
		s.held -= res.amount
		s.spent += actual
		res.state = reservationCommitted

		if after := s.utilization(); before < warningUtilization && after >= warningUtilization {
			events = append(events, WarningEvent{
				scope:       res.scope,
				Consumed:    s.spent + s.held,
				Ceiling:     s.ceiling,
				Utilization: after,
			})
		}
	}()

	l.emit(events)
	return err
}

// Release refunds an open hold in full. Used when an agent fails before
// any billable work happened.
func (l *Ledger) Release(res *Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if res.state != reservationHeld {
		return fmt.Errorf("%w: %s", ErrReservationSettled, res.id)
	}
	s, ok := l.scopes[res.scope]
	if !ok {
		return fmt.Errorf("%w: %q", ErrScopeNotFound, res.scope)
	}

	s.held -= res.amount
	res.state = reservationReleased
	return nil
}

// Snapshot returns a read-only copy of the scope's state.
func (l *Ledger) Snapshot(scope string) (BudgetState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.scopes[scope]
	if !ok {
		return BudgetState{}, fmt.Errorf("%w: %q", ErrScopeNotFound, scope)
	}
	return s.snapshot(scope), nil
}

// Scopes returns the names of all known scopes, for health reporting.
func (l *Ledger) Scopes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.scopes))
	for name := range l.scopes {
		names = append(names, name)
	}
	return names
}

func (l *Ledger) emit(events []Event) {
	if l.emitter == nil {
		return
	}
	for _, e := range events {
		l.emitter.Emit(e)
	}
}
