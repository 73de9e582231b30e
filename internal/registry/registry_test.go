package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oddspool/settle-engine/internal/auth"
	"github.com/oddspool/settle-engine/internal/model"
	"github.com/oddspool/settle-engine/internal/registry"
	"github.com/oddspool/settle-engine/internal/store"
)

const admin = "0xadmin"

func newRegistry(t *testing.T) (*registry.Registry, *time.Time) {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	r := registry.New(store.NewMemoryStore(), auth.NewStaticGate([]string{admin}))
	r.SetNow(func() time.Time { return now })
	return r, &now
}

func TestCreate_IDsAreMonotonicFromZero(t *testing.T) {
	r, now := newRegistry(t)
	ctx := context.Background()

	for want := uint64(0); want < 3; want++ {
		id, err := r.Create(ctx, admin, "will it rain?", now.Unix()+60)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id != want {
			t.Errorf("market id = %d, want %d", id, want)
		}
	}

	n, _ := r.Count(ctx)
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestCreate_InitialState(t *testing.T) {
	r, now := newRegistry(t)
	ctx := context.Background()

	id, err := r.Create(ctx, admin, "will it rain?", now.Unix()+60)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	m, err := r.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !m.Active || m.Resolved {
		t.Errorf("new market should be active and unresolved: %+v", m)
	}
	if !m.TotalYesMargin.IsZero() || !m.TotalNoMargin.IsZero() ||
		!m.TotalYesEffective.IsZero() || !m.TotalNoEffective.IsZero() {
		t.Error("new market should have zero pool totals")
	}
}

func TestCreate_Unauthorized(t *testing.T) {
	r, now := newRegistry(t)
	_, err := r.Create(context.Background(), "0xrando", "q", now.Unix()+60)
	if !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreate_DeadlineMustBeFuture(t *testing.T) {
	r, now := newRegistry(t)
	ctx := context.Background()

	// Exactly now is not strictly in the future.
	if _, err := r.Create(ctx, admin, "q", now.Unix()); !errors.Is(err, model.ErrInvalidDeadline) {
		t.Errorf("expected ErrInvalidDeadline for deadline == now, got %v", err)
	}
	if _, err := r.Create(ctx, admin, "q", now.Unix()-1); !errors.Is(err, model.ErrInvalidDeadline) {
		t.Errorf("expected ErrInvalidDeadline for past deadline, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	r, now := newRegistry(t)
	ctx := context.Background()

	id, _ := r.Create(ctx, admin, "q", now.Unix()+60)

	if err := r.Resolve(ctx, "0xrando", id, true); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if err := r.Resolve(ctx, admin, 99, true); !errors.Is(err, model.ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}

	if err := r.Resolve(ctx, admin, id, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	m, _ := r.Get(ctx, id)
	if !m.Resolved || !m.OutcomeYes || m.Active {
		t.Errorf("resolved market state wrong: %+v", m)
	}

	// Exactly once.
	if err := r.Resolve(ctx, admin, id, false); !errors.Is(err, model.ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
	m, _ = r.Get(ctx, id)
	if !m.OutcomeYes {
		t.Error("second resolve must not flip the outcome")
	}
}

func TestLock(t *testing.T) {
	r, now := newRegistry(t)
	ctx := context.Background()

	id, _ := r.Create(ctx, admin, "q", now.Unix()+60)

	// Before the deadline: rejected.
	if err := r.Lock(ctx, id); !errors.Is(err, model.ErrMarketNotLockable) {
		t.Errorf("expected ErrMarketNotLockable, got %v", err)
	}

	*now = now.Add(61 * time.Second)

	if err := r.Lock(ctx, id); err != nil {
		t.Fatalf("lock: %v", err)
	}
	m, _ := r.Get(ctx, id)
	if m.Active || m.Resolved {
		t.Errorf("locked market should be inactive and unresolved: %+v", m)
	}

	// Idempotent.
	if err := r.Lock(ctx, id); err != nil {
		t.Errorf("second lock should be a no-op, got %v", err)
	}

	// Resolution still possible after an explicit lock.
	if err := r.Resolve(ctx, admin, id, false); err != nil {
		t.Fatalf("resolve after lock: %v", err)
	}
	if err := r.Lock(ctx, id); !errors.Is(err, model.ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved locking a resolved market, got %v", err)
	}
}

func TestLocked_TimeDerived(t *testing.T) {
	r, now := newRegistry(t)
	ctx := context.Background()

	id, _ := r.Create(ctx, admin, "q", now.Unix()+60)
	m, _ := r.Get(ctx, id)

	if m.Locked(*now) {
		t.Error("market should not be locked before its deadline")
	}
	if !m.Locked(now.Add(61 * time.Second)) {
		t.Error("market should be locked once now >= deadline, with no state write")
	}
}
