package account

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultMaxAccounts is the per-owner cap used when none is configured.
const DefaultMaxAccounts = 5

// Repository implements owner-level operations over a [Backend]. Each
// read-modify-write cycle holds an in-process mutex; there is no cross-process
// locking.
type Repository struct {
	backend     Backend
	maxAccounts int
	mu          sync.Mutex
}

// NewRepository returns a repository bounded at maxAccounts per owner.
func NewRepository(backend Backend, maxAccounts int) *Repository {
	if maxAccounts <= 0 {
		maxAccounts = DefaultMaxAccounts
	}
	return &Repository{backend: backend, maxAccounts: maxAccounts}
}

// MaxAccounts returns the per-owner cap.
func (r *Repository) MaxAccounts() int { return r.maxAccounts }

// Get returns a copy of the owner record.
func (r *Repository) Get(ctx context.Context, ownerID string) (*Owner, error) {
	return r.backend.Load(ctx, ownerID)
}

// Account returns a copy of one account; index 0 selects the current account.
func (r *Repository) Account(ctx context.Context, ownerID string, index int) (*Record, error) {
	o, err := r.backend.Load(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	rec, err := o.Account(index)
	if err != nil {
		return nil, err
	}
	cp := rec.Clone()
	return &cp, nil
}

// Put writes an owner record, deleting it when the account list is empty.
func (r *Repository) Put(ctx context.Context, o *Owner) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(ctx, o.Clone())
}

func (r *Repository) save(ctx context.Context, o *Owner) error {
	if len(o.Accounts) == 0 {
		return r.backend.Delete(ctx, o.ID)
	}
	for i := range o.Accounts {
		o.Accounts[i].OwnerID = o.ID
	}
	o.clampCurrent()
	return r.backend.Save(ctx, o)
}

func (r *Repository) loadOrNew(ctx context.Context, ownerID string) (*Owner, error) {
	o, err := r.backend.Load(ctx, ownerID)
	if errors.Is(err, ErrOwnerNotFound) {
		return &Owner{ID: ownerID}, nil
	}
	return o, err
}

func (r *Repository) mutate(ctx context.Context, ownerID string, create bool, fn func(*Owner) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		o   *Owner
		err error
	)
	if create {
		o, err = r.loadOrNew(ctx, ownerID)
	} else {
		o, err = r.backend.Load(ctx, ownerID)
	}
	if err != nil {
		return err
	}
	if err := fn(o); err != nil {
		return err
	}
	return r.save(ctx, o)
}

// AddOrMerge inserts rec, or merges it into the existing account with the same
// puuid. It returns the 1-based index of the stored account.
func (r *Repository) AddOrMerge(ctx context.Context, ownerID string, rec Record, makeCurrent bool) (int, error) {
	var idx int
	err := r.mutate(ctx, ownerID, true, func(o *Owner) error {
		idx = o.IndexOf(rec.PUUID)
		if idx > 0 {
			o.Accounts[idx-1] = Merge(o.Accounts[idx-1], rec)
		} else {
			if o.Linked() >= r.maxAccounts {
				return ErrTooManyAccounts
			}
			rec = rec.Clone()
			rec.OwnerID = ownerID
			o.Accounts = append(o.Accounts, rec)
			idx = len(o.Accounts)
		}
		if makeCurrent || o.Current == 0 {
			o.Current = idx
		}
		return nil
	})
	return idx, err
}

// SetPending stores an MFA placeholder for a login that has no puuid yet. An
// existing placeholder is replaced; the placeholder becomes current. The
// placeholder does not count toward the account cap, which is checked by
// ResolvePending once the puuid is known.
func (r *Repository) SetPending(ctx context.Context, ownerID string, mfa AwaitingMFA) (int, error) {
	var idx int
	err := r.mutate(ctx, ownerID, true, func(o *Owner) error {
		placeholder := Record{OwnerID: ownerID, Auth: mfa}
		if idx = o.PendingIndex(); idx > 0 {
			o.Accounts[idx-1] = placeholder
		} else {
			o.Accounts = append(o.Accounts, placeholder)
			idx = len(o.Accounts)
		}
		o.Current = idx
		return nil
	})
	return idx, err
}

// Pending returns the MFA placeholder for an owner.
func (r *Repository) Pending(ctx context.Context, ownerID string) (AwaitingMFA, error) {
	o, err := r.backend.Load(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrOwnerNotFound) {
			return AwaitingMFA{}, ErrNoPendingLogin
		}
		return AwaitingMFA{}, err
	}
	idx := o.PendingIndex()
	if idx == 0 {
		return AwaitingMFA{}, ErrNoPendingLogin
	}
	mfa, _ := o.Accounts[idx-1].Pending()
	return mfa, nil
}

// ResolvePending replaces the MFA placeholder with a completed account. When
// an account with the same puuid already exists the placeholder is removed and
// rec is merged into that account instead. The resolved account becomes current.
func (r *Repository) ResolvePending(ctx context.Context, ownerID string, rec Record) (int, error) {
	var idx int
	err := r.mutate(ctx, ownerID, false, func(o *Owner) error {
		pending := o.PendingIndex()
		if pending == 0 {
			return ErrNoPendingLogin
		}
		if existing := o.IndexOf(rec.PUUID); existing > 0 {
			o.Accounts[existing-1] = Merge(o.Accounts[existing-1], rec)
			o.Accounts = append(o.Accounts[:pending-1], o.Accounts[pending:]...)
			idx = existing
			if existing > pending {
				idx--
			}
		} else {
			if o.Linked() >= r.maxAccounts {
				return ErrTooManyAccounts
			}
			rec = rec.Clone()
			rec.OwnerID = ownerID
			o.Accounts[pending-1] = rec
			idx = pending
		}
		o.Current = idx
		return nil
	})
	if errors.Is(err, ErrOwnerNotFound) {
		return 0, ErrNoPendingLogin
	}
	return idx, err
}

// ClearPending removes the MFA placeholder, if any.
func (r *Repository) ClearPending(ctx context.Context, ownerID string) error {
	err := r.mutate(ctx, ownerID, false, func(o *Owner) error {
		if idx := o.PendingIndex(); idx > 0 {
			removeAt(o, idx)
		}
		return nil
	})
	if errors.Is(err, ErrOwnerNotFound) {
		return nil
	}
	return err
}

// Update applies fn to the account with puuid.
func (r *Repository) Update(ctx context.Context, ownerID, puuid string, fn func(*Record) error) error {
	return r.mutate(ctx, ownerID, false, func(o *Owner) error {
		idx := o.IndexOf(puuid)
		if idx == 0 {
			return ErrAccountNotFound
		}
		return fn(&o.Accounts[idx-1])
	})
}

// Switch makes the account at a 1-based index current.
func (r *Repository) Switch(ctx context.Context, ownerID string, index int) (*Record, error) {
	var out Record
	err := r.mutate(ctx, ownerID, false, func(o *Owner) error {
		if index < 1 || index > len(o.Accounts) {
			return ErrAccountIndex
		}
		o.Current = index
		out = o.Accounts[index-1].Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAccount removes one account by 1-based index, clamping the current
// selector. Removing the last account deletes the owner record.
func (r *Repository) DeleteAccount(ctx context.Context, ownerID string, index int) (*Record, error) {
	var removed Record
	err := r.mutate(ctx, ownerID, false, func(o *Owner) error {
		if index < 1 || index > len(o.Accounts) {
			return ErrAccountIndex
		}
		removed = o.Accounts[index-1].Clone()
		removeAt(o, index)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

func removeAt(o *Owner, index int) {
	o.Accounts = append(o.Accounts[:index-1], o.Accounts[index:]...)
	if index < o.Current {
		o.Current--
	}
	o.clampCurrent()
}

// DeleteOwner removes the whole owner record. Deleting a missing owner succeeds.
func (r *Repository) DeleteOwner(ctx context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend.Delete(ctx, ownerID)
}

// DeleteCredentials resets an account to Unauthenticated, keeping the entry and
// its side data so the owner must log in again explicitly.
func (r *Repository) DeleteCredentials(ctx context.Context, ownerID, puuid string) error {
	return r.Update(ctx, ownerID, puuid, func(rec *Record) error {
		rec.Auth = Unauthenticated{}
		return nil
	})
}

// MarkFetch records the outcome of a downstream fetch made with the account's
// session. Success resets the failure counter.
func (r *Repository) MarkFetch(ctx context.Context, ownerID, puuid string, ok bool, at time.Time) (int, error) {
	var failures int
	err := r.Update(ctx, ownerID, puuid, func(rec *Record) error {
		if ok {
			rec.FailedFetches = 0
			rec.LastFetchedAt = at
		} else {
			rec.FailedFetches++
		}
		failures = rec.FailedFetches
		return nil
	})
	return failures, err
}
