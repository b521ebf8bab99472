package goSession

import (
	"context"

	"github.com/MrEthical07/goSession/account"
	"github.com/MrEthical07/goSession/internal/logging"
)

// Accounts returns a copy of every account linked to ownerID.
func (m *Manager) Accounts(ctx context.Context, ownerID string) (*account.Owner, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.repo.Get(ctx, ownerID)
}

// SwitchAccount makes the account at a 1-based index the owner's current one.
func (m *Manager) SwitchAccount(ctx context.Context, ownerID string, index int) (*account.Record, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	rec, err := m.repo.Switch(ctx, ownerID, index)
	if err != nil {
		return nil, err
	}
	m.emitAudit(ctx, auditEventAccountSwitched, ownerID, nil, auditFields{puuid: rec.PUUID})
	return rec, nil
}

// DeleteUser removes the account at a 1-based index, or the whole owner record
// when index is 0. Removing the last account removes the owner record too.
func (m *Manager) DeleteUser(ctx context.Context, ownerID string, index int) error {
	if err := m.ready(); err != nil {
		return err
	}

	if index == 0 {
		if err := m.repo.DeleteOwner(ctx, ownerID); err != nil {
			return err
		}
		m.metricInc(MetricOwnerDeleted)
		m.emitAudit(ctx, auditEventOwnerDeleted, ownerID, nil, auditFields{})
		m.logger.InfoContext(ctx, "owner deleted", logging.Operation("delete_user"), logging.OwnerHash(ownerID))
		return nil
	}

	rec, err := m.repo.DeleteAccount(ctx, ownerID, index)
	if err != nil {
		return err
	}
	m.metricInc(MetricAccountDeleted)
	m.emitAudit(ctx, auditEventAccountDeleted, ownerID, nil, auditFields{puuid: rec.PUUID})
	m.logger.InfoContext(ctx, "account deleted",
		logging.Operation("delete_user"),
		logging.OwnerHash(ownerID),
		logging.PUUID(rec.PUUID),
	)
	return nil
}

// DeleteCredentials drops the session and reauth material of the account at
// index (0 selects the current account). The account entry and its alerts
// stay, and the owner must log in again.
func (m *Manager) DeleteCredentials(ctx context.Context, ownerID string, index int) error {
	if err := m.ready(); err != nil {
		return err
	}

	rec, _, err := m.lookup(ctx, ownerID, index)
	if err != nil {
		return err
	}
	if rec.PUUID == "" {
		// a pending login has no account yet
		return m.repo.ClearPending(ctx, ownerID)
	}
	if err := m.repo.DeleteCredentials(ctx, ownerID, rec.PUUID); err != nil {
		return err
	}
	m.metricInc(MetricCredentialsPurged)
	m.emitAudit(ctx, auditEventCredentialsPurged, ownerID, nil, auditFields{
		puuid:    rec.PUUID,
		metadata: map[string]string{"reason": "requested"},
	})
	return nil
}

// MarkFetch records whether a downstream fetch made with the account's session
// succeeded. It returns the consecutive failure count.
func (m *Manager) MarkFetch(ctx context.Context, ownerID string, index int, ok bool) (int, error) {
	if err := m.ready(); err != nil {
		return 0, err
	}

	rec, _, err := m.lookup(ctx, ownerID, index)
	if err != nil {
		return 0, err
	}
	return m.repo.MarkFetch(ctx, ownerID, rec.PUUID, ok, m.now())
}
