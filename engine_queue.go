package goSession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSession/internal/logging"
	"github.com/MrEthical07/goSession/internal/queue"
)

type authTask = queue.Task[*Result]

// Login links a provider account to ownerID with a username and password.
//
// When the provider asks for a second factor the returned error is a
// *MFAChallengeError, Result.MFA is set, and the login stays pending until
// [Manager.SubmitMFA]. A new login replaces any pending one.
//
// With queuing enabled Login blocks until [Manager.RunQueue] or
// [Manager.ProcessQueue] has executed it.
func (m *Manager) Login(ctx context.Context, ownerID, login, password string) (*Result, error) {
	if err := m.ready(); err != nil {
		return failure(err), err
	}
	return m.run(ctx, queue.OpUsernamePassword, m.loginTask(ownerID, login, password))
}

// SubmitMFA completes the owner's pending login with a second-factor code. A
// wrong code returns ErrMFAAttemptFailed and the login stays pending.
func (m *Manager) SubmitMFA(ctx context.Context, ownerID, code string) (*Result, error) {
	if err := m.ready(); err != nil {
		return failure(err), err
	}
	return m.run(ctx, queue.OpMFACode, m.mfaTask(ownerID, code))
}

// EnqueueLogin is the non-blocking form of [Manager.Login]. With queuing
// enabled it returns a Result with Queued set and a CorrelationID to poll;
// otherwise the login runs inline and its outcome is returned.
func (m *Manager) EnqueueLogin(ctx context.Context, ownerID, login, password string) (*Result, error) {
	if err := m.ready(); err != nil {
		return failure(err), err
	}
	return m.enqueue(ctx, queue.OpUsernamePassword, m.loginTask(ownerID, login, password))
}

// EnqueueMFA is the non-blocking form of [Manager.SubmitMFA].
func (m *Manager) EnqueueMFA(ctx context.Context, ownerID, code string) (*Result, error) {
	if err := m.ready(); err != nil {
		return failure(err), err
	}
	return m.enqueue(ctx, queue.OpMFACode, m.mfaTask(ownerID, code))
}

// EnqueueRefresh is the non-blocking form of [Manager.RefreshToken].
func (m *Manager) EnqueueRefresh(ctx context.Context, ownerID string, index int) (*Result, error) {
	if err := m.ready(); err != nil {
		return failure(err), err
	}
	rec, _, err := m.lookup(ctx, ownerID, index)
	if err != nil {
		return failure(err), err
	}
	puuid := rec.PUUID
	return m.enqueue(ctx, queue.OpCookieRedeem, func(ctx context.Context) (*Result, error) {
		return m.refresh(ctx, ownerID, puuid)
	})
}

// EnqueueNullTest enqueues an operation that does nothing. It measures queue
// latency without touching the provider.
func (m *Manager) EnqueueNullTest(ctx context.Context) (*Result, error) {
	if err := m.ready(); err != nil {
		return failure(err), err
	}
	return m.enqueue(ctx, queue.OpNullTest, func(context.Context) (*Result, error) {
		return &Result{Success: true}, nil
	})
}

// PollAuth reports the state of a queued operation. A finished outcome is
// returned exactly once; later polls for the same id return
// ErrQueueResultNotFound.
func (m *Manager) PollAuth(correlationID uint64) (*QueueStatus, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	st := m.queue.Poll(correlationID)
	switch st.State {
	case queue.StateQueued:
		return &QueueStatus{State: QueueStateQueued, Ahead: st.Ahead}, nil
	case queue.StateProcessing:
		return &QueueStatus{State: QueueStateProcessing}, nil
	case queue.StateDone:
		m.metricInc(MetricQueueResultConsumed)
		res, err := m.settle(*st.Outcome)
		return &QueueStatus{State: QueueStateDone, Result: res, Err: err}, nil
	default:
		return nil, ErrQueueResultNotFound
	}
}

// WaitAuth blocks until the queued operation finishes or ctx ends, then
// consumes its outcome. Giving up does not cancel the operation; its outcome
// stays available to [Manager.PollAuth].
func (m *Manager) WaitAuth(ctx context.Context, correlationID uint64) (*Result, error) {
	if err := m.ready(); err != nil {
		return failure(err), err
	}

	out, err := m.queue.Wait(ctx, correlationID)
	if err != nil {
		return failure(err), err
	}
	m.metricInc(MetricQueueResultConsumed)
	return m.settle(out)
}

// ProcessQueue executes the oldest queued operation. It reports false when the
// queue was empty. Schedulers that own their own ticker call it at a fixed cadence.
func (m *Manager) ProcessQueue(ctx context.Context) bool {
	if m.ready() != nil {
		return false
	}
	return m.queue.ProcessNext(ctx)
}

// RunQueue processes one queued operation per tick until ctx ends. Ticks come
// from [Builder.WithTicks] or, by default, a ticker at Config.Queue.Interval.
func (m *Manager) RunQueue(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	if !m.config.Queue.Enabled {
		return nil
	}

	ticks := m.ticks
	if ticks == nil {
		t := time.NewTicker(m.config.Queue.Interval)
		defer t.Stop()
		ticks = t.C
	}
	m.logger.InfoContext(ctx, "auth queue started", logging.Duration(m.config.Queue.Interval))
	err := m.queue.Run(ctx, ticks)
	m.logger.InfoContext(ctx, "auth queue stopped", logging.Err(err))
	return err
}

// QueueLen returns the number of operations waiting to run.
func (m *Manager) QueueLen() int {
	if m == nil {
		return 0
	}
	return m.queue.Len()
}

func (m *Manager) loginTask(ownerID, login, password string) authTask {
	return func(ctx context.Context) (res *Result, err error) {
		ctx, span := m.startSpan(ctx, "session.login", ownerID)
		defer func() { endSpan(span, res, err) }()

		start := m.now()
		c, err := m.exchanger.Login(ctx, ownerID, login, password)
		if err != nil {
			res = failure(err)
			if res.MFA {
				m.metricInc(MetricMFARequired)
				m.emitAudit(ctx, auditEventMFARequired, ownerID, nil, auditFields{
					metadata: map[string]string{"method": res.Method},
				})
			} else {
				m.metricInc(MetricLoginFailure)
				m.noteFailure(ctx, ownerID, "", err)
				m.emitAudit(ctx, auditEventLoginFailure, ownerID, err, auditFields{})
			}
			m.logOutcome(ctx, "login", ownerID, res, err, start)
			return res, err
		}

		res = completed(c)
		m.metricInc(MetricLoginSuccess)
		m.emitAudit(ctx, auditEventLoginSuccess, ownerID, nil, auditFields{puuid: c.Record.PUUID})
		m.logOutcome(ctx, "login", ownerID, res, nil, start)
		return res, nil
	}
}

func (m *Manager) mfaTask(ownerID, code string) authTask {
	return func(ctx context.Context) (res *Result, err error) {
		ctx, span := m.startSpan(ctx, "session.submit_mfa", ownerID)
		defer func() { endSpan(span, res, err) }()

		start := m.now()
		c, err := m.exchanger.SubmitMFA(ctx, ownerID, code)
		if err != nil {
			res = failure(err)
			if errors.Is(err, ErrMFAAttemptFailed) {
				m.metricInc(MetricMFAAttemptFailed)
			}
			m.noteFailure(ctx, ownerID, "", err)
			m.emitAudit(ctx, auditEventMFAFailure, ownerID, err, auditFields{})
			m.logOutcome(ctx, "submit_mfa", ownerID, res, err, start)
			return res, err
		}

		res = completed(c)
		m.metricInc(MetricMFASuccess)
		m.emitAudit(ctx, auditEventMFASuccess, ownerID, nil, auditFields{puuid: c.Record.PUUID})
		m.logOutcome(ctx, "submit_mfa", ownerID, res, nil, start)
		return res, nil
	}
}

// run executes task serialized with every other exchange and returns its
// outcome. With queuing enabled the task waits its turn in the queue.
func (m *Manager) run(ctx context.Context, op queue.Op, task authTask) (*Result, error) {
	if !m.config.Queue.Enabled {
		return m.settle(m.queue.Do(ctx, op, task))
	}

	t := m.queue.Enqueue(op, withSource(ctx, task))
	m.metricInc(MetricQueueEnqueued)
	out, err := m.queue.Wait(ctx, t.ID)
	if err != nil {
		res := failure(err)
		res.Queued = true
		res.CorrelationID = t.ID
		res.RequestID = t.RequestID
		return res, err
	}
	m.metricInc(MetricQueueResultConsumed)
	return m.settle(out)
}

// enqueue queues task and returns its correlation id, or runs it inline when
// queuing is disabled.
func (m *Manager) enqueue(ctx context.Context, op queue.Op, task authTask) (*Result, error) {
	if !m.config.Queue.Enabled {
		return m.settle(m.queue.Do(ctx, op, task))
	}

	t := m.queue.Enqueue(op, withSource(ctx, task))
	m.metricInc(MetricQueueEnqueued)
	m.logger.DebugContext(ctx, "auth operation queued",
		logging.Operation(op.String()),
		logging.CorrelationID(t.ID),
		logging.RequestID(t.RequestID),
	)
	return &Result{Queued: true, CorrelationID: t.ID, RequestID: t.RequestID}, nil
}

// withSource carries the enqueuer's source onto the queue worker's context.
func withSource(ctx context.Context, task authTask) authTask {
	source := sourceFromContext(ctx)
	if source == "" {
		return task
	}
	return func(ctx context.Context) (*Result, error) {
		return task(WithSource(ctx, source))
	}
}

// settle turns a queue outcome into a caller-facing result. Recovered panics
// become transport failures.
func (m *Manager) settle(out queue.Outcome[*Result]) (*Result, error) {
	err := out.Err
	if errors.Is(err, queue.ErrTaskPanicked) {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}
	res := out.Value
	if res == nil {
		res = failure(err)
		if err == nil {
			res.Success = true
		}
	}
	res.CorrelationID = out.ID
	res.RequestID = out.RequestID
	return res, err
}
