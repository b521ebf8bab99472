package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	goSession "github.com/MrEthical07/goSession"
)

type loadtestConfig struct {
	owners      int
	concurrency int
	authOps     int
	refreshes   int
	latency     time.Duration
}

func newLoadtestCmd(opts *options) *cobra.Command {
	lc := loadtestConfig{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive a burst of logins, reads and refreshes through the manager",
		Long: `Loadtest links one account per synthetic owner through the auth queue, then
measures stored-session reads and queued refreshes. Unless --provider-url is
given it runs against the built-in mock provider.

Queued phases are bounded by --queue-interval; lower it for larger bursts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lc.owners <= 0 || lc.concurrency <= 0 || lc.authOps < 0 || lc.refreshes < 0 {
				return fmt.Errorf("owners and concurrency must be > 0, ops must be >= 0")
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}

			mock := newMockProvider(lc.latency)
			if opts.providerBase == "" {
				srv := httptest.NewServer(mock.Handler())
				defer srv.Close()
				opts.providerBase = srv.URL
			}

			m, cleanup, err := opts.build(opts.config(), logger)
			if err != nil {
				return err
			}
			defer cleanup()
			defer m.Close(context.Background())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() { _ = m.RunQueue(ctx) }()

			report, err := runLoadtest(ctx, m, lc)
			if err != nil {
				return err
			}
			report.print(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "provider calls: %d\n", mock.Calls())
			return nil
		},
	}

	cmd.Flags().IntVar(&lc.owners, "owners", 20, "synthetic owners to link")
	cmd.Flags().IntVar(&lc.concurrency, "concurrency", 8, "concurrent workers per phase")
	cmd.Flags().IntVar(&lc.authOps, "auth-ops", 10000, "stored-session reads")
	cmd.Flags().IntVar(&lc.refreshes, "refreshes", 20, "queued refreshes")
	cmd.Flags().DurationVar(&lc.latency, "mock-latency", 0, "artificial latency per mock provider call")
	return cmd
}

type loadtestReport struct {
	login   phaseStats
	auth    phaseStats
	refresh phaseStats
}

func (r loadtestReport) print(w io.Writer) {
	fmt.Fprintln(w, "---- results ----")
	printStats(w, "login", r.login)
	printStats(w, "auth", r.auth)
	printStats(w, "refresh", r.refresh)
}

func ownerName(i int) string { return fmt.Sprintf("owner-%d", i) }

func runLoadtest(ctx context.Context, m *goSession.Manager, lc loadtestConfig) (loadtestReport, error) {
	var report loadtestReport

	report.login = runPhase(lc.owners, lc.concurrency, func(i int) error {
		res, err := m.EnqueueLogin(ctx, ownerName(i), fmt.Sprintf("player%d", i), "hunter2")
		_, err = settle(ctx, m, res, err)
		return err
	})
	if report.login.failures == int64(lc.owners) {
		return report, fmt.Errorf("every login failed")
	}

	report.auth = runPhase(lc.authOps, lc.concurrency, func(int) error {
		_, err := m.AuthUser(ctx, ownerName(rand.IntN(lc.owners)), 0)
		return err
	})

	report.refresh = runPhase(lc.refreshes, lc.concurrency, func(int) error {
		res, err := m.EnqueueRefresh(ctx, ownerName(rand.IntN(lc.owners)), 0)
		_, err = settle(ctx, m, res, err)
		return err
	})
	return report, nil
}

// settle waits for a queued result; inline results pass through.
func settle(ctx context.Context, m *goSession.Manager, res *goSession.Result, err error) (*goSession.Result, error) {
	if err != nil || res == nil || !res.Queued {
		return res, err
	}
	return m.WaitAuth(ctx, res.CorrelationID)
}

// runPhase runs n operations over the given number of workers and records
// per-operation latency.
func runPhase(n, concurrency int, op func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, n)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(cursor.Add(1)) - 1
				if i >= n {
					return
				}
				t0 := time.Now()
				err := op(i)
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	slices.Sort(samples)
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
