// Package workflow runs the background processing loop: it claims pending
// episode jobs one at a time, runs them through the pipeline, and fires
// scheduled feed polls. Startup reclaims any work stranded by a previous
// crash before new work begins.
package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"podscribe/internal/config"
	"podscribe/internal/logging"
	"podscribe/internal/poller"
	"podscribe/internal/store"
)

// Processor runs one claimed episode through the pipeline.
type Processor interface {
	Process(ctx context.Context, episodeID string) error
}

// PollRunner sweeps subscriptions for new episodes.
type PollRunner interface {
	PollAll(ctx context.Context) (poller.Result, error)
}

// Manager coordinates episode processing and scheduled polling.
type Manager struct {
	cfg       *config.Config
	store     *store.Store
	processor Processor
	poller    PollRunner
	logger    *slog.Logger

	pollInterval  time.Duration
	retryInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cron    *cron.Cron
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, st *store.Store, processor Processor, pollRunner PollRunner, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:           cfg,
		store:         st,
		processor:     processor,
		poller:        pollRunner,
		logger:        logging.NewComponentLogger(logger, "workflow"),
		pollInterval:  time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
	}
}

// Start recovers stranded work, schedules feed polling, and begins the
// processing loop. It returns immediately; work happens on background
// goroutines until Stop or context cancellation.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	if err := m.recoverStranded(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.cfg.Poller.Schedule, func() {
		if _, err := m.poller.PollAll(runCtx); err != nil {
			m.logger.Error("scheduled poll failed", logging.Error(err))
		}
	}); err != nil {
		cancel()
		m.running = false
		return err
	}
	m.cron.Start()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(runCtx)
	}()

	m.logger.Info("workflow started",
		logging.Duration("queue_poll_interval", m.pollInterval),
		logging.String("poll_schedule", m.cfg.Poller.Schedule))
	return nil
}

// Stop halts the processing loop and scheduler, waiting for in-flight work.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	cronStop := m.cron
	m.mu.Unlock()

	if cronStop != nil {
		<-cronStop.Stop().Done()
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

// recoverStranded resets episodes and ledger entries a dead worker left in
// processing states.
func (m *Manager) recoverStranded(ctx context.Context) error {
	episodes, err := m.store.ResetStuckProcessing(ctx)
	if err != nil {
		return err
	}
	entries, err := m.store.ResetStuckLedger(ctx)
	if err != nil {
		return err
	}
	if episodes > 0 || entries > 0 {
		m.logger.Info("recovered stranded work",
			logging.Int64("episodes", episodes),
			logging.Int64("ledger_entries", entries))
	}
	return nil
}

func (m *Manager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		m.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain claims and processes pending episodes until the queue is empty or
// the context ends. Pipeline failures are already recorded on the episode;
// the loop backs off briefly so a persistent fault does not spin.
func (m *Manager) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		episode, err := m.store.NextPending(ctx)
		if err != nil {
			m.logger.Error("failed to query pending episodes", logging.Error(err))
			return
		}
		if episode == nil {
			return
		}

		claimed, err := m.store.ClaimEpisode(ctx, episode.ID)
		if err != nil {
			m.logger.Error("failed to claim episode", logging.Error(err))
			return
		}
		if !claimed {
			continue
		}

		m.runOne(ctx, episode.ID)
	}
}

func (m *Manager) runOne(ctx context.Context, episodeID string) {
	runCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	err := m.processor.Process(runCtx, episodeID)
	ledgerStatus := store.LedgerCompleted
	if err != nil {
		ledgerStatus = store.LedgerFailed
		m.logger.Error("episode processing failed",
			logging.String(logging.FieldEpisodeID, episodeID),
			logging.Error(err))
	}
	if statusErr := m.store.SetLedgerStatusByEpisode(ctx, episodeID, ledgerStatus); statusErr != nil {
		m.logger.Error("failed to update ledger status", logging.Error(statusErr))
	}

	if err != nil {
		if sleepErr := sleepCtx(ctx, m.retryInterval); sleepErr != nil {
			return
		}
	}
}

const stageTimeout = 4 * time.Hour

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
