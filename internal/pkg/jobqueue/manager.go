package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QuotaFox/internal/pkg/billing"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/database"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/env"
	metrics "github.com/ManuelReschke/QuotaFox/internal/pkg/metrics/counter"
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue              *Queue
	reconcileTicker    *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := envInt("JOBQUEUE_WORKERS", 5)
		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Start the pending-transaction reconciler - configurable interval
	reconcileInterval := time.Duration(envInt("RECONCILE_INTERVAL_MINUTES", 5)) * time.Minute
	m.reconcileTicker = time.NewTicker(reconcileInterval)
	m.wg.Add(1)
	go m.reconcileWorker(reconcileInterval)

	// Start counter flush worker (Redis -> DB) every 5 seconds
	m.counterFlushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	// Signal workers to stop. The channel stays closed (never nil) so a
	// worker re-entering its select still observes the shutdown; Start
	// replaces it for the next cycle.
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// reconcileWorker runs periodically to re-check pending transactions against
// the payment provider
func (m *Manager) reconcileWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started reconcile worker (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Reconcile worker stopping")
			return
		case <-m.reconcileTicker.C:
			log.Debug("[JobQueue Manager] Running reconcile sweep for pending transactions")
			if err := m.enqueuePendingReconciles(); err != nil {
				log.Errorf("[JobQueue Manager] Error enqueuing reconcile jobs: %v", err)
			}
		}
	}
}

// enqueuePendingReconciles finds transactions that have been pending longer
// than the configured age and schedules a provider verification for each.
func (m *Manager) enqueuePendingReconciles() error {
	db := database.GetDB()
	if db == nil {
		return nil
	}

	pendingAge := time.Duration(envInt("RECONCILE_PENDING_AGE_MINUTES", 15)) * time.Minute
	batchSize := envInt("RECONCILE_BATCH_SIZE", 100)
	cutoff := time.Now().Add(-pendingAge)

	repo := billing.NewRepository(db)
	pending, err := repo.ListPendingTransactionsOlderThan(cutoff, batchSize)
	if err != nil {
		return err
	}

	for i := range pending {
		if _, err := m.queue.EnqueueTransactionReconcile(pending[i].Reference); err != nil {
			log.Errorf("[JobQueue Manager] Failed to enqueue reconcile for %s: %v", pending[i].Reference, err)
		}
	}

	if len(pending) > 0 {
		log.Infof("[JobQueue Manager] Enqueued %d pending transactions for reconciliation", len(pending))
	}
	return nil
}

// counterFlushWorker periodically flushes in-memory counters from Redis to DB
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := metrics.FlushAll(); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func envInt(key string, fallback int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
