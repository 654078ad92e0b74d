package worker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/queue"
)

const retentionInterval = 5 * time.Minute

// PoolStatus is one pool's health snapshot.
type PoolStatus struct {
	Running     bool `json:"running"`
	Paused      bool `json:"paused"`
	Active      int  `json:"active"`
	Concurrency int  `json:"concurrency"`
}

// Status is the manager-level health snapshot.
type Status struct {
	Healthy bool                           `json:"healthy"`
	Pools   map[model.JobFamily]PoolStatus `json:"pools"`
}

// Manager owns the pools and the retention purger.
type Manager struct {
	queue  *queue.Queue
	pools  map[model.JobFamily]*Pool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates an empty Manager.
func NewManager(q *queue.Queue) *Manager {
	return &Manager{
		queue: q,
		pools: make(map[model.JobFamily]*Pool),
	}
}

// Register adds a pool. Must be called before Start.
func (m *Manager) Register(p *Pool) error {
	if _, dup := m.pools[p.Family()]; dup {
		return eris.Errorf("worker: pool for %s already registered", p.Family())
	}
	m.pools[p.Family()] = p
	return nil
}

// Pool returns the pool for a family, or nil.
func (m *Manager) Pool(family model.JobFamily) *Pool {
	return m.pools[family]
}

// Start launches every pool and the retention ticker.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	for _, p := range m.pools {
		p.Start(ctx)
	}

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(retentionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := m.queue.PurgeExpired(ctx)
				if err != nil {
					zap.L().Warn("job retention purge failed", zap.Error(err))
					continue
				}
				if n > 0 {
					zap.L().Info("purged finished jobs", zap.Int64("deleted", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// PauseAll pauses intake on every pool.
func (m *Manager) PauseAll() {
	for _, p := range m.pools {
		p.Pause()
	}
}

// ResumeAll resumes intake on every pool.
func (m *Manager) ResumeAll() {
	for _, p := range m.pools {
		p.Resume()
	}
}

// Health reports per-pool state. Unhealthy when any pool is not running.
func (m *Manager) Health() Status {
	st := Status{Healthy: true, Pools: make(map[model.JobFamily]PoolStatus, len(m.pools))}
	for family, p := range m.pools {
		ps := PoolStatus{
			Running:     p.Running(),
			Paused:      p.Paused(),
			Active:      p.Active(),
			Concurrency: p.concurrency,
		}
		if !ps.Running {
			st.Healthy = false
		}
		st.Pools[family] = ps
	}
	return st
}

// Shutdown stops intake, waits up to grace for in-flight jobs to drain,
// then cancels whatever is left.
func (m *Manager) Shutdown(grace time.Duration) {
	zap.L().Info("worker manager shutting down", zap.Duration("grace", grace))
	m.PauseAll()

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if m.activeJobs() == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if n := m.activeJobs(); n > 0 {
		zap.L().Warn("grace period elapsed, cancelling in-flight jobs", zap.Int("active", n))
	}

	for _, p := range m.pools {
		p.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	zap.L().Info("worker manager stopped")
}

func (m *Manager) activeJobs() int {
	total := 0
	for _, p := range m.pools {
		total += p.Active()
	}
	return total
}
