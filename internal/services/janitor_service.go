package services

import (
	"context"
	"sync"
	"time"

	"github.com/syncflow/server/internal/observability"
	"github.com/syncflow/server/internal/repository"
)

// JanitorStatus is a point-in-time snapshot of the sweep loop.
type JanitorStatus struct {
	Running          bool      `json:"running"`
	LastRun          time.Time `json:"lastRun,omitempty"`
	LastRunDuration  string    `json:"lastRunDuration,omitempty"`
	TokensExpired    int64     `json:"tokensExpired"`
	TokensPurged     int64     `json:"tokensPurged"`
	TempUsersPurged  int64     `json:"tempUsersPurged"`
	KeySyncsPurged   int64     `json:"keySyncsPurged"`
	RevokedPurged    int64     `json:"revokedPurged"`
	JobsFailed       int64     `json:"jobsFailed"`
	NextScheduledRun time.Time `json:"nextScheduledRun,omitempty"`
}

// JanitorService sweeps the short-lived state the protocol leaves behind:
// pairing tokens past their TTL, resolved tokens and temp users nobody will
// come back for, unclaimed key sync envelopes, expired revocation entries
// and backfill jobs orphaned by a restart. Expiry itself never depends on
// the sweep; rows report themselves expired from their timestamps, the
// janitor just reclaims the space.
type JanitorService struct {
	pairingRepo repository.PairingTokenRepo
	userRepo    repository.UserRepo
	keySyncRepo repository.KeySyncRepo
	revokedRepo repository.RevokedTokenRepo
	jobRepo     repository.BackfillJobRepo
	interval    time.Duration
	logger      *observability.Logger

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	ticker   *time.Ticker
	status   JanitorStatus
}

// NewJanitorService creates a new JanitorService
func NewJanitorService(
	pairingRepo repository.PairingTokenRepo,
	userRepo repository.UserRepo,
	keySyncRepo repository.KeySyncRepo,
	revokedRepo repository.RevokedTokenRepo,
	jobRepo repository.BackfillJobRepo,
	interval time.Duration,
) *JanitorService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &JanitorService{
		pairingRepo: pairingRepo,
		userRepo:    userRepo,
		keySyncRepo: keySyncRepo,
		revokedRepo: revokedRepo,
		jobRepo:     jobRepo,
		interval:    interval,
		logger:      observability.GetLogger().WithField("component", "janitor"),
	}
}

// Start begins the background sweep loop.
func (s *JanitorService) Start() {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)
	s.status.Running = true
	s.status.NextScheduledRun = time.Now().Add(s.interval)
	s.mu.Unlock()

	s.logger.Infof("Janitor started (sweep every %s)", s.interval)

	go s.runSweep()

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.mu.Lock()
				s.status.NextScheduledRun = time.Now().Add(s.interval)
				s.mu.Unlock()
				s.runSweep()
			case <-s.stopChan:
				s.mu.Lock()
				s.ticker.Stop()
				s.ticker = nil
				s.running = false
				s.status.Running = false
				s.mu.Unlock()
				s.logger.Info("Janitor stopped")
				return
			}
		}
	}()
}

// Stop stops the sweep loop.
func (s *JanitorService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}
	close(s.stopChan)
}

// GetStatus returns the current sweep counters.
func (s *JanitorService) GetStatus() JanitorStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// runSweep performs one pass. Individual failures log and keep going; a
// missed sweep only means the garbage waits one more interval.
func (s *JanitorService) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	now := start.UTC()

	expired, err := s.pairingRepo.ExpireStale(ctx, now)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to expire pairing tokens")
	}

	// Resolved and expired rows linger briefly so status polls can report a
	// terminal state before the row vanishes.
	purged, err := s.pairingRepo.DeleteResolvedBefore(ctx, now.Add(-time.Hour))
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to purge pairing tokens")
	}

	tempUsers, err := s.userRepo.DeleteTemporaryBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to purge temporary users")
	}

	keySyncs, err := s.keySyncRepo.DeleteBefore(ctx, now.Add(-time.Hour))
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to purge key sync responses")
	}

	revoked, err := s.revokedRepo.DeleteExpired(ctx, now)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to purge revoked tokens")
	}

	jobs, err := s.jobRepo.FailStale(ctx, now.Add(-10*time.Minute), "job stalled; restart backfill to resume")
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Failed to fail stale backfill jobs")
	}

	duration := time.Since(start)

	s.mu.Lock()
	s.status.LastRun = start
	s.status.LastRunDuration = duration.String()
	s.status.TokensExpired += expired
	s.status.TokensPurged += purged
	s.status.TempUsersPurged += tempUsers
	s.status.KeySyncsPurged += keySyncs
	s.status.RevokedPurged += revoked
	s.status.JobsFailed += jobs
	s.mu.Unlock()

	if expired+purged+tempUsers+keySyncs+revoked+jobs > 0 {
		s.logger.WithFields(map[string]interface{}{
			"expired_tokens": expired,
			"purged_tokens":  purged,
			"temp_users":     tempUsers,
			"key_syncs":      keySyncs,
			"revoked":        revoked,
			"stale_jobs":     jobs,
			"duration":       duration.String(),
		}).Info("Sweep reclaimed expired state")
	}
}
