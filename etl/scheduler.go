package etl

import (
	"log"
	"time"

	"github.com/lgd-analytics/maude-signals/config"
	"github.com/lgd-analytics/maude-signals/eventstore"
	"github.com/lgd-analytics/maude-signals/mart"
)

// Scheduler handles periodic mart refresh and retention cleanup, the
// same ticker + quit-channel shape as the teacher's Scheduler.
type Scheduler struct {
	cfg         *config.Config
	martBuilder *mart.MartBuilder
	store       *eventstore.Store
	ticker      *time.Ticker
	quit        chan struct{}
	lastCleanup time.Time
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg *config.Config, martBuilder *mart.MartBuilder, store *eventstore.Store) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		martBuilder: martBuilder,
		store:       store,
		quit:        make(chan struct{}),
	}
}

// Start begins the scheduling loop.
func (s *Scheduler) Start() {
	if !s.cfg.Scheduler.Enabled {
		log.Println("scheduler disabled by config")
		return
	}

	interval := time.Duration(s.cfg.Scheduler.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 60 * time.Minute
	}

	log.Printf("starting scheduler, interval=%v cleanup_time=%s\n", interval, s.cfg.Retention.CleanupTime)
	s.ticker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.RunJob()
			case <-s.quit:
				s.ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	if s.ticker != nil {
		close(s.quit)
	}
}

// RunJob refreshes the entity_month_rollup mart and runs the daily
// retention cleanup if due.
func (s *Scheduler) RunJob() {
	log.Println("[scheduler] starting scheduled refresh")

	if _, err := s.martBuilder.Refresh(); err != nil {
		log.Printf("[scheduler] mart refresh failed: %v\n", err)
	}

	s.checkAndRunCleanup()

	log.Println("[scheduler] job finished")
}

func (s *Scheduler) checkAndRunCleanup() {
	cleanupTimeStr := s.cfg.Retention.CleanupTime
	if cleanupTimeStr == "" {
		cleanupTimeStr = "06:00"
	}

	now := time.Now()
	target, err := time.Parse("15:04", cleanupTimeStr)
	if err != nil {
		log.Printf("[scheduler] invalid cleanup time format: %v", err)
		return
	}

	cleanupTarget := time.Date(now.Year(), now.Month(), now.Day(), target.Hour(), target.Minute(), 0, 0, now.Location())

	shouldRun := false
	if now.After(cleanupTarget) {
		if s.lastCleanup.IsZero() || s.lastCleanup.Before(cleanupTarget) {
			shouldRun = true
		}
	}

	if !shouldRun {
		return
	}

	log.Println("[scheduler] starting daily cleanup")
	appDB := s.store.App
	if appDB == nil {
		log.Printf("[scheduler] app store not open, skipping cleanup")
		return
	}

	cacheCutoff := now.AddDate(0, 0, -s.cfg.Retention.CacheDays).Format("2006-01-02 15:04:05")
	if _, err := appDB.Exec(`DELETE FROM signal_cache WHERE created_at < ?`, cacheCutoff); err != nil {
		log.Printf("[scheduler] cache cleanup failed: %v", err)
	}

	logCutoff := now.AddDate(0, 0, -s.cfg.Retention.LogDays).Format("2006-01-02 15:04:05")
	if _, err := appDB.Exec(`DELETE FROM signal_logs WHERE created_at < ?`, logCutoff); err != nil {
		log.Printf("[scheduler] log cleanup failed: %v", err)
	}

	s.lastCleanup = now
	log.Println("[scheduler] cleanup completed")
}
