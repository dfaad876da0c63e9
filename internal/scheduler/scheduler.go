// Package scheduler 定期バッチ駆動
// MQ を経由しなかった（あるいは発行に失敗した）pending 注文を定期的に回収する
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/atomic"

	"github.com/Tohoso/ai-fortune-service/internal/pipeline"
	"github.com/Tohoso/ai-fortune-service/pkg/errorutil"
	"github.com/Tohoso/ai-fortune-service/pkg/logger"
)

// BatchRunner バッチ実行（pipeline.RunBatch）
type BatchRunner interface {
	RunBatch(ctx context.Context, maxCount int) (*pipeline.BatchResult, error)
}

// State スケジューラの現在状態（管理 API で公開）
type State struct {
	Running       bool       `json:"running"`
	Spec          string     `json:"spec"`
	NextRun       *time.Time `json:"nextRun,omitempty"`
	LastRun       *time.Time `json:"lastRun,omitempty"`
	LastProcessed int        `json:"lastProcessed"`
	LastError     string     `json:"lastError,omitempty"`
}

// Scheduler cron でバッチを回す
type Scheduler struct {
	spec       string
	batchLimit int
	runner     BatchRunner
	log        logger.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	running *atomic.Bool
	ticking *atomic.Bool // 実行の重なり防止

	mu            sync.Mutex
	lastRun       *time.Time
	lastProcessed int
	lastError     string
}

// New 创建スケジューラ
func New(spec string, batchLimit int, runner BatchRunner, log logger.Logger) *Scheduler {
	return &Scheduler{
		spec:       spec,
		batchLimit: batchLimit,
		runner:     runner,
		log:        log,
		running:    atomic.NewBool(false),
		ticking:    atomic.NewBool(false),
	}
}

// Start cron を起動する（冪等）
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.running.CAS(false, true) {
		return errorutil.AlreadyExists("scheduler already running")
	}

	c := cron.New()
	id, err := c.AddFunc(s.spec, func() { s.tick(ctx) })
	if err != nil {
		s.running.Store(false)
		return errorutil.Validation("invalid cron spec %q: %v", s.spec, err)
	}

	s.cron = c
	s.entryID = id
	c.Start()
	s.log.Infof(ctx, "[Scheduler] Started: spec=%s, batchLimit=%d", s.spec, s.batchLimit)
	return nil
}

// Stop cron を停止し、走行中の tick の完了を待つ
func (s *Scheduler) Stop() {
	if !s.running.CAS(true, false) {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Infof(context.Background(), "[Scheduler] Stopped")
}

// RunNow バッチを即時実行する（管理 API の手動トリガー）
func (s *Scheduler) RunNow(ctx context.Context) (*pipeline.BatchResult, error) {
	if !s.ticking.CAS(false, true) {
		return nil, errorutil.AlreadyExists("batch already in progress")
	}
	defer s.ticking.Store(false)
	return s.run(ctx)
}

// Status 現在状態を返す
func (s *Scheduler) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Running:       s.running.Load(),
		Spec:          s.spec,
		LastRun:       s.lastRun,
		LastProcessed: s.lastProcessed,
		LastError:     s.lastError,
	}
	if st.Running && s.cron != nil {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

// tick cron からの 1 回分の実行
func (s *Scheduler) tick(ctx context.Context) {
	if !s.ticking.CAS(false, true) {
		s.log.Warnf(ctx, "[Scheduler] Previous batch still running, skipping tick")
		return
	}
	defer s.ticking.Store(false)

	if _, err := s.run(ctx); err != nil {
		s.log.Errorf(ctx, "[Scheduler] Batch failed: %v", err)
	}
}

func (s *Scheduler) run(ctx context.Context) (*pipeline.BatchResult, error) {
	started := time.Now()
	result, err := s.runner.RunBatch(ctx, s.batchLimit)

	s.mu.Lock()
	s.lastRun = &started
	if err != nil {
		s.lastError = err.Error()
		s.lastProcessed = 0
	} else {
		s.lastError = ""
		s.lastProcessed = result.Processed
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	s.log.Infof(ctx, "[Scheduler] Batch complete: processed=%d, succeeded=%d, failed=%d",
		result.Processed, result.Succeeded, result.Failed)
	return result, nil
}
