package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nandth/model-router-ai/models"
	"github.com/nandth/model-router-ai/repositories"
)

// AuditService emits one structured log line per routed request and
// persists the record asynchronously through a bounded worker pool
type AuditService struct {
	repo        repositories.RequestLogRepository
	logger      *zap.Logger
	eventChan   chan *models.RequestLog
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex
	dropped     atomic.Int64
	persisted   atomic.Int64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the record buffer channel
	WorkerCount int // Number of concurrent writers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 4,
	}
}

// NewAuditService creates a new AuditService instance. A nil repository
// keeps records in the log stream only.
func NewAuditService(repo repositories.RequestLogRepository, logger *zap.Logger, config Config) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuditService{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.RequestLog, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background writers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Bool("persistent", s.repo != nil))

	return nil
}

// Stop drains pending records, waiting at most timeout
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record logs the request record and queues it for persistence. It never
// blocks the request path: when the buffer is full the record is dropped
// from storage but has already been logged.
func (s *AuditService) Record(ctx context.Context, log *models.RequestLog) {
	if log == nil {
		return
	}
	s.emit(log)

	if s.repo == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		s.logger.Warn("audit service not running, request log not persisted",
			zap.String("request_id", log.RequestID))
		s.dropped.Add(1)
		return
	}

	select {
	case s.eventChan <- log:
	default:
		s.logger.Warn("audit buffer full, dropping request log",
			zap.String("request_id", log.RequestID))
		s.dropped.Add(1)
	}
}

// emit writes the record as one structured log line
func (s *AuditService) emit(log *models.RequestLog) {
	fields := []zap.Field{
		zap.String("request_id", log.RequestID),
		zap.Time("timestamp", log.Timestamp),
		zap.Int("prompt_chars", log.PromptChars),
		zap.Int("prompt_words", log.PromptWords),
		zap.String("prompt_preview", log.PromptPreview),
		zap.ByteString("features", log.Features),
		zap.Int("score", log.Score),
		zap.Strings("hard_trigger_reasons", log.HardTriggerReasons),
		zap.String("route_mode", log.RouteMode),
		zap.String("path", string(log.Path)),
		zap.String("initial_tier", log.InitialTier),
		zap.String("final_tier", log.FinalTier),
		zap.String("final_model", log.FinalModel),
		zap.Bool("escalated", log.Escalated),
		zap.Int("tokens_stage_a", log.TokensStageA),
		zap.Int("tokens_stage_b", log.TokensStageB),
		zap.Int("total_tokens", log.TotalTokens),
		zap.Int("tokens_saved", log.TokensSaved),
		zap.Float64("cost", log.Cost),
		zap.Float64("latency_ms", log.LatencyMs),
		zap.Bool("success", log.Success),
	}
	if log.StageAConfidence != nil {
		fields = append(fields,
			zap.Float64p("stage_a_confidence", log.StageAConfidence),
			zap.Boolp("stage_a_should_escalate", log.StageAShouldEscalate),
			zap.Strings("stage_a_reasons", log.StageAReasons),
			zap.Bool("stage_a_parse_error", log.StageAParseError),
		)
	}

	if log.ErrorMessage != nil {
		fields = append(fields, zap.Stringp("error", log.ErrorMessage))
		s.logger.Warn("request failed", fields...)
		return
	}
	s.logger.Info("request completed", fields...)
}

// worker persists records from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for log := range s.eventChan {
		if err := s.persist(log); err != nil {
			s.logger.Error("failed to persist request log",
				zap.Int("worker_id", id),
				zap.String("request_id", log.RequestID),
				zap.Error(err))
			continue
		}
		s.persisted.Add(1)
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) persist(log *models.RequestLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(ctx, log); err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
		Persisted:     s.persisted.Load(),
		Dropped:       s.dropped.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	Started       bool  `json:"started"`
	Persisted     int64 `json:"persisted"`
	Dropped       int64 `json:"dropped"`
}
