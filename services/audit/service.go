package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drdecide/clinic-gateway/cognito"
	"github.com/drdecide/clinic-gateway/models"
	"go.uber.org/zap"
)

// Writer persists audit logs; repositories.AuditRepository satisfies it
type Writer interface {
	Insert(ctx context.Context, log *models.AuthAuditLog) error
}

// Counter receives the fate of each event, typically to update metrics
type Counter interface {
	AuditEvent(result string)
}

// Event results reported to Counter
const (
	ResultWritten = "written"
	ResultDropped = "dropped"
	ResultFailed  = "failed"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log *models.AuthAuditLog
}

// RequestMeta carries the request fields recorded with a decision
type RequestMeta struct {
	RequestID string
	Method    string
	Path      string
	IPAddress string
	UserAgent string
}

// AuditService handles asynchronous audit logging
type AuditService struct {
	writer      Writer
	counter     Counter
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(writer Writer, logger *zap.Logger, config Config, counter Counter) *AuditService {
	if config.BufferSize <= 0 || config.WorkerCount <= 0 {
		config = DefaultConfig()
	}
	if counter == nil {
		counter = nopCounter{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &AuditService{
		writer:      writer,
		counter:     counter,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background workers
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
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service
// Waits for all pending events to be processed
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	// no sender holds the read lock past this point
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
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent logs an event asynchronously (non-blocking)
// Returns immediately, event is processed in background
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.counter.AuditEvent(ResultDropped)
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("outcome", string(event.Log.Outcome)),
			zap.String("request_id", event.Log.RequestID))
		return fmt.Errorf("audit event buffer full")
	}
}

// LogDecision records a guard decision
func (s *AuditService) LogDecision(decision cognito.AuthorizationDecision, meta RequestMeta) error {
	log := models.NewAuthAuditLog(decision.RequiredRole, outcomeOf(decision))
	if decision.Claims.Trusted() {
		log.WithIdentity(decision.Claims.Subject(), decision.ActualRole)
	}
	if decision.Err != nil {
		log.WithErrorKind(string(decision.Err.Kind)).
			WithDetails(map[string]string{"reason": decision.Err.Message})
	}
	log.WithRequest(meta.RequestID, meta.Method, meta.Path, meta.IPAddress, meta.UserAgent)

	return s.LogEvent(&AuditEvent{Log: log})
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.counter.AuditEvent(ResultFailed)
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("outcome", string(event.Log.Outcome)),
				zap.String("request_id", event.Log.RequestID))
			continue
		}
		s.counter.AuditEvent(ResultWritten)
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.writer.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
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
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

func outcomeOf(decision cognito.AuthorizationDecision) models.AccessOutcome {
	if decision.Allow {
		return models.AccessOutcomeAllowed
	}
	if decision.Err == nil {
		return models.AccessOutcomeForbidden
	}
	switch decision.Err.Class() {
	case cognito.ClassAuthorization:
		return models.AccessOutcomeForbidden
	case cognito.ClassUnavailable:
		return models.AccessOutcomeUnavailable
	default:
		return models.AccessOutcomeUnauthenticated
	}
}

type nopCounter struct{}

func (nopCounter) AuditEvent(string) {}
