package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/angelmondragon/stockhold-backend/internal/notifications"
	"github.com/angelmondragon/stockhold-backend/pkg/config"
	"github.com/angelmondragon/stockhold-backend/pkg/logger"
)

const (
	defaultBatchSize  = 50
	defaultPollMs     = 5000
	defaultMaxRetries = notifications.DefaultMaxRetries
	maxBackoff        = time.Minute
	jitterWindow      = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type pinger interface {
	Ping(context.Context) error
}

type deliveryDispatcher interface {
	ProcessPending(ctx context.Context, maxRetries int) (notifications.DeliveryResult, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         pinger
	Transport  pinger
	Dispatcher deliveryDispatcher
}

// Service drains pending notifications on a poll loop.
type Service struct {
	logg         *logger.Logger
	db           pinger
	transport    pinger
	dispatcher   deliveryDispatcher
	batchSize    int
	maxRetries   int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("notification dispatcher is required")
	}

	batch := params.Config.Notifications.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.Notifications.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	retries := params.Config.Notifications.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		transport:    params.Transport,
		dispatcher:   params.Dispatcher,
		batchSize:    batch,
		maxRetries:   retries,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if s.transport != nil {
		if err := pingDependency(ctx, s.logg, "email transport", s.transport.Ping); err != nil {
			return err
		}
	}
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	interval := s.pollInterval
	if interval <= 0 {
		interval = time.Duration(defaultPollMs) * time.Millisecond
	}
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "notification worker context canceled")
			return ctx.Err()
		default:
		}

		full, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "notification batch error", err)
			backoff = nextBackoff(backoff, interval, maxBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if full {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// processBatch runs one delivery pass and reports whether the batch was full,
// in which case more work is likely waiting.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	result, err := s.dispatcher.ProcessPending(ctx, s.maxRetries)
	if err != nil {
		return false, err
	}
	return result.Total >= s.batchSize && result.Failed+result.Errors < result.Total, nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
