package util

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// CircuitBreakerConfig configures a breaker around an upstream dependency
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before OPEN
	ResetTimeout     time.Duration // OPEN -> HALF_OPEN delay
	Interval         time.Duration // CLOSED counter reset period, 0 = never
	MaxRequests      uint32        // trial requests allowed while HALF_OPEN
	// IsSuccessful classifies errors that must not count as failures
	// (e.g. not-found or quota stops). Nil counts every error.
	IsSuccessful func(err error) bool
}

// NewCircuitBreaker builds a gobreaker breaker that logs every state transition
func NewCircuitBreaker[T any](cfg CircuitBreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[T] {
	logger = OrNop(logger)
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fields := []zap.Field{
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			}
			if to == gobreaker.StateOpen {
				logger.Error("Circuit Breaker: OPENING circuit",
					append(fields, zap.Duration("reset_timeout", cfg.ResetTimeout))...)
				return
			}
			logger.Info("Circuit Breaker: State transition", fields...)
		},
	}
	if cfg.IsSuccessful != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || cfg.IsSuccessful(err)
		}
	}

	return gobreaker.NewCircuitBreaker[T](settings)
}

// IsCircuitOpen reports whether err was produced by a rejecting breaker
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
