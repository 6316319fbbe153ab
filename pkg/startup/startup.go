// Package startup starts the service's dependencies (database, redis, kafka, http) in dependency
// order, retrying failed attempts with Fibonacci backoff, and stops them in reverse.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

// Func adapts plain functions to Dependency. A nil StopFn stops nothing.
type Func struct {
	Name    string
	Needs   []string
	StartFn func(ctx context.Context) error
	StopFn  func(ctx context.Context) error
}

func (f Func) GetName() string     { return f.Name }
func (f Func) DependsOn() []string { return f.Needs }

func (f Func) Start(ctx context.Context) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

type Startup struct {
	logger      ectologger.Logger
	order       []string
	deps        map[string]Dependency
	statuses    map[string]Status
	started     []string
	maxAttempts int
	backoffUnit time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Startup{
		logger:      logger,
		deps:        make(map[string]Dependency),
		statuses:    make(map[string]Status),
		maxAttempts: maxAttempts,
		backoffUnit: time.Second,
	}
}

// Add registers a dependency. Dependencies start in registration order unless DependsOn says
// otherwise.
func (s *Startup) Add(deps ...Dependency) *Startup {
	for _, d := range deps {
		if _, ok := s.deps[d.GetName()]; !ok {
			s.order = append(s.order, d.GetName())
		}
		s.deps[d.GetName()] = d
	}
	return s
}

// Status returns the status of a registered dependency.
func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

func (s *Startup) Start(ctx context.Context) error {
	var lastErr error

	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		log := s.logger.WithContext(ctx).WithField("attempt", attempt)
		log.Info("Beginning startup attempt")

		lastErr = nil
		for _, name := range s.order {
			if err := s.startDependency(ctx, name, nil); err != nil {
				log.WithError(err).WithField("dependency", name).Error("Startup attempt failed")
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(a) * s.backoffUnit
		log.WithField("wait", wait.String()).Info("Retrying startup")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Startup) startDependency(ctx context.Context, name string, path []string) error {
	if s.statuses[name] == StatusStarted {
		return nil
	}
	for _, p := range path {
		if p == name {
			return fmt.Errorf("dependency cycle: %v -> %s", path, name)
		}
	}
	dep, ok := s.deps[name]
	if !ok {
		return fmt.Errorf("unknown dependency %q", name)
	}

	for _, needed := range dep.DependsOn() {
		if err := s.startDependency(ctx, needed, append(path, name)); err != nil {
			return err
		}
	}

	log := s.logger.WithContext(ctx).WithField("dependency", name)
	log.Info("Starting dependency")
	s.statuses[name] = StatusPending
	if err := dep.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	s.statuses[name] = StatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops every started dependency in reverse start order. All are attempted; the first error
// is returned.
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		log := s.logger.WithContext(ctx).WithField("dependency", name)
		if err := s.deps[name].Stop(ctx); err != nil {
			log.WithError(err).Error("Failed to stop dependency")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.statuses[name] = StatusStopped
		log.Info("Dependency stopped")
	}
	s.started = nil
	return firstErr
}
