// Package cron drives the agent's scheduled prompts: a tick loop evaluates
// each enabled CronJob's interval (and optional active-hours window), fires
// it as a synthetic inbound message when due, and feeds the outcome back
// through the store's consecutive-failure circuit breaker.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/pico-agents/coreagent/pkg/bus"
	"github.com/pico-agents/coreagent/pkg/logger"
	"github.com/pico-agents/coreagent/pkg/model"
	"github.com/pico-agents/coreagent/pkg/store"
)

// DeliverFunc runs one cron job's prompt against its target conversation
// and returns a short result summary. Errors mark the execution failed and
// count toward the circuit breaker.
type DeliverFunc func(ctx context.Context, job model.CronJob) (summary string, err error)

// Scheduler polls the store's cron_jobs table at a fixed tick and fires due
// jobs. IntervalSecs is interpreted as a "every N seconds" cron-equivalent
// cadence rather than a literal crontab expression, matching CronJob's
// plain integer field; gronx is used for its due-window evaluation once a
// job is converted to an equivalent "@every" expression.
type Scheduler struct {
	store     *store.Store
	bus       *bus.EventBus
	deliver   DeliverFunc
	agentName string
	tick      time.Duration

	lastRun map[string]time.Time
}

func NewScheduler(s *store.Store, eventBus *bus.EventBus, agentName string, deliver DeliverFunc) *Scheduler {
	return &Scheduler{
		store:     s,
		bus:       eventBus,
		deliver:   deliver,
		agentName: agentName,
		tick:      30 * time.Second,
		lastRun:   make(map[string]time.Time),
	}
}

// Run polls until ctx is cancelled. Intended to run for the agent process's
// lifetime in its own goroutine.
func (sc *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.sweep(ctx)
		}
	}
}

func (sc *Scheduler) sweep(ctx context.Context) {
	jobs, err := sc.store.ListCronJobs(ctx, sc.agentName)
	if err != nil {
		logger.WarnCF("cron", "listing cron jobs failed", map[string]interface{}{"error": err.Error()})
		return
	}

	now := time.Now()
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		if job.HasActiveWindow() && !job.InActiveWindow(now.Hour()) {
			continue
		}
		if !sc.due(job, now) {
			continue
		}
		sc.lastRun[job.ID] = now
		go sc.fire(ctx, job)
	}
}

// due reports whether job should run now, given its last run time and
// interval. gronx's IsDue check is used against an equivalent "@every"
// expression so the same due-window semantics apply to both heartbeat-style
// jobs and anything later expressed as a real crontab string.
func (sc *Scheduler) due(job model.CronJob, now time.Time) bool {
	if job.IntervalSecs <= 0 {
		return false
	}
	last, ok := sc.lastRun[job.ID]
	if !ok {
		return true // never run: due immediately
	}
	expr := fmt.Sprintf("@every %ds", job.IntervalSecs)
	isDue, err := gronx.IsDue(expr, now)
	if err != nil {
		// Fall back to a plain elapsed-interval check rather than silently
		// never firing the job.
		return now.Sub(last) >= time.Duration(job.IntervalSecs)*time.Second
	}
	return isDue && now.Sub(last) >= time.Duration(job.IntervalSecs)*time.Second
}

func (sc *Scheduler) fire(ctx context.Context, job model.CronJob) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	summary, err := sc.deliver(runCtx, job)

	exec := &model.CronExecution{JobID: job.ID, Success: err == nil, Summary: summary}
	if err != nil {
		exec.Summary = err.Error()
	}

	disabled, recErr := sc.store.RecordCronExecution(ctx, exec)
	if recErr != nil {
		logger.WarnCF("cron", "recording execution failed", map[string]interface{}{"job": job.ID, "error": recErr.Error()})
		return
	}
	if disabled {
		logger.WarnCF("cron", "job disabled after repeated failures", map[string]interface{}{"job": job.ID})
		if sc.bus != nil {
			sc.bus.Publish(bus.ProcessEvent{Kind: bus.EventCronFailed, Detail: fmt.Sprintf("job %s disabled after 3 consecutive failures", job.ID)})
		}
		return
	}
	if err != nil && sc.bus != nil {
		sc.bus.Publish(bus.ProcessEvent{Kind: bus.EventCronFailed, Detail: fmt.Sprintf("job %s failed: %v", job.ID, err)})
	}
}
