package cron

import (
	"testing"
	"time"

	"github.com/pico-agents/coreagent/pkg/model"
)

func TestDueFiresImmediatelyOnFirstRun(t *testing.T) {
	sc := &Scheduler{lastRun: make(map[string]time.Time)}
	job := model.CronJob{ID: "job-1", IntervalSecs: 60}

	if !sc.due(job, time.Now()) {
		t.Error("expected a never-run job to be due immediately")
	}
}

func TestDueWaitsOutTheInterval(t *testing.T) {
	sc := &Scheduler{lastRun: make(map[string]time.Time)}
	job := model.CronJob{ID: "job-2", IntervalSecs: 60}
	now := time.Now()
	sc.lastRun[job.ID] = now

	if sc.due(job, now.Add(10*time.Second)) {
		t.Error("expected job not due before its interval elapses")
	}
	if !sc.due(job, now.Add(61*time.Second)) {
		t.Error("expected job due once its interval has elapsed")
	}
}

func TestDueRejectsNonPositiveInterval(t *testing.T) {
	sc := &Scheduler{lastRun: make(map[string]time.Time)}
	job := model.CronJob{ID: "job-3", IntervalSecs: 0}

	if sc.due(job, time.Now()) {
		t.Error("expected a zero-interval job to never be due")
	}
}

func TestCronJobActiveWindowWrapsPastMidnight(t *testing.T) {
	job := model.CronJob{ActiveStartHour: 22, ActiveEndHour: 6}

	if !job.HasActiveWindow() {
		t.Fatal("expected HasActiveWindow() true")
	}
	for _, h := range []int{22, 23, 0, 5} {
		if !job.InActiveWindow(h) {
			t.Errorf("InActiveWindow(%d) = false, want true", h)
		}
	}
	for _, h := range []int{6, 12, 21} {
		if job.InActiveWindow(h) {
			t.Errorf("InActiveWindow(%d) = true, want false", h)
		}
	}
}

func TestCronJobNoActiveWindowAlwaysActive(t *testing.T) {
	job := model.CronJob{ActiveStartHour: -1, ActiveEndHour: -1}
	if job.HasActiveWindow() {
		t.Fatal("expected HasActiveWindow() false when both hours are -1")
	}
	if !job.InActiveWindow(3) {
		t.Error("expected InActiveWindow() true when there is no configured window")
	}
}
