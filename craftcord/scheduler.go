package craftcord

import (
	"context"
	"fmt"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"time"
)

const (
	housekeepingSchedule = "@hourly"
	scheduledJobTimeout  = 5 * time.Minute
)

type scheduledJob struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// scheduledJobs lists the cron jobs run by the scheduler duty
func (c *CraftCord) scheduledJobs() []scheduledJob {
	return []scheduledJob{
		{
			name: "decay",
			spec: c.config.Game.DecaySchedule,
			run: func(ctx context.Context) error {
				_, err := c.decayExperience(ctx)
				return err
			},
		},
		{
			name: "fish_food",
			spec: fmt.Sprintf("@every %s", c.config.Game.FishFoodInterval),
			run: func(ctx context.Context) error {
				_, err := c.distributeFishFood(ctx)
				return err
			},
		},
		{
			name: "housekeeping",
			spec: housekeepingSchedule,
			run:  c.housekeeping,
		},
	}
}

// runScheduler is the body of the scheduler duty. It runs until ctx is
// done, then waits for running jobs to finish.
func (c *CraftCord) runScheduler(ctx context.Context) error {
	logger := c.logger.With(loggerNameKey, "scheduler")
	cronLogger := cronSlogLogger{logger: logger}
	sched := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	for _, job := range c.scheduledJobs() {
		job := job
		_, err := sched.AddFunc(
			job.spec, func() {
				jobCtx, cancel := context.WithTimeout(ctx, scheduledJobTimeout)
				defer cancel()
				start := time.Now()
				if err := job.run(jobCtx); err != nil {
					logger.ErrorContext(jobCtx, "scheduled job failed", "job", job.name, tint.Err(err))
					return
				}
				logger.DebugContext(jobCtx, "scheduled job finished", "job", job.name, "duration", time.Since(start))
			},
		)
		if err != nil {
			return fmt.Errorf("invalid schedule %q for %s: %w", job.spec, job.name, err)
		}
		logger.InfoContext(ctx, "scheduled job", "job", job.name, "schedule", job.spec)
	}

	sched.Start()
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}

// housekeeping drops idle rate limiter and cooldown state, and purges
// old media, fish and expired link codes
func (c *CraftCord) housekeeping(ctx context.Context) error {
	limiters := c.chatXPLimiter.Prune()
	cooldowns := c.cooldowns.Prune()

	now := time.Now()
	media, err := c.purgeMedia(ctx, now.Add(-c.config.Game.MediaMaxAge))
	if err != nil {
		return fmt.Errorf("error purging media: %w", err)
	}
	fish, err := c.purgeFish(ctx, now.Add(-aquariumMaxAge))
	if err != nil {
		return fmt.Errorf("error purging fish: %w", err)
	}
	links, err := c.purgeExpiredLinks(ctx, now)
	if err != nil {
		return fmt.Errorf("error purging link codes: %w", err)
	}
	c.logger.InfoContext(
		ctx,
		"housekeeping finished",
		"limiters_pruned", limiters,
		"cooldowns_pruned", cooldowns,
		"media_purged", media,
		"fish_purged", fish,
		"links_purged", links,
	)
	return nil
}
