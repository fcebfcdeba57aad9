package daemon

import (
	"path/filepath"

	"github.com/robfig/cron/v3"

	"photopipe/internal/logging"
)

func (d *Daemon) retentionTargets() []logging.RetentionTarget {
	logDir := d.cfg.Paths.LogDir
	return []logging.RetentionTarget{
		{
			Dir:     logDir,
			Pattern: "*.log",
			Exclude: []string{filepath.Join(logDir, "coordinator.log"), filepath.Join(logDir, "worker.log")},
		},
		{Dir: filepath.Join(logDir, "tasks"), Pattern: "task-*.log"},
	}
}

// PruneLogs removes log files older than logging.retention_days.
func (d *Daemon) PruneLogs() int {
	removed := logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays, d.retentionTargets()...)
	if removed > 0 {
		d.logger.Info("pruned old logs", logging.Int("removed", removed))
	}
	return removed
}

func (d *Daemon) startRetention() (*cron.Cron, error) {
	if d.cfg.Logging.RetentionDays <= 0 {
		return nil, nil
	}
	d.PruneLogs()
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(d.opts.RetentionSchedule, func() { d.PruneLogs() }); err != nil {
		return nil, err
	}
	scheduler.Start()
	return scheduler, nil
}
