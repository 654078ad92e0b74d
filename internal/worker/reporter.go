package worker

import (
	"go.uber.org/zap"

	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/progress"
)

// BroadcastReporter routes job progress to the owner's subscribers. Jobs
// without a user id publish nowhere.
func BroadcastReporter(b *progress.Broadcaster) func(job *model.Job) ProgressReporter {
	return func(job *model.Job) ProgressReporter {
		return func(event model.ProgressEvent) {
			if job.UserID == "" {
				return
			}
			event.JobID = job.ID
			b.Publish(job.UserID, event)
		}
	}
}

// BroadcastHooks publishes a terminal job event when a pool settles a job,
// so subscribers hear about failures too, not just processor progress.
func BroadcastHooks(b *progress.Broadcaster) Hooks {
	publish := func(job *model.Job, event model.ProgressEvent) {
		if job.UserID == "" {
			return
		}
		event.JobID = job.ID
		event.Scope = model.ScopeJob
		b.Publish(job.UserID, event)
	}
	return Hooks{
		OnCompleted: func(job *model.Job) {
			publish(job, model.ProgressEvent{Percent: 100, Message: "job completed"})
		},
		OnFailed: func(job *model.Job, err error) {
			zap.L().Warn("job attempt failed",
				zap.String("job_id", job.ID),
				zap.String("family", string(job.Family)),
				zap.Int("attempt", job.Attempts),
				zap.Error(err),
			)
			publish(job, model.ProgressEvent{Message: "job failed: " + err.Error()})
		},
	}
}
