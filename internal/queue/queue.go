package queue

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/logging"
)

// EnqueuePublish schedules a leased post for FSM processing after delay.
// The leaser, its only caller, passes zero because it has already
// confirmed the post is due; a retried post goes back to scheduled and
// is leased and enqueued again once its new scheduled_at is due.
func EnqueuePublish(asynqClient *asynq.Client, payload PublishPostPayload, delay time.Duration) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishPost, taskPayload)

	_, err = asynqClient.Enqueue(task, asynq.ProcessIn(delay))
	if err != nil {
		return err
	}

	logging.L().Sugar().Infow("post queued for publish", "post_id", payload.PostID, "delay", delay)
	return nil
}
