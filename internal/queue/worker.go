package queue

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/logging"
)

// HandlePublishTask is the asynq handler wired into the server mux
// (cmd/server/main.go). It serializes per account before handing the
// post to the FSM, per spec.md §4.6/§5's per-account ordering guarantee.
func (q *Queue) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	return q.PublishPost(ctx, payload.PostID)
}

func (q *Queue) PublishPost(ctx context.Context, postID int64) error {
	post, err := q.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		logging.L().Sugar().Infow("post vanished before dispatch", "post_id", postID)
		return nil
	}

	unlock, err := q.locks.Lock(ctx, post.AccountID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := q.machine.Run(ctx, postID); err != nil {
		logging.L().Sugar().Errorw("publish fsm step failed", "post_id", postID, "error", err)
		return err
	}
	return nil
}
