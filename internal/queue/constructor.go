package queue

import (
	"github.com/maheshrc27/postflow/internal/accountlock"
	"github.com/maheshrc27/postflow/internal/fsm"
	"github.com/maheshrc27/postflow/internal/repository"
)

// Queue dispatches leased post ids to the PublishFSM, generalized from
// the teacher's Queue (there: a fan-out across YouTube/TikTok/Instagram
// services for one post's selected accounts). A post now names exactly
// one account, so the fan-out collapses to one FSM.Run call serialized
// through the per-account lock registry instead of a WaitGroup+semaphore
// fan-out across platforms.
type Queue struct {
	posts   repository.PostRepository
	machine *fsm.Machine
	locks   *accountlock.Registry
}

func NewQueue(posts repository.PostRepository, machine *fsm.Machine, locks *accountlock.Registry) *Queue {
	return &Queue{posts: posts, machine: machine, locks: locks}
}

const TaskTypePublishPost = "publish:post"

type PublishPostPayload struct {
	PostID int64 `json:"post_id"`
}
