package store

import "github.com/boobacar/clinic-queue/internal/models"

const (
	ActionNext    = "next"
	ActionRecall  = "recall"
	ActionSkip    = "skip"
	ActionDone    = "done"
	ActionRequeue = "requeue"
)

var transitionMap = map[string][]string{
	ActionNext:    {models.StatusWaiting},
	ActionRecall:  {models.StatusCalled},
	ActionSkip:    {models.StatusCalled},
	ActionDone:    {models.StatusCalled},
	ActionRequeue: {models.StatusCalled, models.StatusSkipped},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
