package config

const (
	// TopicIntakeEnqueued carries a job id whenever a job becomes pending.
	TopicIntakeEnqueued = "intake.enqueued"

	// TopicIntakeIndexed announces a cover that has been added to the index.
	TopicIntakeIndexed = "intake.indexed"

	// TopicIntakeFailed announces a job that reached the failed state.
	TopicIntakeFailed = "intake.failed"
)

// Topics lists every topic pre-created on nsqd at startup.
var Topics = []string{TopicIntakeEnqueued, TopicIntakeIndexed, TopicIntakeFailed}
