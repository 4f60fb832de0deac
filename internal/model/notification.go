package model

// NotificationLevel controls which pipeline outcomes reach the user.
type NotificationLevel string

const (
	NotifyJobsDone     NotificationLevel = "jobs_done"
	NotifyJobsFailed   NotificationLevel = "jobs_failed"
	NotifyStatistics   NotificationLevel = "statistics"
	NotifyDoNotDisturb NotificationLevel = "do_not_disturb"
)

// NotifyEvery batches notifications into a delivery interval.
type NotifyEvery string

const (
	NotifyEveryDay   NotifyEvery = "day"
	NotifyEveryWeek  NotifyEvery = "week"
	NotifyEveryMonth NotifyEvery = "month"
)

// NotifyChannel is one delivery target: a kind (email, telegram) plus its
// address. Delivery mechanics live in the notification service; the pipeline
// only carries the preference.
type NotifyChannel struct {
	Kind    string `json:"kind"`
	Address string `json:"address"`
}

// NotificationOptions are the user's notification preferences attached to a
// crawler and inherited by its pages.
type NotificationOptions struct {
	Level NotificationLevel `json:"level"`
	Via   []NotifyChannel   `json:"via"`
	Every *NotifyEvery      `json:"every,omitempty"`
}
