package event

import (
	"time"

	"github.com/creatorscout/searchjobs/pkg/types"
)

type EventType string

const (
	EventJobCreated  EventType = "job.created"
	EventJobProgress EventType = "job.progress"
	// EventJobFinished fires once per job, from the tick that won the
	// terminal write.
	EventJobFinished EventType = "job.finished"

	// EventJobRedelivered fires when a delivery arrives for a campaign job
	// that is already terminal.
	EventJobRedelivered EventType = "job.redelivered"

	EventCampaignCompleted EventType = "campaign.completed"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type JobEvent struct {
	JobID            string
	UserID           string
	CampaignID       string
	Status           types.Status
	ProcessedResults int
	TargetResults    int
	RunCount         int
	Provider         string
	Error            string
}

// NewJobEvent snapshots job into an event payload.
func NewJobEvent(job *types.Job) JobEvent {
	return JobEvent{
		JobID:            job.ID,
		UserID:           job.UserID,
		CampaignID:       job.CampaignID,
		Status:           job.Status,
		ProcessedResults: job.ProcessedResults,
		TargetResults:    job.TargetResults,
		RunCount:         job.RunCount,
		Provider:         job.Provider,
		Error:            job.Error,
	}
}

type CampaignEvent struct {
	CampaignID       string
	UserID           string
	Name             string
	ProcessedResults int
}
