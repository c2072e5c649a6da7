package types

import "time"

// Campaign groups one or more jobs that share a user-visible name
// and completion semantics.
type Campaign struct {
	ID            string     `json:"id" firestore:"id"`
	UserID        string     `json:"userId" firestore:"userId"`
	Name          string     `json:"name" firestore:"name"`
	SearchMode    SearchMode `json:"searchMode" firestore:"searchMode"`
	TargetResults int        `json:"targetResults" firestore:"targetResults"`
	Notified      bool       `json:"notified" firestore:"notified"`
	NotifiedAt    *time.Time `json:"notifiedAt,omitempty" firestore:"notifiedAt"`
	CreatedAt     time.Time  `json:"createdAt" firestore:"createdAt"`
}

// CampaignStatus aggregates the jobs of a campaign.
type CampaignStatus struct {
	Campaign         Campaign `json:"campaign"`
	Jobs             int      `json:"jobs"`
	TerminalJobs     int      `json:"terminalJobs"`
	ProcessedResults int      `json:"processedResults"`
	Complete         bool     `json:"complete"`
}

// Notification is the payload handed to the notification collaborator
// once per completed campaign.
type Notification struct {
	CampaignID   string `json:"campaignId"`
	UserID       string `json:"userId"`
	CampaignName string `json:"campaignName"`
}
