package types

import (
	"strings"
	"time"
)

// Platform identifies the social network a job searches
type Platform string

const (
	PlatformTikTok     Platform = "tiktok"
	PlatformInstagram  Platform = "instagram"
	PlatformYouTube    Platform = "youtube"
	PlatformGoogleSERP Platform = "google-serp"
)

// Valid reports whether p is one of the supported platforms
func (p Platform) Valid() bool {
	switch p {
	case PlatformTikTok, PlatformInstagram, PlatformYouTube, PlatformGoogleSERP:
		return true
	}
	return false
}

// SearchMode selects between keyword discovery and lookalike search
type SearchMode string

const (
	SearchModeKeyword SearchMode = "keyword"
	SearchModeSimilar SearchMode = "similar"
)

// Status represents the lifecycle state of a search job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusTimeout    Status = "timeout"
)

// IsTerminal reports whether no further ticks may mutate a job in this state
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusTimeout:
		return true
	}
	return false
}

// Job is one unit of orchestrated search work
type Job struct {
	ID               string     `json:"id" firestore:"id"`
	UserID           string     `json:"userId" firestore:"userId"`
	CampaignID       string     `json:"campaignId,omitempty" firestore:"campaignId"`
	Platform         Platform   `json:"platform" firestore:"platform"`
	SearchMode       SearchMode `json:"searchMode" firestore:"searchMode"`
	Keywords         []string   `json:"keywords,omitempty" firestore:"keywords"`
	TargetUsername   string     `json:"targetUsername,omitempty" firestore:"targetUsername"`
	ProviderOverride string     `json:"providerOverride,omitempty" firestore:"providerOverride"`
	TargetResults    int        `json:"targetResults" firestore:"targetResults"`
	ProcessedResults int        `json:"processedResults" firestore:"processedResults"`
	RunCount         int        `json:"runCount" firestore:"runCount"`
	Cursor           string     `json:"cursor,omitempty" firestore:"cursor"`
	Status           Status     `json:"status" firestore:"status"`
	Error            string     `json:"error,omitempty" firestore:"error"`
	Message          string     `json:"message,omitempty" firestore:"message"`
	Provider         string     `json:"provider,omitempty" firestore:"provider"`
	Version          int64      `json:"version" firestore:"version"`
	TimeoutAt        time.Time  `json:"timeoutAt" firestore:"timeoutAt"`
	CreatedAt        time.Time  `json:"createdAt" firestore:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty" firestore:"startedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty" firestore:"completedAt"`
	UpdatedAt        time.Time  `json:"updatedAt" firestore:"updatedAt"`
}

// HasKeywords reports whether the job carries at least one non-blank keyword
func (j *Job) HasKeywords() bool {
	for _, k := range j.Keywords {
		if strings.TrimSpace(k) != "" {
			return true
		}
	}
	return false
}

// Remaining is the number of results still needed to reach the target
func (j *Job) Remaining() int {
	if r := j.TargetResults - j.ProcessedResults; r > 0 {
		return r
	}
	return 0
}

// Clone returns a deep copy safe to mutate
func (j *Job) Clone() *Job {
	c := *j
	if j.Keywords != nil {
		c.Keywords = append([]string(nil), j.Keywords...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Usage is the per-user counter of results charged against plan limits
type Usage struct {
	UserID         string    `json:"userId" firestore:"userId"`
	ResultsCounted int64     `json:"resultsCounted" firestore:"resultsCounted"`
	BatchesCounted int64     `json:"batchesCounted" firestore:"batchesCounted"`
	UpdatedAt      time.Time `json:"updatedAt" firestore:"updatedAt"`
}
