package domain

import "fmt"

// ScheduleStatus is the lifecycle state of a scheduled or predefined work item.
// The database stores the string form of the integer value ("1".."4") in the
// scheduled_url_status / predefined_url_status enums.
type ScheduleStatus int

const (
	SchedulePending    ScheduleStatus = 1
	ScheduleCompleted  ScheduleStatus = 2
	ScheduleFailed     ScheduleStatus = 3
	ScheduleProcessing ScheduleStatus = 4
)

// MaxRetries bounds scheduler redelivery and the DLQ ring alike.
const MaxRetries = 3

func (s ScheduleStatus) String() string {
	return fmt.Sprintf("%d", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s ScheduleStatus) Terminal() bool {
	return s == ScheduleCompleted || s == ScheduleFailed
}

// Name returns the human-readable form, used in logs only.
func (s ScheduleStatus) Name() string {
	switch s {
	case SchedulePending:
		return "pending"
	case ScheduleCompleted:
		return "completed"
	case ScheduleFailed:
		return "failed"
	case ScheduleProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// ParseScheduleStatus converts the stored string form back to the enum.
func ParseScheduleStatus(s string) (ScheduleStatus, error) {
	switch s {
	case "1":
		return SchedulePending, nil
	case "2":
		return ScheduleCompleted, nil
	case "3":
		return ScheduleFailed, nil
	case "4":
		return ScheduleProcessing, nil
	}
	return 0, fmt.Errorf("invalid schedule status %q", s)
}

// CrawlStatus is the lifecycle state of a URL in the crawl graph.
// Stored as the string form of the integer value in the crawling_status enum.
type CrawlStatus int

const (
	CrawlIdle      CrawlStatus = 0 // not active, ready to start
	CrawlRunning   CrawlStatus = 1 // actively crawling
	CrawlPaused    CrawlStatus = 2
	CrawlCompleted CrawlStatus = 3
	CrawlFailed    CrawlStatus = 4
	CrawlQueued    CrawlStatus = 5 // waiting to start
	CrawlBlocked   CrawlStatus = 6 // restricted by the website
	CrawlStopping  CrawlStatus = 7
	CrawlStopped   CrawlStatus = 8 // stopped by operator
)

func (s CrawlStatus) String() string {
	return fmt.Sprintf("%d", int(s))
}

// Terminal reports whether the URL needs an explicit reset to move again.
func (s CrawlStatus) Terminal() bool {
	switch s {
	case CrawlCompleted, CrawlFailed, CrawlBlocked, CrawlStopped:
		return true
	}
	return false
}

// ParseCrawlStatus converts the stored string form back to the enum.
func ParseCrawlStatus(s string) (CrawlStatus, error) {
	if len(s) == 1 && s[0] >= '0' && s[0] <= '8' {
		return CrawlStatus(s[0] - '0'), nil
	}
	return 0, fmt.Errorf("invalid crawl status %q", s)
}
