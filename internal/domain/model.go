package domain

import "time"

// TaskData tells the dispatcher where to publish an item. Immutable once
// attached; persisted as jsonb.
type TaskData struct {
	Exchange   string `json:"exchange"`
	Queue      string `json:"queue"`
	RoutingKey string `json:"routing_key"`
}

// ScheduledItem is the leased unit of work. ScheduledTime is a naive UTC
// instant: the earliest moment the item becomes eligible for dispatch.
type ScheduledItem struct {
	ID            int64
	URL           string
	Status        ScheduleStatus
	TaskData      TaskData
	ScheduledTime time.Time
	RetryCount    int
	ExceptionInfo string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PredefinedItem is a standing job: same shape as ScheduledItem minus the
// scheduled time. Eligible whenever it is pending.
type PredefinedItem struct {
	ID            int64
	URL           string
	Status        ScheduleStatus
	TaskData      TaskData
	RetryCount    int
	ExceptionInfo string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LeasedItem is the snapshot returned by a lease query. The holder owns the
// item exclusively until it commits a terminal transition.
type LeasedItem struct {
	ID            int64
	URL           string
	RetryCount    int
	TaskData      TaskData
	ScheduledTime time.Time
}

// URL is a node in the crawl graph.
type URL struct {
	ID        int64
	URL       string
	Status    CrawlStatus
	CrawledAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Content is the fetched page body, owned 1:1 by a URL.
type Content struct {
	ID      int64
	URLID   int64
	Title   string
	Content string
}

// Meta captures fetch metadata for a URL.
type Meta struct {
	ID          int64
	URLID       int64
	ContentType string
	HTTPStatus  int
	AuthorID    *int64
	PublishedAt time.Time
}

// Author is the detected page author, owned 1:1 by a URL.
type Author struct {
	ID      int64
	URLID   int64
	Name    string
	WebSite string
}

// IndexEntry is one keyword/frequency pair of the derived index (1:N per URL).
type IndexEntry struct {
	ID        int64
	URLID     int64
	Keyword   string
	Frequency int
}
