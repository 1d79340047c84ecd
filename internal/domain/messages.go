package domain

// Wire messages. Field names are camelCase to stay compatible with the
// existing consumers on these queues.

// FetchURLMessage asks a fetcher worker to crawl one URL.
type FetchURLMessage struct {
	URL string `json:"url"`
}

// FetchedURLMessage announces that a URL row has fresh content to parse.
type FetchedURLMessage struct {
	URLID int64 `json:"urlId"`
}

// ByDateFetchURLMessage asks the discovery worker to list sub-URLs published
// on a given date under a base URL.
type ByDateFetchURLMessage struct {
	URL   string `json:"url"`
	Year  string `json:"year"`
	Month string `json:"month"`
	Day   string `json:"day"`
}
