package domain

// Event is a broker topic: a direct exchange, its durable queue and the
// routing key binding them. Every event has a dead-letter twin derived by
// suffixing each name.
type Event struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

const deadLetterSuffix = "_dead_letter"

func (e Event) DeadLetterExchange() string   { return e.Exchange + deadLetterSuffix }
func (e Event) DeadLetterQueue() string      { return e.Queue + deadLetterSuffix }
func (e Event) DeadLetterRoutingKey() string { return e.RoutingKey + deadLetterSuffix }

// TaskData returns the triplet in the form persisted on scheduled items.
func (e Event) TaskData() TaskData {
	return TaskData{Exchange: e.Exchange, Queue: e.Queue, RoutingKey: e.RoutingKey}
}

var (
	// EventFetchURL drives the fetcher workers.
	EventFetchURL = Event{
		Exchange:   "news.direct",
		Queue:      "news.crawler.fetch_url",
		RoutingKey: "crawler.fetch_url",
	}

	// EventContentFetched drives the parser workers.
	EventContentFetched = Event{
		Exchange:   "news.direct",
		Queue:      "news.crawler.content_fetched",
		RoutingKey: "crawler.content_fetched",
	}

	// EventCheckSubURLByDate drives date-based discovery.
	EventCheckSubURLByDate = Event{
		Exchange:   "news.direct",
		Queue:      "news.crawler.check_sub_url_by_date",
		RoutingKey: "crawler.check_sub_url_by_date",
	}
)

// Events lists every known topic, in topology-declaration order.
func Events() []Event {
	return []Event{EventFetchURL, EventContentFetched, EventCheckSubURLByDate}
}
