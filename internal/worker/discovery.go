package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"crawlsched/internal/broker"
	"crawlsched/internal/domain"
)

// URLIntake feeds discovered URLs back into the scheduler;
// *scheduler.Intake in production.
type URLIntake interface {
	ScheduleURLs(ctx context.Context, urls []string) error
}

// Discovery consumes check_sub_url_by_date messages: it fetches the date
// listing page under the base URL and schedules every article link it finds.
type Discovery struct {
	client *HTTPClient
	intake URLIntake
	logger *slog.Logger
}

func NewDiscovery(client *HTTPClient, intake URLIntake, logger *slog.Logger) *Discovery {
	return &Discovery{
		client: client,
		intake: intake,
		logger: logger.With("component", "discovery"),
	}
}

// Start attaches the discovery worker to its queue.
func (d *Discovery) Start(ctx context.Context, conn *broker.Conn) error {
	e := domain.EventCheckSubURLByDate
	return runConsumer(ctx, conn, e.Queue, "worker."+e.RoutingKey, d.logger, d.handle)
}

func (d *Discovery) handle(ctx context.Context, msg amqp.Delivery) error {
	var m domain.ByDateFetchURLMessage
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		return fmt.Errorf("decode check_sub_url_by_date message: %w", err)
	}
	// Dispatched standing jobs carry only the base URL; default to today.
	if m.Year == "" {
		now := time.Now().UTC()
		m.Year = fmt.Sprintf("%d", now.Year())
		m.Month = fmt.Sprintf("%02d", int(now.Month()))
		m.Day = fmt.Sprintf("%02d", now.Day())
	}

	pageURL := DateListingURL(m.URL, m.Year, m.Month, m.Day)
	res, err := d.client.Get(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("fetch listing %s: %w", pageURL, err)
	}

	links := ExtractLinks(string(res.Body), pageURL)
	if len(links) == 0 {
		d.logger.Info("no links on listing", "url", pageURL)
		return nil
	}

	if err := d.intake.ScheduleURLs(ctx, links); err != nil {
		return fmt.Errorf("schedule discovered urls: %w", err)
	}

	d.logger.Info("discovered urls scheduled", "listing", pageURL, "count", len(links))
	return nil
}

// DateListingURL joins a base URL with the year/month/day path segments.
func DateListingURL(base, year, month, day string) string {
	return strings.TrimRight(base, "/") + "/" + year + "/" + month + "/" + day
}
