// Package stats counts received messages and processed commands in the
// single stats document and reports them through /stats.
package stats

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"riakmaw/internal/command"
	"riakmaw/internal/domain"
	"riakmaw/internal/event"
	"riakmaw/internal/filters"
	"riakmaw/internal/i18n"
	"riakmaw/internal/logging"
	"riakmaw/internal/store"
	"riakmaw/internal/telegram"
)

// Name is the plugin name.
const Name = "stats"

// Counter keys written by this plugin.
const (
	KeyReceived  = "received"
	KeyProcessed = "processed"
	KeyDowntime  = "downtime"

	keyStartTime = "start_time_usec"
	keyStopTime  = "stop_time_usec"
)

// activeWindow is how far back a user counts as active in /stats.
const activeWindow = 24 * time.Hour

type statsCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type totals interface {
	Totals(ctx context.Context, since time.Time) (store.Totals, error)
}

var processMemory = func(ctx context.Context) (uint64, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// Plugin keeps the bot-wide counters.
type Plugin struct {
	db     statsCollection
	totals totals
	roles  filters.Roles
	tr     i18n.Translator
	logger *logrus.Entry
	now    func() time.Time
}

// New builds the stats plugin over the stats collection.
func New(db statsCollection, totals totals, roles filters.Roles, tr i18n.Translator, logger *logrus.Entry) *Plugin {
	return &Plugin{
		db:     db,
		totals: totals,
		roles:  roles,
		tr:     tr,
		logger: logging.ForPlugin(logger, Name),
		now:    time.Now,
	}
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return Name }

// Listeners returns the event listeners of the plugin.
func (p *Plugin) Listeners() []event.Listener {
	return []event.Listener{
		{Event: event.Message, Handler: p.onMessage},
		{Event: event.Command, Handler: p.onCommand},
		{Event: event.Stat, Handler: p.onStat},
	}
}

// Commands returns the usage statistics commands.
func (p *Plugin) Commands() []*command.Command {
	return []*command.Command{{
		Name:        "stats",
		Description: "Show bot statistics",
		Params:      []command.Param{{Name: "action", Optional: true}},
		Filter:      filters.And(filters.Private(), filters.DevOnly(p.roles)),
		Handler:     p.stats,
	}}
}

// Start records the first start time and books the time since the last
// recorded stop as downtime.
func (p *Plugin) Start(ctx context.Context, startedAt time.Time) error {
	doc, err := p.load(ctx)
	if err != nil {
		return err
	}

	if doc.StopTimeUsec > 0 {
		gap := startedAt.UnixMicro() - doc.StopTimeUsec
		if gap > 0 {
			if err := p.Inc(ctx, KeyDowntime, gap); err != nil {
				return err
			}
		}
		if err := p.update(ctx, bson.M{"$unset": bson.M{keyStopTime: ""}}); err != nil {
			return err
		}
	}

	if doc.StartTimeUsec == 0 {
		return p.update(ctx, bson.M{"$set": bson.M{keyStartTime: startedAt.UnixMicro()}})
	}
	return nil
}

// Stop records when the bot went down.
func (p *Plugin) Stop(ctx context.Context) error {
	return p.update(ctx, bson.M{"$set": bson.M{keyStopTime: p.now().UnixMicro()}})
}

func (p *Plugin) onMessage(ctx context.Context, _ *event.Event) error {
	return p.Inc(ctx, KeyReceived, 1)
}

func (p *Plugin) onCommand(ctx context.Context, _ *event.Event) error {
	return p.Inc(ctx, KeyProcessed, 1)
}

func (p *Plugin) onStat(ctx context.Context, ev *event.Event) error {
	if ev.Stat == nil || ev.Stat.Key == "" {
		return nil
	}
	return p.Inc(ctx, ev.Stat.Key, ev.Stat.Value)
}

// Inc adds value to the counter key.
func (p *Plugin) Inc(ctx context.Context, key string, value int64) error {
	if strings.HasPrefix(key, "$") || strings.Contains(key, ".") || key == "_id" {
		return fmt.Errorf("invalid stat key %q", key)
	}
	return p.update(ctx, bson.M{"$inc": bson.M{key: value}})
}

func (p *Plugin) update(ctx context.Context, update bson.M) error {
	if p.db == nil {
		return errors.New("stats collection is not initialized")
	}

	_, err := p.db.UpdateOne(ctx, bson.M{"_id": domain.StatsID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	return nil
}

func (p *Plugin) load(ctx context.Context) (domain.Stats, error) {
	if p.db == nil {
		return domain.Stats{}, errors.New("stats collection is not initialized")
	}

	var doc domain.Stats
	err := p.db.FindOne(ctx, bson.M{"_id": domain.StatsID}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.Stats{ID: domain.StatsID}, nil
	case err != nil:
		return domain.Stats{}, fmt.Errorf("load stats: %w", err)
	}
	return doc, nil
}

func (p *Plugin) stats(ctx context.Context, c *command.Context) (string, error) {
	chatID := c.Chat().ID

	if c.String("action") == "reset" {
		if _, err := p.db.DeleteMany(ctx, bson.M{}); err != nil {
			return "", fmt.Errorf("reset stats: %w", err)
		}
		if err := p.update(ctx, bson.M{"$set": bson.M{keyStartTime: p.now().UnixMicro()}}); err != nil {
			return "", err
		}

		p.logger.WithFields(logging.Fields{"event": "stats_reset"}).Info("stats reset")
		return p.tr.Text(chatID, "stats-reset"), nil
	}

	doc, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	if doc.StartTimeUsec == 0 {
		doc.StartTimeUsec = p.now().UnixMicro()
		if err := p.update(ctx, bson.M{"$set": bson.M{keyStartTime: doc.StartTimeUsec}}); err != nil {
			return "", err
		}
	}

	population, err := p.totals.Totals(ctx, p.now().Add(-activeWindow))
	if err != nil {
		return "", err
	}

	memory := "n/a"
	if rss, err := processMemory(ctx); err != nil {
		p.logger.WithField("event", "stats_memory_error").WithError(err).Warn("process memory unavailable")
	} else {
		memory = formatBytes(rss)
	}

	elapsed := time.Duration(p.now().UnixMicro()-doc.StartTimeUsec) * time.Microsecond
	downtime := time.Duration(doc.Downtime) * time.Microsecond

	text := p.tr.Text(chatID, "stats-report",
		formatDuration(elapsed-downtime),
		formatDuration(downtime),
		doc.Received, perHour(doc.Received, elapsed),
		doc.Processed, perHour(doc.Processed, elapsed),
		population.Users, population.ActiveUsers,
		population.Chats,
		memory,
	)

	_, err = c.Respond(ctx, text, telegram.WithHTML())
	return "", err
}

func perHour(count int64, elapsed time.Duration) float64 {
	hours := elapsed.Hours()
	if hours < 1 {
		hours = 1
	}
	return float64(count) / hours
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	days := int64(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	mins := int64(d / time.Minute)
	secs := int64((d - time.Duration(mins)*time.Minute) / time.Second)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
