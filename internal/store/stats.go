package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// Totals are the population figures shown by /stats.
type Totals struct {
	Users       int64
	ActiveUsers int64
	Chats       int64
}

// StatsProvider counts tracked users and chats for the /stats report.
type StatsProvider struct {
	users countCollection
	chats countCollection
}

// NewStatsProvider constructs a StatsProvider over the users and chats collections.
func NewStatsProvider(users, chats countCollection) *StatsProvider {
	return &StatsProvider{users: users, chats: chats}
}

// Totals runs the three counts concurrently. ActiveUsers are the users seen
// at or after since; a zero since counts nobody as active.
func (p *StatsProvider) Totals(ctx context.Context, since time.Time) (Totals, error) {
	if ctx == nil {
		return Totals{}, errors.New("context is required")
	}
	if p == nil || p.users == nil || p.chats == nil {
		return Totals{}, errors.New("stats provider is not initialized")
	}

	var out Totals
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := p.users.CountDocuments(gctx, bson.D{})
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		out.Users = n
		return nil
	})

	g.Go(func() error {
		if since.IsZero() {
			return nil
		}
		n, err := p.users.CountDocuments(gctx, bson.M{"last_seen_at": bson.M{"$gte": since.UTC()}})
		if err != nil {
			return fmt.Errorf("count active users: %w", err)
		}
		out.ActiveUsers = n
		return nil
	})

	g.Go(func() error {
		n, err := p.chats.CountDocuments(gctx, bson.D{})
		if err != nil {
			return fmt.Errorf("count chats: %w", err)
		}
		out.Chats = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return Totals{}, err
	}

	return out, nil
}
