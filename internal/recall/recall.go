// Package recall answers what the memory knows about a viewer, a game moment or a stream.
// It only reads.
package recall

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

// Store is the read side the recall layer needs. ViewerProfileByUsername and GameEvent
// return nil, nil when nothing matches.
type Store interface {
	ViewerProfileByUsername(ctx context.Context, username string) (*models.ViewerProfile, error)
	ViewerInteractions(ctx context.Context, viewerID uuid.UUID, limit int) ([]models.ViewerInteraction, error)
	ViewerHistory(ctx context.Context, viewerID uuid.UUID, limit int) ([]models.ViewerHistoryItem, error)
	SearchGameEvents(ctx context.Context, q models.MomentQuery) ([]models.GameEvent, error)
	SearchHighlights(ctx context.Context, q models.MomentQuery) ([]models.StreamHighlight, error)
	RecentHighlights(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error)
	SearchMessages(ctx context.Context, text string, limit int) ([]models.ViewerInteraction, error)
	GameEvent(ctx context.Context, id uuid.UUID) (*models.GameEvent, error)
	ListGameEvents(ctx context.Context, sessionID uuid.UUID, category string, limit int) ([]models.GameEvent, error)
	AttributedInteractions(ctx context.Context, sessionID uuid.UUID, since time.Time, limit int) ([]models.AttributedInteraction, error)
}

// Recaller serves recall queries.
type Recaller struct {
	store            Store
	defaultLimit     int
	notableThreshold float64
	now              func() time.Time
}

// New creates a recaller. Queries without a limit use defaultLimit. A moment query
// without min_impact recalls only notable events, those above notableThreshold.
func New(store Store, defaultLimit int, notableThreshold float64) *Recaller {
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	return &Recaller{store: store, defaultLimit: defaultLimit, notableThreshold: notableThreshold, now: time.Now}
}

// SetClock overrides the time source.
func (r *Recaller) SetClock(now func() time.Time) { r.now = now }

func (r *Recaller) limit(n int) int {
	if n <= 0 {
		return r.defaultLimit
	}
	return n
}

func (r *Recaller) profile(ctx context.Context, op, username string) (*models.ViewerProfile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, memerr.Validation(op, "username is required")
	}
	p, err := r.store.ViewerProfileByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, memerr.NotFound(op, "viewer "+username)
	}
	return p, nil
}

// RecallViewer returns a viewer's profile and most recent interactions. Averages are nil
// when the viewer never supplied the score.
func (r *Recaller) RecallViewer(ctx context.Context, username string, limit int) (*models.ViewerRecall, error) {
	p, err := r.profile(ctx, "recall.Viewer", username)
	if err != nil {
		return nil, err
	}
	list, err := r.store.ViewerInteractions(ctx, p.ID, r.limit(limit))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.ViewerInteraction{}
	}
	return &models.ViewerRecall{
		Profile:      p,
		Interactions: list,
		AvgSentiment: p.EngagementMetrics.AvgSentiment(),
		AvgImpact:    p.EngagementMetrics.AvgImpact(),
	}, nil
}

// ViewerHistory returns a viewer's interactions with the title and category of the stream
// each happened on.
func (r *Recaller) ViewerHistory(ctx context.Context, username string, limit int) ([]models.ViewerHistoryItem, error) {
	p, err := r.profile(ctx, "recall.ViewerHistory", username)
	if err != nil {
		return nil, err
	}
	list, err := r.store.ViewerHistory(ctx, p.ID, r.limit(limit))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.ViewerHistoryItem{}
	}
	return list, nil
}

// RecallGameMoment returns the game events and highlights matching q, newest first.
func (r *Recaller) RecallGameMoment(ctx context.Context, q models.MomentQuery) (*models.MomentRecall, error) {
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, memerr.Validation("recall.GameMoment", "to must not be before from")
	}
	q.Limit = r.limit(q.Limit)
	q.Text = strings.TrimSpace(q.Text)
	if q.MinImpact == nil {
		// notable means strictly above the threshold
		floor := math.Nextafter(r.notableThreshold, math.Inf(1))
		q.MinImpact = &floor
	}
	events, err := r.store.SearchGameEvents(ctx, q)
	if err != nil {
		return nil, err
	}
	highlights, err := r.store.SearchHighlights(ctx, q)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.GameEvent{}
	}
	if highlights == nil {
		highlights = []models.StreamHighlight{}
	}
	return &models.MomentRecall{Events: events, Highlights: highlights}, nil
}

// RecentHighlights returns a stream session's newest highlights.
func (r *Recaller) RecentHighlights(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error) {
	list, err := r.store.RecentHighlights(ctx, sessionID, r.limit(limit))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.StreamHighlight{}
	}
	return list, nil
}

// SearchMessages finds interactions whose message matches text.
func (r *Recaller) SearchMessages(ctx context.Context, text string, limit int) ([]models.ViewerInteraction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, memerr.Validation("recall.SearchMessages", "text is required")
	}
	list, err := r.store.SearchMessages(ctx, text, r.limit(limit))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.ViewerInteraction{}
	}
	return list, nil
}
