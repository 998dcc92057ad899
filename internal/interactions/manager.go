// Package interactions records viewer interactions against the active stream session and
// keeps each viewer's profile up to date.
package interactions

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

// Store persists interactions. RecordInteraction must, in one unit of work: re-check the
// stream session is active, create the profile for username when missing, lock it, apply
// fold, save it, and insert in with ViewerID set to the profile id.
type Store interface {
	RecordInteraction(ctx context.Context, in *models.ViewerInteraction, username string, fold func(p *models.ViewerProfile)) (*models.ViewerProfile, error)
	ListInteractions(ctx context.Context, sessionID uuid.UUID, interactionType string, limit int) ([]models.ViewerInteraction, error)
	DeleteViewerProfile(ctx context.Context, username string) error
}

// SessionGate hands out the active stream session under a shared lock.
type SessionGate interface {
	WithActive(ctx context.Context, fn func(s *models.StreamSession) error) error
}

// HighlightEvaluator turns candidates into highlights.
type HighlightEvaluator interface {
	Evaluate(ctx context.Context, c models.HighlightCandidate) (*models.StreamHighlight, error)
}

// Publisher pushes live updates to stream session listeners.
type Publisher interface {
	Publish(sessionID uuid.UUID, event string, payload interface{})
}

// RecordParams are the inputs of Record.
type RecordParams struct {
	ViewerUsername  string       `json:"viewer_username"`
	InteractionType string       `json:"interaction_type"`
	Message         *string      `json:"message,omitempty"`
	SentimentScore  *float64     `json:"sentiment_score,omitempty"`
	ImpactLevel     *int         `json:"impact_level,omitempty"`
	Tags            []string     `json:"tags"`
	Amount          *float64     `json:"amount,omitempty"` // donation amount, if any
	Data            models.Value `json:"data"`
}

// Result is what Record returns.
type Result struct {
	Interaction *models.ViewerInteraction `json:"interaction"`
	Profile     *models.ViewerProfile     `json:"profile"`
	Highlight   *models.StreamHighlight   `json:"highlight,omitempty"`
}

// Manager records interactions.
type Manager struct {
	store      Store
	gate       SessionGate
	highlights HighlightEvaluator
	publisher  Publisher
	policy     RelationshipPolicy
	logger     *zap.Logger
	now        func() time.Time
}

// NewManager creates an interaction manager. highlights and publisher may be nil.
func NewManager(store Store, gate SessionGate, highlights HighlightEvaluator, publisher Publisher, policy RelationshipPolicy, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, gate: gate, highlights: highlights, publisher: publisher, policy: policy, logger: logger,
		now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Record appends an interaction to the active stream session and upserts the viewer's
// profile. The interaction is then evaluated as a highlight candidate.
func (m *Manager) Record(ctx context.Context, p RecordParams) (*Result, error) {
	username, err := validate(p)
	if err != nil {
		return nil, err
	}
	in := &models.ViewerInteraction{
		ID:              uuid.New(),
		InteractionType: strings.ToLower(strings.TrimSpace(p.InteractionType)),
		Message:         p.Message,
		SentimentScore:  p.SentimentScore,
		ImpactLevel:     p.ImpactLevel,
		ContextTags:     NormalizeTags(p.Tags, p.Message),
	}

	var profile *models.ViewerProfile
	err = m.gate.WithActive(ctx, func(s *models.StreamSession) error {
		in.SessionID = s.ID
		in.Timestamp = m.now()
		var err error
		profile, err = m.store.RecordInteraction(ctx, in, username, func(vp *models.ViewerProfile) {
			FoldProfile(vp, in, m.policy)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	res := &Result{Interaction: in, Profile: profile}

	if m.publisher != nil {
		m.publisher.Publish(in.SessionID, "interaction", interactionPayload(in, username))
	}
	if m.highlights != nil {
		h, herr := m.highlights.Evaluate(ctx, m.candidate(in, username, p))
		switch {
		case herr == nil:
			res.Highlight = h
		case memerr.IsNoActiveSession(herr):
			// stream closed between the append and the evaluation
		default:
			m.logger.Warn("highlight evaluation failed", zap.String("interaction_id", in.ID.String()), zap.Error(herr))
		}
	}
	return res, nil
}

func interactionPayload(in *models.ViewerInteraction, username string) map[string]interface{} {
	return map[string]interface{}{
		"id":               in.ID,
		"username":         username,
		"interaction_type": in.InteractionType,
		"message":          in.Message,
		"sentiment_score":  in.SentimentScore,
		"impact_level":     in.ImpactLevel,
		"context_tags":     in.ContextTags,
		"timestamp":        in.Timestamp,
	}
}

func (m *Manager) candidate(in *models.ViewerInteraction, username string, p RecordParams) models.HighlightCandidate {
	c := models.HighlightCandidate{
		Source:    models.SourceInteraction,
		SourceID:  in.ID,
		Timestamp: in.Timestamp,
		Type:      in.InteractionType,
		Sentiment: in.SentimentScore,
		Amount:    p.Amount,
		Username:  username,
		Data:      p.Data,
	}
	if in.ImpactLevel != nil {
		v := float64(*in.ImpactLevel) / 10
		c.Impact = &v
	}
	if in.Message != nil {
		c.Text = *in.Message
	}
	return c
}

// List returns a session's interactions newest first.
func (m *Manager) List(ctx context.Context, sessionID uuid.UUID, interactionType string, limit int) ([]models.ViewerInteraction, error) {
	if limit <= 0 {
		limit = 100
	}
	return m.store.ListInteractions(ctx, sessionID, strings.ToLower(interactionType), limit)
}

// Forget deletes a viewer's profile. Their interactions stay with their sessions and lose
// the viewer reference.
func (m *Manager) Forget(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return memerr.Validation("interactions.Forget", "username is required")
	}
	if err := m.store.DeleteViewerProfile(ctx, username); err != nil {
		return err
	}
	m.logger.Info("viewer profile deleted", zap.String("username", username))
	return nil
}

func validate(p RecordParams) (string, error) {
	const op = "interactions.Record"
	username := strings.TrimSpace(p.ViewerUsername)
	if username == "" {
		return "", memerr.Validation(op, "viewer_username is required")
	}
	if strings.TrimSpace(p.InteractionType) == "" {
		return "", memerr.Validation(op, "interaction_type is required")
	}
	if s := p.SentimentScore; s != nil && (math.IsNaN(*s) || *s < -1 || *s > 1) {
		return "", memerr.Validation(op, "sentiment_score must be within [-1, 1]")
	}
	if l := p.ImpactLevel; l != nil && (*l < 0 || *l > 10) {
		return "", memerr.Validation(op, "impact_level must be within [0, 10]")
	}
	if a := p.Amount; a != nil && (math.IsNaN(*a) || *a < 0) {
		return "", memerr.Validation(op, "amount must not be negative")
	}
	return username, nil
}
