// Package memstore is an in-process implementation of every store the memory engine uses.
// It backs tests and the "memory" storage backend. One mutex serializes all writes, which
// gives each operation the same atomicity the PostgreSQL repositories get from transactions.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/memerr"
	"github.com/MasterOfDiablo/Ruby-Vtuber/internal/models"
)

// errInjected is the cause attached to failures scheduled with FailNext.
var errInjected = errors.New("injected store failure")

type analyticKey struct {
	metric     string
	start, end int64
}

// Store keeps every entity in maps guarded by one mutex. Slices preserve insertion order
// so ties in sorting resolve the same way on every call.
type Store struct {
	mu sync.RWMutex

	games        map[uuid.UUID]*models.GameSession
	gameOrder    []uuid.UUID
	events       []*models.GameEvent
	streams      map[uuid.UUID]*models.StreamSession
	streamOrder  []uuid.UUID
	profiles     map[uuid.UUID]*models.ViewerProfile
	byUsername   map[string]uuid.UUID
	interactions []*models.ViewerInteraction
	highlights   []*models.StreamHighlight
	analytics    map[analyticKey]*models.PerformanceAnalytic
	learning     []*models.LearningHistoryEntry

	failures int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		games:      make(map[uuid.UUID]*models.GameSession),
		streams:    make(map[uuid.UUID]*models.StreamSession),
		profiles:   make(map[uuid.UUID]*models.ViewerProfile),
		byUsername: make(map[string]uuid.UUID),
		analytics:  make(map[analyticKey]*models.PerformanceAnalytic),
	}
}

// FailNext makes the next n operations fail with a store error before touching any data.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

// fail consumes one scheduled failure. Callers hold the write lock.
func (s *Store) fail(op string) error {
	if s.failures > 0 {
		s.failures--
		return memerr.Store(op, errInjected)
	}
	return nil
}

// readFail upgrades to the write lock only when a failure is scheduled.
func (s *Store) readFail(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail(op)
}

func clamp(limit, n int) int {
	if limit <= 0 || limit > n {
		return n
	}
	return limit
}

func cloneEvent(e *models.GameEvent) models.GameEvent {
	out := *e
	if e.ImpactScore != nil {
		v := *e.ImpactScore
		out.ImpactScore = &v
	}
	return out
}

func cloneInteraction(in *models.ViewerInteraction) models.ViewerInteraction {
	out := *in
	out.ContextTags = append([]string{}, in.ContextTags...)
	if in.ViewerID != nil {
		id := *in.ViewerID
		out.ViewerID = &id
	}
	return out
}

// --- game sessions ---

// CreateGameSession stores a copy of gs. A second active session is a conflict.
func (s *Store) CreateGameSession(ctx context.Context, gs *models.GameSession) error {
	const op = "gamesessions.Create"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	if _, ok := s.games[gs.ID]; ok {
		return memerr.Conflict(op, "game session "+gs.ID.String()+" exists")
	}
	if gs.Status == models.GameSessionActive {
		for _, g := range s.games {
			if g.Status == models.GameSessionActive {
				return memerr.Conflict(op, "a game session is already active")
			}
		}
	}
	s.games[gs.ID] = gs.Clone()
	s.gameOrder = append(s.gameOrder, gs.ID)
	return nil
}

// GetGameSession returns a copy of the session, or nil.
func (s *Store) GetGameSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	if err := s.readFail("gamesessions.Get"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.games[id].Clone(), nil
}

// OpenGameSession returns the newest active or paused session, or nil.
func (s *Store) OpenGameSession(ctx context.Context) (*models.GameSession, error) {
	if err := s.readFail("gamesessions.GetOpen"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open *models.GameSession
	for _, id := range s.gameOrder {
		g := s.games[id]
		if g.Status.Open() && (open == nil || g.StartTime.After(open.StartTime)) {
			open = g
		}
	}
	return open.Clone(), nil
}

// ListGameSessions returns sessions newest first, optionally filtered by status.
func (s *Store) ListGameSessions(ctx context.Context, status models.GameSessionStatus, limit int) ([]models.GameSession, error) {
	if err := s.readFail("gamesessions.List"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.GameSession{}
	for _, id := range s.gameOrder {
		g := s.games[id]
		if status == "" || g.Status == status {
			list = append(list, *g.Clone())
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].StartTime.After(list[j].StartTime) })
	return list[:clamp(limit, len(list))], nil
}

func (s *Store) gameMissingOrState(op string, id uuid.UUID) error {
	g, ok := s.games[id]
	if !ok {
		return memerr.NotFound(op, "game session "+id.String())
	}
	return memerr.InvalidState(op, "game session is "+string(g.Status))
}

// TransitionGameSession moves a session from one status to another.
func (s *Store) TransitionGameSession(ctx context.Context, id uuid.UUID, from, to models.GameSessionStatus) error {
	const op = "gamesessions.Transition"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	g, ok := s.games[id]
	if !ok || g.Status != from {
		return s.gameMissingOrState(op, id)
	}
	if to == models.GameSessionActive {
		for oid, o := range s.games {
			if oid != id && o.Status == models.GameSessionActive {
				return memerr.Conflict(op, "a game session is already active")
			}
		}
	}
	g.Status = to
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// EndGameSession closes an open session.
func (s *Store) EndGameSession(ctx context.Context, id uuid.UUID, endTime time.Time, summary models.Value, achievements []models.Value) (*models.GameSession, error) {
	const op = "gamesessions.End"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return nil, err
	}
	g, ok := s.games[id]
	if !ok || !g.Status.Open() {
		return nil, s.gameMissingOrState(op, id)
	}
	end := endTime
	g.EndTime = &end
	g.Status = models.GameSessionEnded
	g.Summary = summary
	g.Achievements = append([]models.Value(nil), achievements...)
	g.UpdatedAt = time.Now().UTC()
	return g.Clone(), nil
}

// CorrectGameSession replaces the summary and/or achievements of an ended session.
// A null summary or nil achievements leave the stored value alone.
func (s *Store) CorrectGameSession(ctx context.Context, id uuid.UUID, summary models.Value, achievements []models.Value) (*models.GameSession, error) {
	const op = "gamesessions.Correct"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return nil, err
	}
	g, ok := s.games[id]
	if !ok || g.Status != models.GameSessionEnded {
		return nil, s.gameMissingOrState(op, id)
	}
	if !summary.IsNull() {
		g.Summary = summary
	}
	if achievements != nil {
		g.Achievements = append([]models.Value(nil), achievements...)
	}
	g.UpdatedAt = time.Now().UTC()
	return g.Clone(), nil
}

// DeleteGameSession removes an ended session with its events and detaches it from streams.
func (s *Store) DeleteGameSession(ctx context.Context, id uuid.UUID) error {
	const op = "gamesessions.Delete"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	g, ok := s.games[id]
	if !ok || g.Status != models.GameSessionEnded {
		return s.gameMissingOrState(op, id)
	}
	delete(s.games, id)
	s.gameOrder = removeID(s.gameOrder, id)
	kept := s.events[:0]
	for _, e := range s.events {
		if e.SessionID != id {
			kept = append(kept, e)
		}
	}
	s.events = kept
	for _, st := range s.streams {
		if st.AttachedTo(id) {
			st.GameSessionID = nil
		}
	}
	return nil
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// GameEventStats counts a session's events by type.
func (s *Store) GameEventStats(ctx context.Context, sessionID uuid.UUID) (*models.GameEventStats, error) {
	if err := s.readFail("gamesessions.EventStats"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &models.GameEventStats{ByType: map[string]int{}}
	for _, e := range s.events {
		if e.SessionID == sessionID {
			stats.Total++
			stats.ByType[e.EventType]++
		}
	}
	if g, ok := s.games[sessionID]; ok {
		stats.Notable = len(g.NotableEvents)
	}
	return stats, nil
}

// ListGameEvents returns a session's events newest first, optionally filtered by category.
func (s *Store) ListGameEvents(ctx context.Context, sessionID uuid.UUID, category string, limit int) ([]models.GameEvent, error) {
	if err := s.readFail("events.List"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.GameEvent{}
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.SessionID == sessionID && (category == "" || e.EventCategory == category) {
			list = append(list, cloneEvent(e))
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	return list[:clamp(limit, len(list))], nil
}

// GameStatistics aggregates every session of a game. Playtime counts ended sessions only.
func (s *Store) GameStatistics(ctx context.Context, gameName string) (*models.GameStatistics, error) {
	if err := s.readFail("gamesessions.Statistics"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &models.GameStatistics{GameName: gameName}
	ids := map[uuid.UUID]bool{}
	for id, g := range s.games {
		if g.GameName != gameName {
			continue
		}
		ids[id] = true
		st.TotalSessions++
		if g.EndTime != nil {
			st.PlaytimeSeconds += g.EndTime.Sub(g.StartTime).Seconds()
		}
	}
	var sum float64
	var n int
	for _, e := range s.events {
		if !ids[e.SessionID] {
			continue
		}
		st.TotalEvents++
		if e.ImpactScore != nil {
			sum += *e.ImpactScore
			n++
		}
	}
	if n > 0 {
		avg := sum / float64(n)
		st.AvgImpact = &avg
	}
	return st, nil
}

// --- game events ---

// AppendGameEvent stores ev if its session is active and folds it into the session's
// notable events.
func (s *Store) AppendGameEvent(ctx context.Context, ev *models.GameEvent, fold func([]models.NotableEvent) []models.NotableEvent) error {
	const op = "events.Append"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	g, ok := s.games[ev.SessionID]
	if !ok {
		return memerr.NoActiveSession(op, "game session "+ev.SessionID.String()+" no longer exists")
	}
	if g.Status != models.GameSessionActive {
		return memerr.NoActiveSession(op, "game session is "+string(g.Status))
	}
	e := cloneEvent(ev)
	s.events = append(s.events, &e)
	if fold != nil {
		g.NotableEvents = fold(append([]models.NotableEvent(nil), g.NotableEvents...))
		g.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// --- stream sessions ---

func (s *Store) checkGameRef(op string, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	g, ok := s.games[*id]
	if !ok {
		return memerr.NotFound(op, "game session "+id.String())
	}
	if g.Status == models.GameSessionEnded {
		return memerr.NotFound(op, "game session "+id.String()+" has ended")
	}
	return nil
}

// CreateStreamSession stores a copy of st. A second active stream is a conflict.
func (s *Store) CreateStreamSession(ctx context.Context, st *models.StreamSession) error {
	const op = "streamsessions.Create"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	if err := s.checkGameRef(op, st.GameSessionID); err != nil {
		return err
	}
	if _, ok := s.streams[st.ID]; ok {
		return memerr.Conflict(op, "stream session "+st.ID.String()+" exists")
	}
	if st.Status == models.StreamSessionActive {
		for _, o := range s.streams {
			if o.Status == models.StreamSessionActive {
				return memerr.Conflict(op, "a stream session is already active")
			}
		}
	}
	s.streams[st.ID] = st.Clone()
	s.streamOrder = append(s.streamOrder, st.ID)
	return nil
}

// GetStreamSession returns a copy of the stream, or nil.
func (s *Store) GetStreamSession(ctx context.Context, id uuid.UUID) (*models.StreamSession, error) {
	if err := s.readFail("streamsessions.Get"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[id].Clone(), nil
}

// ActiveStreamSession returns the active stream, or nil.
func (s *Store) ActiveStreamSession(ctx context.Context) (*models.StreamSession, error) {
	if err := s.readFail("streamsessions.GetActive"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.streamOrder {
		if st := s.streams[id]; st.Status == models.StreamSessionActive {
			return st.Clone(), nil
		}
	}
	return nil, nil
}

// ListStreamSessions returns streams newest first, optionally filtered by status.
func (s *Store) ListStreamSessions(ctx context.Context, status models.StreamSessionStatus, limit int) ([]models.StreamSession, error) {
	if err := s.readFail("streamsessions.List"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.StreamSession{}
	for _, id := range s.streamOrder {
		st := s.streams[id]
		if status == "" || st.Status == status {
			list = append(list, *st.Clone())
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].StartTime.After(list[j].StartTime) })
	return list[:clamp(limit, len(list))], nil
}

// SetStreamGameSession attaches (or with nil detaches) a game session to an active stream.
func (s *Store) SetStreamGameSession(ctx context.Context, id uuid.UUID, gameSessionID *uuid.UUID) error {
	const op = "streamsessions.SetGameSession"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	if err := s.checkGameRef(op, gameSessionID); err != nil {
		return err
	}
	st, ok := s.streams[id]
	if !ok || st.Status != models.StreamSessionActive {
		return memerr.NoActiveSession(op, "stream session "+id.String()+" is not active")
	}
	if gameSessionID == nil {
		st.GameSessionID = nil
	} else {
		gid := *gameSessionID
		st.GameSessionID = &gid
	}
	st.UpdatedAt = time.Now().UTC()
	return nil
}

// EndStreamSession closes the active stream with its final figures.
func (s *Store) EndStreamSession(ctx context.Context, id uuid.UUID, endTime time.Time, viewerStats, moments, metrics models.Value) (*models.StreamSession, error) {
	const op = "streamsessions.End"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return nil, err
	}
	st, ok := s.streams[id]
	if !ok || st.Status != models.StreamSessionActive {
		return nil, memerr.NotFound(op, "no active stream session "+id.String())
	}
	end := endTime
	st.EndTime = &end
	st.Status = models.StreamSessionEnded
	st.ViewerStats = viewerStats
	st.HighlightMoments = moments
	st.SessionMetrics = metrics
	st.UpdatedAt = time.Now().UTC()
	return st.Clone(), nil
}

// DeleteStreamSession removes an ended stream with its interactions and highlights.
func (s *Store) DeleteStreamSession(ctx context.Context, id uuid.UUID) error {
	const op = "streamsessions.Delete"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	st, ok := s.streams[id]
	if !ok {
		return memerr.NotFound(op, "stream session "+id.String())
	}
	if st.Status != models.StreamSessionEnded {
		return memerr.InvalidState(op, "stream session is "+string(st.Status))
	}
	delete(s.streams, id)
	s.streamOrder = removeID(s.streamOrder, id)
	ins := s.interactions[:0]
	for _, in := range s.interactions {
		if in.SessionID != id {
			ins = append(ins, in)
		}
	}
	s.interactions = ins
	hs := s.highlights[:0]
	for _, h := range s.highlights {
		if h.SessionID != id {
			hs = append(hs, h)
		}
	}
	s.highlights = hs
	return nil
}

// StreamSessionStats derives viewer and highlight figures for one stream.
func (s *Store) StreamSessionStats(ctx context.Context, id uuid.UUID) (*models.SessionStats, error) {
	if err := s.readFail("streamsessions.Stats"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &models.SessionStats{SessionID: id, ByType: map[string]int{}}
	viewers := map[uuid.UUID]bool{}
	var sentSum float64
	var sentN int
	for _, in := range s.interactions {
		if in.SessionID != id {
			continue
		}
		stats.TotalInteractions++
		stats.ByType[in.InteractionType]++
		if in.ViewerID != nil {
			viewers[*in.ViewerID] = true
		}
		if in.SentimentScore != nil {
			sentSum += *in.SentimentScore
			sentN++
		}
	}
	stats.UniqueViewers = len(viewers)
	if sentN > 0 {
		avg := sentSum / float64(sentN)
		stats.AvgSentiment = &avg
	}
	var sigSum float64
	for _, h := range s.highlights {
		if h.SessionID == id {
			stats.HighlightCount++
			sigSum += h.SignificanceScore
		}
	}
	if stats.HighlightCount > 0 {
		avg := sigSum / float64(stats.HighlightCount)
		stats.AvgSignificance = &avg
	}
	return stats, nil
}

// --- viewer interactions ---

// RecordInteraction stores in for an active stream and folds it into the viewer's profile,
// creating the profile on first contact.
func (s *Store) RecordInteraction(ctx context.Context, in *models.ViewerInteraction, username string, fold func(p *models.ViewerProfile)) (*models.ViewerProfile, error) {
	const op = "interactions.Record"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return nil, err
	}
	st, ok := s.streams[in.SessionID]
	if !ok {
		return nil, memerr.NoActiveSession(op, "stream session "+in.SessionID.String()+" no longer exists")
	}
	if st.Status != models.StreamSessionActive {
		return nil, memerr.NoActiveSession(op, "stream session is "+string(st.Status))
	}

	var profile *models.ViewerProfile
	if id, ok := s.byUsername[username]; ok {
		profile = s.profiles[id].Clone()
	} else {
		profile = &models.ViewerProfile{
			ID:          uuid.New(),
			Username:    username,
			FirstSeen:   in.Timestamp,
			LastSeen:    in.Timestamp,
			Preferences: models.EmptyMapping(),
		}
	}
	if fold != nil {
		fold(profile)
	}
	s.profiles[profile.ID] = profile.Clone()
	s.byUsername[username] = profile.ID

	vid := profile.ID
	in.ViewerID = &vid
	stored := cloneInteraction(in)
	s.interactions = append(s.interactions, &stored)
	return profile, nil
}

// ListInteractions returns a stream's interactions newest first.
func (s *Store) ListInteractions(ctx context.Context, sessionID uuid.UUID, interactionType string, limit int) ([]models.ViewerInteraction, error) {
	if err := s.readFail("interactions.List"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestInteractions(limit, func(in *models.ViewerInteraction) bool {
		return in.SessionID == sessionID && (interactionType == "" || in.InteractionType == interactionType)
	}), nil
}

// newestInteractions filters interactions and returns them newest first. Callers hold a lock.
func (s *Store) newestInteractions(limit int, keep func(*models.ViewerInteraction) bool) []models.ViewerInteraction {
	list := []models.ViewerInteraction{}
	for i := len(s.interactions) - 1; i >= 0; i-- {
		if in := s.interactions[i]; keep(in) {
			list = append(list, cloneInteraction(in))
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	return list[:clamp(limit, len(list))]
}

// DeleteViewerProfile removes a profile and clears the viewer reference on its interactions.
func (s *Store) DeleteViewerProfile(ctx context.Context, username string) error {
	const op = "interactions.DeleteProfile"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	id, ok := s.byUsername[username]
	if !ok {
		return memerr.NotFound(op, "viewer "+username)
	}
	delete(s.byUsername, username)
	delete(s.profiles, id)
	for _, in := range s.interactions {
		if in.ViewerID != nil && *in.ViewerID == id {
			in.ViewerID = nil
		}
	}
	return nil
}

// --- highlights ---

// CreateStreamHighlight stores h if its stream is active.
func (s *Store) CreateStreamHighlight(ctx context.Context, h *models.StreamHighlight) error {
	const op = "highlights.Create"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	st, ok := s.streams[h.SessionID]
	if !ok {
		return memerr.NoActiveSession(op, "stream session "+h.SessionID.String()+" no longer exists")
	}
	if st.Status != models.StreamSessionActive {
		return memerr.NoActiveSession(op, "stream session is "+string(st.Status))
	}
	out := *h
	s.highlights = append(s.highlights, &out)
	return nil
}

func (s *Store) sessionHighlights(sessionID uuid.UUID) []models.StreamHighlight {
	list := []models.StreamHighlight{}
	for _, h := range s.highlights {
		if h.SessionID == sessionID {
			list = append(list, *h)
		}
	}
	return list
}

// RecentHighlights returns a stream's highlights newest first.
func (s *Store) RecentHighlights(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error) {
	if err := s.readFail("highlights.Recent"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.sessionHighlights(sessionID)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	return list[:clamp(limit, len(list))], nil
}

// TopHighlights returns a stream's highlights by significance, earliest first on ties.
func (s *Store) TopHighlights(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.StreamHighlight, error) {
	if err := s.readFail("highlights.Top"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.sessionHighlights(sessionID)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].SignificanceScore != list[j].SignificanceScore {
			return list[i].SignificanceScore > list[j].SignificanceScore
		}
		return list[i].Timestamp.Before(list[j].Timestamp)
	})
	return list[:clamp(limit, len(list))], nil
}

// SessionHighlights returns every highlight of a stream in time order.
func (s *Store) SessionHighlights(ctx context.Context, sessionID uuid.UUID) ([]models.StreamHighlight, error) {
	if err := s.readFail("highlights.Session"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.sessionHighlights(sessionID)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	return list, nil
}

// --- analytics ---

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// WindowGameEvents returns the events with start <= timestamp < end in time order.
func (s *Store) WindowGameEvents(ctx context.Context, start, end time.Time) ([]models.EventSample, error) {
	if err := s.readFail("analytics.WindowEvents"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.EventSample{}
	for _, e := range s.events {
		if !inWindow(e.Timestamp, start, end) {
			continue
		}
		c := cloneEvent(e)
		list = append(list, models.EventSample{
			Timestamp:   c.Timestamp,
			SessionID:   c.SessionID,
			EventType:   c.EventType,
			Category:    c.EventCategory,
			ImpactScore: c.ImpactScore,
		})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	return list, nil
}

// WindowInteractions returns the interactions with start <= timestamp < end in time order.
func (s *Store) WindowInteractions(ctx context.Context, start, end time.Time) ([]models.InteractionSample, error) {
	if err := s.readFail("analytics.WindowInteractions"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.InteractionSample{}
	for _, in := range s.interactions {
		if !inWindow(in.Timestamp, start, end) {
			continue
		}
		c := cloneInteraction(in)
		sample := models.InteractionSample{
			Timestamp:       c.Timestamp,
			SessionID:       c.SessionID,
			ViewerID:        c.ViewerID,
			InteractionType: c.InteractionType,
			SentimentScore:  c.SentimentScore,
			ImpactLevel:     c.ImpactLevel,
			ContextTags:     c.ContextTags,
		}
		if c.ViewerID != nil {
			if p, ok := s.profiles[*c.ViewerID]; ok {
				first := p.FirstSeen
				sample.ViewerFirstSeen = &first
			}
		}
		list = append(list, sample)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	return list, nil
}

// WindowHighlights returns the highlights with start <= timestamp < end in time order.
func (s *Store) WindowHighlights(ctx context.Context, start, end time.Time) ([]models.HighlightSample, error) {
	if err := s.readFail("analytics.WindowHighlights"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.HighlightSample{}
	for _, h := range s.highlights {
		if inWindow(h.Timestamp, start, end) {
			list = append(list, models.HighlightSample{
				Timestamp:         h.Timestamp,
				SessionID:         h.SessionID,
				HighlightType:     h.HighlightType,
				SignificanceScore: h.SignificanceScore,
			})
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
	return list, nil
}

// UpsertPerformanceAnalytic stores a, replacing the figures of an existing row for the same
// metric and window while keeping its id.
func (s *Store) UpsertPerformanceAnalytic(ctx context.Context, a *models.PerformanceAnalytic) (*models.PerformanceAnalytic, error) {
	const op = "analytics.Upsert"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return nil, err
	}
	key := analyticKey{metric: a.MetricType, start: a.PeriodStart.UnixNano(), end: a.PeriodEnd.UnixNano()}
	row := *a
	if prev, ok := s.analytics[key]; ok {
		row.ID = prev.ID
	}
	s.analytics[key] = &row
	out := row
	return &out, nil
}

// ListPerformanceAnalytics returns stored aggregates, newest window first.
func (s *Store) ListPerformanceAnalytics(ctx context.Context, f models.AnalyticsFilter) ([]models.PerformanceAnalytic, error) {
	if err := s.readFail("analytics.List"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.PerformanceAnalytic{}
	for _, a := range s.analytics {
		if f.MetricType != "" && a.MetricType != f.MetricType {
			continue
		}
		if f.From != nil && a.PeriodStart.Before(*f.From) {
			continue
		}
		if f.To != nil && a.PeriodEnd.After(*f.To) {
			continue
		}
		list = append(list, *a)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].PeriodStart.Equal(list[j].PeriodStart) {
			return list[i].PeriodStart.After(list[j].PeriodStart)
		}
		return list[i].MetricType < list[j].MetricType
	})
	return list[:clamp(f.Limit, len(list))], nil
}

func cloneLearning(e *models.LearningHistoryEntry) models.LearningHistoryEntry {
	out := *e
	if e.EffectivenessScore != nil {
		v := *e.EffectivenessScore
		out.EffectivenessScore = &v
	}
	return out
}

// CreateLearning stores a learning entry.
func (s *Store) CreateLearning(ctx context.Context, e *models.LearningHistoryEntry) error {
	const op = "analytics.CreateLearning"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return err
	}
	stored := cloneLearning(e)
	s.learning = append(s.learning, &stored)
	return nil
}

// UpdateLearningResult records how a learned pattern worked out. A null results value or
// nil effectiveness keeps the stored one.
func (s *Store) UpdateLearningResult(ctx context.Context, id uuid.UUID, results models.Value, effectiveness *float64) (*models.LearningHistoryEntry, error) {
	const op = "analytics.UpdateLearning"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(op); err != nil {
		return nil, err
	}
	for _, e := range s.learning {
		if e.ID != id {
			continue
		}
		if !results.IsNull() {
			e.ApplicationResults = results
		}
		if effectiveness != nil {
			v := *effectiveness
			e.EffectivenessScore = &v
		}
		out := cloneLearning(e)
		return &out, nil
	}
	return nil, memerr.NotFound(op, "learning entry "+id.String())
}

// ListLearning returns learning entries newest first, optionally filtered by category.
func (s *Store) ListLearning(ctx context.Context, category string, limit int) ([]models.LearningHistoryEntry, error) {
	if err := s.readFail("analytics.ListLearning"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.LearningHistoryEntry{}
	for i := len(s.learning) - 1; i >= 0; i-- {
		if e := s.learning[i]; category == "" || e.Category == category {
			list = append(list, cloneLearning(e))
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	return list[:clamp(limit, len(list))], nil
}

// --- recall ---

// ViewerProfileByUsername returns a copy of the profile, or nil.
func (s *Store) ViewerProfileByUsername(ctx context.Context, username string) (*models.ViewerProfile, error) {
	if err := s.readFail("recall.Profile"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, nil
	}
	return s.profiles[id].Clone(), nil
}

// ViewerInteractions returns a viewer's newest interactions across streams.
func (s *Store) ViewerInteractions(ctx context.Context, viewerID uuid.UUID, limit int) ([]models.ViewerInteraction, error) {
	if err := s.readFail("recall.ViewerInteractions"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestInteractions(limit, func(in *models.ViewerInteraction) bool {
		return in.ViewerID != nil && *in.ViewerID == viewerID
	}), nil
}

// ViewerHistory returns a viewer's interactions with their stream's title and category.
func (s *Store) ViewerHistory(ctx context.Context, viewerID uuid.UUID, limit int) ([]models.ViewerHistoryItem, error) {
	if err := s.readFail("recall.ViewerHistory"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.newestInteractions(limit, func(in *models.ViewerInteraction) bool {
		return in.ViewerID != nil && *in.ViewerID == viewerID
	})
	out := make([]models.ViewerHistoryItem, 0, len(list))
	for _, in := range list {
		item := models.ViewerHistoryItem{ViewerInteraction: in}
		if st, ok := s.streams[in.SessionID]; ok {
			item.StreamTitle = st.Title
			item.StreamCategory = st.Category
		}
		out = append(out, item)
	}
	return out, nil
}

// GameEvent returns a copy of the event, or nil.
func (s *Store) GameEvent(ctx context.Context, id uuid.UUID) (*models.GameEvent, error) {
	if err := s.readFail("recall.GameEvent"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.ID == id {
			ev := cloneEvent(e)
			return &ev, nil
		}
	}
	return nil, nil
}

// AttributedInteractions returns a stream's interactions at or after since, newest first,
// with the viewer's current username and relationship level.
func (s *Store) AttributedInteractions(ctx context.Context, sessionID uuid.UUID, since time.Time, limit int) ([]models.AttributedInteraction, error) {
	if err := s.readFail("recall.AttributedInteractions"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.newestInteractions(limit, func(in *models.ViewerInteraction) bool {
		return in.SessionID == sessionID && !in.Timestamp.Before(since)
	})
	out := make([]models.AttributedInteraction, 0, len(list))
	for _, in := range list {
		a := models.AttributedInteraction{ViewerInteraction: in}
		if in.ViewerID != nil {
			if p, ok := s.profiles[*in.ViewerID]; ok {
				a.Username = p.Username
				a.RelationshipLevel = p.RelationshipLevel
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// SearchGameEvents filters events by type, time range, minimum impact and free text over
// the event type and its JSON data, newest first.
func (s *Store) SearchGameEvents(ctx context.Context, q models.MomentQuery) ([]models.GameEvent, error) {
	if err := s.readFail("recall.SearchGameEvents"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.GameEvent{}
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		if !inRange(e.Timestamp, q.From, q.To) {
			continue
		}
		if q.MinImpact != nil && (e.ImpactScore == nil || *e.ImpactScore < *q.MinImpact) {
			continue
		}
		if q.Text != "" {
			data, _ := json.Marshal(e.EventData)
			if !containsFold(e.EventType+" "+string(data), q.Text) {
				continue
			}
		}
		list = append(list, cloneEvent(e))
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	return list[:clamp(q.Limit, len(list))], nil
}

// SearchHighlights filters highlights by type, time range and description text, newest first.
func (s *Store) SearchHighlights(ctx context.Context, q models.MomentQuery) ([]models.StreamHighlight, error) {
	if err := s.readFail("recall.SearchHighlights"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.StreamHighlight{}
	for i := len(s.highlights) - 1; i >= 0; i-- {
		h := s.highlights[i]
		if q.HighlightType != "" && h.HighlightType != q.HighlightType {
			continue
		}
		if !inRange(h.Timestamp, q.From, q.To) {
			continue
		}
		if q.Text != "" && !containsFold(h.Description, q.Text) {
			continue
		}
		list = append(list, *h)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.After(list[j].Timestamp) })
	return list[:clamp(q.Limit, len(list))], nil
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// matchesWords reports whether every word of query appears as a word of message.
func matchesWords(message string, query []string) bool {
	if len(query) == 0 {
		return false
	}
	have := map[string]bool{}
	for _, w := range words(message) {
		have[w] = true
	}
	for _, w := range query {
		if !have[w] {
			return false
		}
	}
	return true
}

// SearchMessages finds interactions whose message contains every word of text, or text
// itself as a substring, newest first.
func (s *Store) SearchMessages(ctx context.Context, text string, limit int) ([]models.ViewerInteraction, error) {
	if err := s.readFail("recall.SearchMessages"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	query := words(text)
	return s.newestInteractions(limit, func(in *models.ViewerInteraction) bool {
		if in.Message == nil {
			return false
		}
		return matchesWords(*in.Message, query) || containsFold(*in.Message, text)
	}), nil
}
