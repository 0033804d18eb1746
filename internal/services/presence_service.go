package services

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/observability"
)

// PresenceOptions tunes the ephemeral state machinery. The defaults are
// product-tuned: short enough that indicators feel live, long enough that
// bursty UIs do not hammer the hub.
type PresenceOptions struct {
	TypingDebounce     time.Duration // coalesce window before a typing start broadcasts
	TypingTTL          time.Duration // auto-stop when no explicit stop arrives
	ContinuityInterval time.Duration // minimum gap between continuity updates per device
}

// DefaultPresenceOptions returns the production defaults.
func DefaultPresenceOptions() PresenceOptions {
	return PresenceOptions{
		TypingDebounce:     300 * time.Millisecond,
		TypingTTL:          5 * time.Second,
		ContinuityInterval: 800 * time.Millisecond,
	}
}

func (o PresenceOptions) withDefaults() PresenceOptions {
	d := DefaultPresenceOptions()
	if o.TypingDebounce <= 0 {
		o.TypingDebounce = d.TypingDebounce
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = d.TypingTTL
	}
	if o.ContinuityInterval <= 0 {
		o.ContinuityInterval = d.ContinuityInterval
	}
	return o
}

// typingKey identifies one typing indicator.
type typingKey struct {
	userID         string
	conversationID string
	deviceID       string
}

type typingEntry struct {
	debounce *time.Timer // pending start broadcast
	expiry   *time.Timer // TTL auto-stop
	active   bool        // start already broadcast
}

type continuityEntry struct {
	state    *models.ContinuityState
	limiter  *rate.Limiter
	lastHash string
}

// PresenceService holds the ephemeral typing and continuity state. Nothing
// here is persisted: the durable store is for the dataset, and presence is
// worthless seconds after it happens. State is last-writer-wins per key,
// timers carry the expiry, and Close cancels everything.
type PresenceService struct {
	hub    *Hub
	opts   PresenceOptions
	logger *observability.Logger

	mu         sync.Mutex
	typing     map[typingKey]*typingEntry
	continuity map[string]*continuityEntry // userID -> latest state
	limiters   map[string]*rate.Limiter    // deviceID -> continuity throttle
	closed     bool
}

// NewPresenceService creates a new PresenceService
func NewPresenceService(hub *Hub, opts PresenceOptions) *PresenceService {
	return &PresenceService{
		hub:        hub,
		opts:       opts.withDefaults(),
		logger:     observability.GetLogger().WithField("component", "presence"),
		typing:     make(map[typingKey]*typingEntry),
		continuity: make(map[string]*continuityEntry),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// StartTyping registers that a device is typing in a conversation. The
// broadcast is debounced: rapid start/stop flapping inside the window
// collapses to nothing on the wire. Once broadcast, a TTL timer guarantees
// the indicator clears even if the device vanishes mid-word.
func (s *PresenceService) StartTyping(userID, deviceID, conversationID string) error {
	if conversationID == "" {
		return models.ErrMissingConversation
	}
	key := typingKey{userID: userID, conversationID: conversationID, deviceID: deviceID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	entry, ok := s.typing[key]
	if !ok {
		entry = &typingEntry{}
		s.typing[key] = entry
	}

	if entry.active {
		// Already visible; just push the expiry out.
		entry.expiry.Reset(s.opts.TypingTTL)
		return nil
	}
	if entry.debounce != nil {
		// A start is already pending.
		return nil
	}

	entry.debounce = time.AfterFunc(s.opts.TypingDebounce, func() {
		s.fireTyping(key)
	})
	return nil
}

// fireTyping broadcasts the debounced start and arms the TTL.
func (s *PresenceService) fireTyping(key typingKey) {
	s.mu.Lock()
	entry, ok := s.typing[key]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	entry.debounce = nil
	entry.active = true
	entry.expiry = time.AfterFunc(s.opts.TypingTTL, func() {
		s.expireTyping(key)
	})
	s.mu.Unlock()

	s.broadcastTyping(key, true)
}

// StopTyping clears the indicator. Stopping inside the debounce window
// cancels the pending start so nothing was ever broadcast.
func (s *PresenceService) StopTyping(userID, deviceID, conversationID string) error {
	if conversationID == "" {
		return models.ErrMissingConversation
	}
	key := typingKey{userID: userID, conversationID: conversationID, deviceID: deviceID}

	s.mu.Lock()
	entry, ok := s.typing[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	wasActive := entry.active
	s.removeTypingLocked(key, entry)
	s.mu.Unlock()

	if wasActive {
		s.broadcastTyping(key, false)
	}
	return nil
}

// expireTyping is the TTL path: no stop arrived, broadcast one ourselves.
func (s *PresenceService) expireTyping(key typingKey) {
	s.mu.Lock()
	entry, ok := s.typing[key]
	if !ok || !entry.active {
		s.mu.Unlock()
		return
	}
	s.removeTypingLocked(key, entry)
	s.mu.Unlock()

	s.broadcastTyping(key, false)
}

// removeTypingLocked drops an entry and stops its timers. Caller holds mu.
func (s *PresenceService) removeTypingLocked(key typingKey, entry *typingEntry) {
	if entry.debounce != nil {
		entry.debounce.Stop()
	}
	if entry.expiry != nil {
		entry.expiry.Stop()
	}
	delete(s.typing, key)
}

func (s *PresenceService) broadcastTyping(key typingKey, typing bool) {
	s.hub.BroadcastToUser(key.userID, ChannelPresence, key.deviceID, WSMessage{
		Type:    WSTypeTyping,
		Channel: ChannelPresence,
		Data: models.TypingState{
			ConversationID: key.conversationID,
			DeviceID:       key.deviceID,
			Typing:         typing,
			UpdatedAt:      time.Now().UTC(),
		},
	})
}

// UpdateContinuity publishes which conversation and draft are active on a
// device. Updates are throttled per device and suppressed entirely when the
// payload has not changed, since UIs tend to re-emit identical state on
// every keystroke or focus change.
func (s *PresenceService) UpdateContinuity(userID, deviceID, conversationID, draft string) error {
	if conversationID == "" {
		return models.ErrMissingConversation
	}

	hash := continuityHash(conversationID, draft)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	entry, ok := s.continuity[userID]
	if !ok {
		entry = &continuityEntry{}
		s.continuity[userID] = entry
	}
	if entry.lastHash == hash && entry.state != nil && entry.state.DeviceID == deviceID {
		s.mu.Unlock()
		return nil
	}

	limiter, ok := s.limiters[deviceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.opts.ContinuityInterval), 1)
		s.limiters[deviceID] = limiter
	}
	if !limiter.Allow() {
		s.mu.Unlock()
		return nil
	}

	state := &models.ContinuityState{
		ConversationID: conversationID,
		Draft:          draft,
		DeviceID:       deviceID,
		UpdatedAt:      time.Now().UTC(),
	}
	entry.state = state
	entry.lastHash = hash
	s.mu.Unlock()

	s.hub.BroadcastToUser(userID, ChannelPresence, deviceID, WSMessage{
		Type:    WSTypeContinuity,
		Channel: ChannelPresence,
		Data:    state,
	})
	return nil
}

// GetContinuity returns the user's current continuity state so a device
// coming online can resume where another left off. Nil when nothing recent
// is known.
func (s *PresenceService) GetContinuity(userID string) *models.ContinuityState {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.continuity[userID]
	if !ok || entry.state == nil {
		return nil
	}
	// Stale handoff state is worse than none.
	if time.Since(entry.state.UpdatedAt) > 24*time.Hour {
		delete(s.continuity, userID)
		return nil
	}
	return entry.state
}

// ForgetDevice clears a removed device's presence so nothing keeps
// broadcasting on its behalf.
func (s *PresenceService) ForgetDevice(userID, deviceID string) {
	s.mu.Lock()
	var cleared []typingKey
	for key, entry := range s.typing {
		if key.deviceID != deviceID {
			continue
		}
		if entry.active {
			cleared = append(cleared, key)
		}
		s.removeTypingLocked(key, entry)
	}
	if entry, ok := s.continuity[userID]; ok && entry.state != nil && entry.state.DeviceID == deviceID {
		delete(s.continuity, userID)
	}
	delete(s.limiters, deviceID)
	s.mu.Unlock()

	for _, key := range cleared {
		s.broadcastTyping(key, false)
	}
}

// Close stops every pending timer. Used on shutdown and in tests.
func (s *PresenceService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for key, entry := range s.typing {
		s.removeTypingLocked(key, entry)
	}
}

func continuityHash(conversationID, draft string) string {
	sum := sha256.Sum256([]byte(conversationID + "\x00" + draft))
	return hex.EncodeToString(sum[:])
}
