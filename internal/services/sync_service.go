package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/observability"
	"github.com/syncflow/server/internal/repository"
)

// SyncOptions tunes the delta engine's paging behavior.
type SyncOptions struct {
	InitialWindow int // items served on a cursor-zero fetch
	MaxFetchLimit int // hard cap on a requested page size
	MaxBatchSize  int // hard cap on a submitted batch
}

// DefaultSyncOptions returns the production defaults.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		InitialWindow: 50,
		MaxFetchLimit: 500,
		MaxBatchSize:  1000,
	}
}

func (o SyncOptions) withDefaults() SyncOptions {
	d := DefaultSyncOptions()
	if o.InitialWindow <= 0 {
		o.InitialWindow = d.InitialWindow
	}
	if o.MaxFetchLimit <= 0 {
		o.MaxFetchLimit = d.MaxFetchLimit
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = d.MaxBatchSize
	}
	return o
}

// SyncService is the delta engine for messages, contacts and calls: devices
// submit batches of local changes, the server deduplicates and persists them,
// and every other device learns about accepted changes twice: immediately
// over the hub while connected, and durably via cursor fetches after being
// away. Submit and fetch are synchronous; the hub fan-out is the only
// side channel.
type SyncService struct {
	messageRepo   repository.MessageRepo
	contactRepo   repository.ContactRepo
	callRepo      repository.CallRepo
	cursorRepo    repository.SyncCursorRepo
	deviceKeyRepo repository.DeviceKeyRepo
	groupKeyRepo  repository.SyncGroupKeyRepo
	phones        *PhoneService
	quota         *QuotaService
	hub           *Hub
	metrics       *observability.BusinessMetrics
	opts          SyncOptions
	logger        *observability.Logger
}

// NewSyncService creates a new SyncService
func NewSyncService(
	messageRepo repository.MessageRepo,
	contactRepo repository.ContactRepo,
	callRepo repository.CallRepo,
	cursorRepo repository.SyncCursorRepo,
	deviceKeyRepo repository.DeviceKeyRepo,
	groupKeyRepo repository.SyncGroupKeyRepo,
	phones *PhoneService,
	quota *QuotaService,
	hub *Hub,
	metrics *observability.BusinessMetrics,
	opts SyncOptions,
) *SyncService {
	return &SyncService{
		messageRepo:   messageRepo,
		contactRepo:   contactRepo,
		callRepo:      callRepo,
		cursorRepo:    cursorRepo,
		deviceKeyRepo: deviceKeyRepo,
		groupKeyRepo:  groupKeyRepo,
		phones:        phones,
		quota:         quota,
		hub:           hub,
		metrics:       metrics,
		opts:          opts.withDefaults(),
		logger:        observability.GetLogger().WithField("component", "sync"),
	}
}

// SubmitMessages applies a batch of device-submitted messages. Validation
// failures reject the whole batch; replays of an already-applied batch come
// back with Synced == 0 and unchanged state.
func (s *SyncService) SubmitMessages(ctx context.Context, userID, deviceID string, items []models.Message) (*models.SubmitResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "sync", "submit_messages")
	defer span.End()

	result := &models.SubmitResult{Total: len(items)}
	if len(items) == 0 {
		return result, nil
	}
	if len(items) > s.opts.MaxBatchSize {
		return nil, models.ErrBatchTooLarge
	}

	var requested int64
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return nil, err
		}
		items[i].Address = s.phones.Normalize(items[i].Address)
		items[i].UserID = userID
		items[i].OriginDeviceID = deviceID
		items[i].CreatedAt = time.Now().UTC()
		requested += itemBytes(items[i])
	}

	if err := s.admitUpload(ctx, userID, requested); err != nil {
		return nil, err
	}

	var accepted int64
	for i := range items {
		outcome, err := s.messageRepo.Upsert(ctx, &items[i])
		if err != nil {
			return nil, fmt.Errorf("failed to store message: %w", err)
		}
		if !outcome.Applied() {
			result.Skipped++
			continue
		}
		result.Synced++
		accepted += itemBytes(items[i])

		s.hub.BroadcastToUser(userID, ChannelMessages, deviceID, WSMessage{
			Type:    messageEventType(outcome, items[i].Deleted),
			Channel: ChannelMessages,
			Data:    items[i].ToResponse(items[i].Envelopes),
		})
	}

	s.settleUpload(ctx, userID, models.EntityMessages, result, accepted)
	return result, nil
}

// SubmitContacts applies a batch of device-submitted contacts.
func (s *SyncService) SubmitContacts(ctx context.Context, userID, deviceID string, items []models.Contact) (*models.SubmitResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "sync", "submit_contacts")
	defer span.End()

	result := &models.SubmitResult{Total: len(items)}
	if len(items) == 0 {
		return result, nil
	}
	if len(items) > s.opts.MaxBatchSize {
		return nil, models.ErrBatchTooLarge
	}

	var requested int64
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return nil, err
		}
		items[i].PhoneNumber = s.phones.Normalize(items[i].PhoneNumber)
		for j, number := range items[i].PhoneNumbers {
			items[i].PhoneNumbers[j] = s.phones.Normalize(number)
		}
		items[i].UserID = userID
		items[i].CreatedAt = time.Now().UTC()
		requested += itemBytes(items[i])
	}

	if err := s.admitUpload(ctx, userID, requested); err != nil {
		return nil, err
	}

	var accepted int64
	for i := range items {
		outcome, err := s.contactRepo.Upsert(ctx, &items[i])
		if err != nil {
			return nil, fmt.Errorf("failed to store contact: %w", err)
		}
		if !outcome.Applied() {
			result.Skipped++
			continue
		}
		result.Synced++
		accepted += itemBytes(items[i])

		s.hub.BroadcastToUser(userID, ChannelContacts, deviceID, WSMessage{
			Type:    contactEventType(outcome, items[i].Deleted),
			Channel: ChannelContacts,
			Data:    items[i].ToResponse(),
		})
	}

	s.settleUpload(ctx, userID, models.EntityContacts, result, accepted)
	return result, nil
}

// SubmitCalls applies a batch of device-submitted call log entries. Calls
// are append-only, so the only dedup outcome is seen-before.
func (s *SyncService) SubmitCalls(ctx context.Context, userID, deviceID string, items []models.CallHistoryEntry) (*models.SubmitResult, error) {
	ctx, span := observability.StartServiceSpan(ctx, "sync", "submit_calls")
	defer span.End()

	result := &models.SubmitResult{Total: len(items)}
	if len(items) == 0 {
		return result, nil
	}
	if len(items) > s.opts.MaxBatchSize {
		return nil, models.ErrBatchTooLarge
	}

	var requested int64
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return nil, err
		}
		items[i].Number = s.phones.Normalize(items[i].Number)
		items[i].UserID = userID
		items[i].CreatedAt = time.Now().UTC()
		requested += itemBytes(items[i])
	}

	if err := s.admitUpload(ctx, userID, requested); err != nil {
		return nil, err
	}

	var accepted int64
	for i := range items {
		added, err := s.callRepo.Add(ctx, &items[i])
		if err != nil {
			return nil, fmt.Errorf("failed to store call: %w", err)
		}
		if !added {
			result.Skipped++
			continue
		}
		result.Synced++
		accepted += itemBytes(items[i])

		s.hub.BroadcastToUser(userID, ChannelCalls, deviceID, WSMessage{
			Type:    WSTypeCallAdded,
			Channel: ChannelCalls,
			Data:    items[i],
		})
	}

	s.settleUpload(ctx, userID, models.EntityCalls, result, accepted)
	return result, nil
}

// FetchMessages returns messages with timestamp strictly after the cursor,
// ascending. A zero cursor serves the bounded initial window instead of full
// history; older history is paged backward through ListMessagesBefore.
// Envelopes are filtered to the keys the requesting device can open.
func (s *SyncService) FetchMessages(ctx context.Context, userID, deviceID string, cursor int64, limit int) (*models.FetchMessagesResponse, error) {
	ctx, span := observability.StartServiceSpan(ctx, "sync", "fetch_messages")
	defer span.End()

	limit = s.clampLimit(limit)

	var (
		page    []*models.Message
		hasMore bool
		err     error
	)
	if cursor == 0 {
		page, err = s.messageRepo.ListNewest(ctx, userID, s.opts.InitialWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		total, err := s.messageRepo.GetCountForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count messages: %w", err)
		}
		hasMore = total > len(page)
	} else {
		page, hasMore, err = s.pageMessagesSince(ctx, userID, cursor, limit)
		if err != nil {
			return nil, err
		}
	}

	responses, err := s.resolveMessages(ctx, userID, deviceID, page)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordFetch(ctx, string(models.EntityMessages), len(page))
	}

	next := cursor
	if len(page) > 0 {
		next = page[len(page)-1].Timestamp
	}
	return &models.FetchMessagesResponse{
		Messages:   responses,
		NextCursor: next,
		HasMore:    hasMore,
	}, nil
}

// pageMessagesSince fetches one delta page. A page never ends inside a run
// of equal timestamps: the cursor is a bare timestamp, so splitting a run
// would lose its tail to the strict > on the next fetch. If the requested
// page lands entirely inside one run, the whole run is returned even though
// it exceeds the limit.
func (s *SyncService) pageMessagesSince(ctx context.Context, userID string, cursor int64, limit int) ([]*models.Message, bool, error) {
	raw, err := s.messageRepo.ListSince(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list messages: %w", err)
	}
	if len(raw) <= limit {
		return raw, false, nil
	}

	boundary := raw[limit].Timestamp
	cut := limit
	for cut > 0 && raw[cut-1].Timestamp == boundary {
		cut--
	}
	if cut > 0 {
		return raw[:cut], true, nil
	}

	// The entire window shares one timestamp. Pull the full run.
	run, err := s.messageRepo.ListSince(ctx, userID, cursor, s.opts.MaxFetchLimit*4)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list messages: %w", err)
	}
	end := len(run)
	for i, msg := range run {
		if msg.Timestamp != boundary {
			end = i
			break
		}
	}
	return run[:end], end < len(run), nil
}

func (s *SyncService) resolveMessages(ctx context.Context, userID, deviceID string, page []*models.Message) ([]models.MessageResponse, error) {
	responses := make([]models.MessageResponse, 0, len(page))
	if len(page) == 0 {
		return responses, nil
	}

	keyIDs := s.resolvableKeyIDs(ctx, userID, deviceID)
	var envelopes map[string][]models.KeyEnvelope
	if len(keyIDs) > 0 {
		ids := make([]string, len(page))
		for i, msg := range page {
			ids[i] = msg.ID
		}
		var err error
		envelopes, err = s.messageRepo.EnvelopesFor(ctx, userID, ids, keyIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load envelopes: %w", err)
		}
	}

	for _, msg := range page {
		responses = append(responses, msg.ToResponse(envelopes[msg.ID]))
	}
	return responses, nil
}

// resolvableKeyIDs names the keys the device can unwrap envelopes for: its
// own published key plus the user's sync-group key. Empty when the device
// never published a key, in which case encrypted messages degrade to
// decryptionFailed rather than leaking every envelope.
func (s *SyncService) resolvableKeyIDs(ctx context.Context, userID, deviceID string) []string {
	var keyIDs []string
	if deviceKey, err := s.deviceKeyRepo.GetByDeviceID(ctx, deviceID); err == nil && deviceKey != nil {
		keyIDs = append(keyIDs, deviceKey.KeyID)
	}
	if groupKey, err := s.groupKeyRepo.GetForUser(ctx, userID); err == nil && groupKey != nil {
		keyIDs = append(keyIDs, groupKey.KeyID)
	}
	return keyIDs
}

// FetchContacts returns contacts modified strictly after the cursor.
func (s *SyncService) FetchContacts(ctx context.Context, userID string, cursor int64, limit int) (*models.FetchContactsResponse, error) {
	ctx, span := observability.StartServiceSpan(ctx, "sync", "fetch_contacts")
	defer span.End()

	limit = s.clampLimit(limit)

	var (
		page    []*models.Contact
		hasMore bool
		err     error
	)
	if cursor == 0 {
		page, err = s.contactRepo.ListNewest(ctx, userID, s.opts.InitialWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to list contacts: %w", err)
		}
		total, err := s.contactRepo.GetCountForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count contacts: %w", err)
		}
		hasMore = total > len(page)
	} else {
		page, hasMore, err = s.pageContactsSince(ctx, userID, cursor, limit)
		if err != nil {
			return nil, err
		}
	}

	responses := make([]models.ContactResponse, 0, len(page))
	for _, contact := range page {
		responses = append(responses, contact.ToResponse())
	}

	if s.metrics != nil {
		s.metrics.RecordFetch(ctx, string(models.EntityContacts), len(page))
	}

	next := cursor
	if len(page) > 0 {
		next = page[len(page)-1].Timestamp
	}
	return &models.FetchContactsResponse{
		Contacts:   responses,
		NextCursor: next,
		HasMore:    hasMore,
	}, nil
}

// FetchCalls returns calls with timestamp strictly after the cursor.
func (s *SyncService) FetchCalls(ctx context.Context, userID string, cursor int64, limit int) (*models.FetchCallsResponse, error) {
	ctx, span := observability.StartServiceSpan(ctx, "sync", "fetch_calls")
	defer span.End()

	limit = s.clampLimit(limit)

	var (
		page    []*models.CallHistoryEntry
		hasMore bool
		err     error
	)
	if cursor == 0 {
		page, err = s.callRepo.ListNewest(ctx, userID, s.opts.InitialWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to list calls: %w", err)
		}
		total, err := s.callRepo.GetCountForUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count calls: %w", err)
		}
		hasMore = total > len(page)
	} else {
		page, hasMore, err = s.pageCallsSince(ctx, userID, cursor, limit)
		if err != nil {
			return nil, err
		}
	}

	calls := make([]models.CallHistoryEntry, 0, len(page))
	for _, call := range page {
		calls = append(calls, *call)
	}

	if s.metrics != nil {
		s.metrics.RecordFetch(ctx, string(models.EntityCalls), len(page))
	}

	next := cursor
	if len(page) > 0 {
		next = page[len(page)-1].Timestamp
	}
	return &models.FetchCallsResponse{
		Calls:      calls,
		NextCursor: next,
		HasMore:    hasMore,
	}, nil
}

// ListMessagesBefore pages backward through history for a client that wants
// more than the initial window.
func (s *SyncService) ListMessagesBefore(ctx context.Context, userID, deviceID string, before int64, limit int) ([]models.MessageResponse, error) {
	limit = s.clampLimit(limit)
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	page, err := s.messageRepo.ListBefore(ctx, userID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return s.resolveMessages(ctx, userID, deviceID, page)
}

// ListContactsBefore pages backward through live contacts.
func (s *SyncService) ListContactsBefore(ctx context.Context, userID string, before int64, limit int) ([]models.ContactResponse, error) {
	limit = s.clampLimit(limit)
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	page, err := s.contactRepo.ListBefore(ctx, userID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	responses := make([]models.ContactResponse, 0, len(page))
	for _, contact := range page {
		responses = append(responses, contact.ToResponse())
	}
	return responses, nil
}

// ListCallsBefore pages backward through call history.
func (s *SyncService) ListCallsBefore(ctx context.Context, userID string, before int64, limit int) ([]models.CallHistoryEntry, error) {
	limit = s.clampLimit(limit)
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	page, err := s.callRepo.ListBefore(ctx, userID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	calls := make([]models.CallHistoryEntry, 0, len(page))
	for _, call := range page {
		calls = append(calls, *call)
	}
	return calls, nil
}

// ConfirmCursor records that a device has applied everything up to the given
// timestamp. Cursors only move forward; an equal confirm is an idempotent
// no-op and a smaller one is rejected unless the device explicitly forces a
// resync.
func (s *SyncService) ConfirmCursor(ctx context.Context, userID, deviceID string, entity models.EntityKind, cursor int64, force bool) (*models.SyncCursor, error) {
	if !models.ValidEntityKind(entity) {
		return nil, models.ErrInvalidEntityKind
	}
	if cursor < 0 {
		return nil, models.ErrCursorRewind
	}

	record := &models.SyncCursor{
		UserID:    userID,
		DeviceID:  deviceID,
		Entity:    entity,
		Cursor:    cursor,
		UpdatedAt: time.Now().UTC(),
	}

	if force {
		if err := s.cursorRepo.Set(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to set cursor: %w", err)
		}
		return record, nil
	}

	advanced, err := s.cursorRepo.Advance(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to advance cursor: %w", err)
	}
	if advanced {
		return record, nil
	}

	stored, err := s.cursorRepo.Get(ctx, userID, deviceID, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if stored != nil && cursor < stored.Cursor {
		return nil, models.ErrCursorRewind
	}
	if stored == nil {
		stored = record
	}
	return stored, nil
}

// GetCursor returns a device's confirmed cursor, zero when it has none yet.
func (s *SyncService) GetCursor(ctx context.Context, userID, deviceID string, entity models.EntityKind) (*models.SyncCursor, error) {
	if !models.ValidEntityKind(entity) {
		return nil, models.ErrInvalidEntityKind
	}
	stored, err := s.cursorRepo.Get(ctx, userID, deviceID, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if stored == nil {
		stored = &models.SyncCursor{
			UserID:   userID,
			DeviceID: deviceID,
			Entity:   entity,
			Cursor:   0,
		}
	}
	return stored, nil
}

// SetMessageRead flips the read flag. Read state rides the live event stream
// only; it does not move the sync timestamp, so offline devices reconcile
// read state from the phone's next submit instead.
func (s *SyncService) SetMessageRead(ctx context.Context, userID, deviceID, messageID string, read bool) (*models.MessageResponse, error) {
	updated, err := s.messageRepo.SetRead(ctx, userID, messageID, read)
	if err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	if !updated {
		return nil, models.ErrMessageNotFound
	}

	msg, err := s.messageRepo.GetByID(ctx, userID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	if msg == nil {
		return nil, models.ErrMessageNotFound
	}

	resp := msg.ToResponse(msg.Envelopes)
	s.hub.BroadcastToUser(userID, ChannelMessages, deviceID, WSMessage{
		Type:    WSTypeMessageUpdated,
		Channel: ChannelMessages,
		Data:    resp,
	})
	return &resp, nil
}

// DeleteMessage tombstones a message. The tombstone keeps syncing with a
// fresh timestamp so devices that were offline drop their copy too.
func (s *SyncService) DeleteMessage(ctx context.Context, userID, deviceID, messageID string) error {
	timestamp := time.Now().UnixMilli()
	deleted, err := s.messageRepo.MarkDeleted(ctx, userID, messageID, timestamp)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if !deleted {
		return models.ErrMessageNotFound
	}

	s.hub.BroadcastToUser(userID, ChannelMessages, deviceID, WSMessage{
		Type:    WSTypeMessageDeleted,
		Channel: ChannelMessages,
		Data: models.MessageResponse{
			ID:        messageID,
			Timestamp: timestamp,
			Deleted:   true,
		},
	})
	return nil
}

// DeleteContact tombstones a contact.
func (s *SyncService) DeleteContact(ctx context.Context, userID, deviceID, contactID string) error {
	timestamp := time.Now().UnixMilli()
	deleted, err := s.contactRepo.MarkDeleted(ctx, userID, contactID, timestamp)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	if !deleted {
		return models.ErrContactNotFound
	}

	s.hub.BroadcastToUser(userID, ChannelContacts, deviceID, WSMessage{
		Type:    WSTypeContactDeleted,
		Channel: ChannelContacts,
		Data: models.ContactResponse{
			ID:        contactID,
			Timestamp: timestamp,
			Deleted:   true,
		},
	})
	return nil
}

// RelayOutgoingMessage asks the user's phone to send an SMS. The server only
// fans the request out; the phone performs the actual send and the sent
// message returns through its next submit.
func (s *SyncService) RelayOutgoingMessage(ctx context.Context, userID, deviceID string, req *models.SendMessageRequest) error {
	if req.Address == "" {
		return models.ErrMissingAddress
	}
	if req.Body == "" && req.EncryptedBody == "" {
		return models.ErrMissingBody
	}
	req.Address = s.phones.Normalize(req.Address)

	s.hub.BroadcastToUser(userID, ChannelMessages, deviceID, WSMessage{
		Type:    WSTypeOutgoingMessage,
		Channel: ChannelMessages,
		Data: map[string]interface{}{
			"address":       req.Address,
			"body":          req.Body,
			"encryptedBody": req.EncryptedBody,
			"envelopes":     req.Envelopes,
			"requestedBy":   deviceID,
		},
	})
	return nil
}

// RelayCallRequest asks the user's phone to place a call.
func (s *SyncService) RelayCallRequest(ctx context.Context, userID, deviceID string, req *models.CallRequestPayload) error {
	if req.Number == "" {
		return models.ErrMissingAddress
	}
	req.Number = s.phones.Normalize(req.Number)

	s.hub.BroadcastToUser(userID, ChannelCalls, deviceID, WSMessage{
		Type:    WSTypeCallRequest,
		Channel: ChannelCalls,
		Data: map[string]string{
			"number":      req.Number,
			"requestedBy": deviceID,
		},
	})
	return nil
}

// admitUpload runs the quota gate. Store errors deny: quota is billing
// adjacent, so uncertainty fails closed.
func (s *SyncService) admitUpload(ctx context.Context, userID string, bytes int64) error {
	if s.quota == nil {
		return nil
	}
	decision, err := s.quota.IsUploadAllowed(ctx, userID, bytes)
	if err != nil {
		return fmt.Errorf("failed to check quota: %w", err)
	}
	if !decision.Allowed {
		return models.QuotaExceededError{Reason: decision.Reason}
	}
	return nil
}

// settleUpload records accounting and metrics for a batch that changed
// state. Accounting failures log instead of failing the already-committed
// writes.
func (s *SyncService) settleUpload(ctx context.Context, userID string, entity models.EntityKind, result *models.SubmitResult, accepted int64) {
	if result.Synced == 0 {
		return
	}
	if s.quota != nil {
		if err := s.quota.RecordUpload(ctx, userID, accepted); err != nil {
			s.logger.WithField("error", err.Error()).Warn("Failed to record upload usage")
		}
	}
	if s.metrics != nil {
		s.metrics.RecordSubmit(ctx, string(entity), result.Synced, result.Skipped)
		s.metrics.AddStorageBytes(ctx, accepted)
	}
}

func (s *SyncService) clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > s.opts.MaxFetchLimit {
		return s.opts.MaxFetchLimit
	}
	return limit
}

func messageEventType(outcome repository.UpsertOutcome, deleted bool) string {
	if deleted {
		return WSTypeMessageDeleted
	}
	if outcome == repository.UpsertReplaced {
		return WSTypeMessageUpdated
	}
	return WSTypeMessageAdded
}

func contactEventType(outcome repository.UpsertOutcome, deleted bool) string {
	if deleted {
		return WSTypeContactDeleted
	}
	if outcome == repository.UpsertReplaced {
		return WSTypeContactUpdated
	}
	return WSTypeContactAdded
}

// pageContactsSince fetches one contact delta page with the same
// run-preserving cut as pageMessagesSince: a page never ends inside a run of
// equal timestamps, and a window landing entirely inside one run returns the
// whole run even past the limit.
func (s *SyncService) pageContactsSince(ctx context.Context, userID string, cursor int64, limit int) ([]*models.Contact, bool, error) {
	raw, err := s.contactRepo.ListSince(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list contacts: %w", err)
	}
	if len(raw) <= limit {
		return raw, false, nil
	}

	boundary := raw[limit].Timestamp
	cut := limit
	for cut > 0 && raw[cut-1].Timestamp == boundary {
		cut--
	}
	if cut > 0 {
		return raw[:cut], true, nil
	}

	run, err := s.contactRepo.ListSince(ctx, userID, cursor, s.opts.MaxFetchLimit*4)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list contacts: %w", err)
	}
	end := len(run)
	for i, contact := range run {
		if contact.Timestamp != boundary {
			end = i
			break
		}
	}
	return run[:end], end < len(run), nil
}

// pageCallsSince is pageContactsSince for call history.
func (s *SyncService) pageCallsSince(ctx context.Context, userID string, cursor int64, limit int) ([]*models.CallHistoryEntry, bool, error) {
	raw, err := s.callRepo.ListSince(ctx, userID, cursor, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list calls: %w", err)
	}
	if len(raw) <= limit {
		return raw, false, nil
	}

	boundary := raw[limit].Timestamp
	cut := limit
	for cut > 0 && raw[cut-1].Timestamp == boundary {
		cut--
	}
	if cut > 0 {
		return raw[:cut], true, nil
	}

	run, err := s.callRepo.ListSince(ctx, userID, cursor, s.opts.MaxFetchLimit*4)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list calls: %w", err)
	}
	end := len(run)
	for i, call := range run {
		if call.Timestamp != boundary {
			end = i
			break
		}
	}
	return run[:end], end < len(run), nil
}

// itemBytes approximates an item's wire size for usage accounting.
func itemBytes(v interface{}) int64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
