package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/observability"
	"github.com/syncflow/server/internal/repository"
)

// KeyExchangeOptions tunes the key distribution machinery.
type KeyExchangeOptions struct {
	KeySyncTimeout  time.Duration // how long WaitForKeySync blocks
	BackfillTimeout time.Duration // how long the runner waits for one batch's envelopes
	BackfillBatch   int           // messages examined per backfill round
}

// DefaultKeyExchangeOptions returns the production defaults.
func DefaultKeyExchangeOptions() KeyExchangeOptions {
	return KeyExchangeOptions{
		KeySyncTimeout:  30 * time.Second,
		BackfillTimeout: 60 * time.Second,
		BackfillBatch:   100,
	}
}

func (o KeyExchangeOptions) withDefaults() KeyExchangeOptions {
	d := DefaultKeyExchangeOptions()
	if o.KeySyncTimeout <= 0 {
		o.KeySyncTimeout = d.KeySyncTimeout
	}
	if o.BackfillTimeout <= 0 {
		o.BackfillTimeout = d.BackfillTimeout
	}
	if o.BackfillBatch <= 0 {
		o.BackfillBatch = d.BackfillBatch
	}
	return o
}

// KeyExchangeService distributes public keys and orchestrates the two flows
// that need more than a key lookup: the key-sync handshake that hands the
// sync-group private key to a new device, and the backfill job that re-wraps
// historical message keys for it. The server is a blind courier throughout;
// every private key it touches is wrapped under a key it cannot open.
type KeyExchangeService struct {
	deviceRepo    repository.DeviceRepo
	deviceKeyRepo repository.DeviceKeyRepo
	groupKeyRepo  repository.SyncGroupKeyRepo
	keySyncRepo   repository.KeySyncRepo
	backfillRepo  repository.BackfillJobRepo
	messageRepo   repository.MessageRepo
	hub           *Hub
	opts          KeyExchangeOptions
	logger        *observability.Logger

	mu       sync.Mutex
	waiters  map[string]chan struct{}   // userID:deviceID -> key sync arrival signal
	pending  map[string]map[string]bool // jobID -> message ids awaiting envelopes
	progress map[string]chan struct{}   // jobID -> batch completion signal
}

// NewKeyExchangeService creates a new KeyExchangeService
func NewKeyExchangeService(
	deviceRepo repository.DeviceRepo,
	deviceKeyRepo repository.DeviceKeyRepo,
	groupKeyRepo repository.SyncGroupKeyRepo,
	keySyncRepo repository.KeySyncRepo,
	backfillRepo repository.BackfillJobRepo,
	messageRepo repository.MessageRepo,
	hub *Hub,
	opts KeyExchangeOptions,
) *KeyExchangeService {
	return &KeyExchangeService{
		deviceRepo:    deviceRepo,
		deviceKeyRepo: deviceKeyRepo,
		groupKeyRepo:  groupKeyRepo,
		keySyncRepo:   keySyncRepo,
		backfillRepo:  backfillRepo,
		messageRepo:   messageRepo,
		hub:           hub,
		opts:          opts.withDefaults(),
		logger:        observability.GetLogger().WithField("component", "keyexchange"),
		waiters:       make(map[string]chan struct{}),
		pending:       make(map[string]map[string]bool),
		progress:      make(map[string]chan struct{}),
	}
}

// PublishKey registers a device's public key, replacing any previous one.
// Other devices hear about it so they can start addressing envelopes to it.
func (s *KeyExchangeService) PublishKey(ctx context.Context, userID, deviceID, publicKey string) (*models.DeviceKey, error) {
	device, err := s.deviceRepo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if device == nil || device.UserID != userID {
		return nil, models.ErrDeviceNotFound
	}

	key, err := models.NewDeviceKey(userID, deviceID, publicKey)
	if err != nil {
		return nil, err
	}
	if err := s.deviceKeyRepo.Upsert(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to store device key: %w", err)
	}

	s.hub.BroadcastToUser(userID, ChannelDevices, deviceID, WSMessage{
		Type:    WSTypeKeySyncRequest,
		Channel: ChannelDevices,
		Data: models.KeySyncRequestEvent{
			RequesterDeviceID:  deviceID,
			RequesterKeyID:     key.KeyID,
			RequesterPublicKey: key.PublicKey,
		},
	})

	s.logger.WithFields(map[string]interface{}{
		"device_id": deviceID,
		"key_id":    key.KeyID,
	}).Info("Device key published")
	return key, nil
}

// GetKey returns a device's registered public key.
func (s *KeyExchangeService) GetKey(ctx context.Context, deviceID string) (*models.DeviceKey, error) {
	key, err := s.deviceKeyRepo.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get device key: %w", err)
	}
	if key == nil {
		return nil, models.ErrKeyNotFound
	}
	return key, nil
}

// ListKeys returns every published key in the user's device set, which is
// what a sending device needs to fan out per-device envelopes.
func (s *KeyExchangeService) ListKeys(ctx context.Context, userID string) ([]*models.DeviceKey, error) {
	return s.deviceKeyRepo.GetAllForUser(ctx, userID)
}

// CreateSyncGroup installs the user's sync-group public key. The first
// enrolled device generates the keypair client-side and registers only the
// public half; re-registration rotates and bumps the version.
func (s *KeyExchangeService) CreateSyncGroup(ctx context.Context, userID, publicKey string) (*models.SyncGroupKey, error) {
	probe, err := models.NewDeviceKey(userID, "probe", publicKey)
	if err != nil {
		return nil, err
	}
	group, err := s.groupKeyRepo.CreateOrRotate(ctx, userID, probe.KeyID, probe.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to store sync group key: %w", err)
	}
	s.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"key_id":  group.KeyID,
		"version": group.Version,
	}).Info("Sync group key registered")
	return group, nil
}

// GetSyncGroup returns the user's sync-group public key.
func (s *KeyExchangeService) GetSyncGroup(ctx context.Context, userID string) (*models.SyncGroupKey, error) {
	group, err := s.groupKeyRepo.GetForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync group key: %w", err)
	}
	if group == nil {
		return nil, models.ErrNoSyncGroup
	}
	return group, nil
}

// RequestKeySync asks the user's other live devices to share the sync-group
// private key with the requester. The requester must have published its own
// key first; without it there is nothing to wrap under.
func (s *KeyExchangeService) RequestKeySync(ctx context.Context, userID, requesterDeviceID string) error {
	if _, err := s.GetSyncGroup(ctx, userID); err != nil {
		return err
	}
	requesterKey, err := s.GetKey(ctx, requesterDeviceID)
	if err != nil {
		return err
	}

	s.hub.BroadcastToUser(userID, ChannelDevices, requesterDeviceID, WSMessage{
		Type:    WSTypeKeySyncRequest,
		Channel: ChannelDevices,
		Data: models.KeySyncRequestEvent{
			RequesterDeviceID:  requesterDeviceID,
			RequesterKeyID:     requesterKey.KeyID,
			RequesterPublicKey: requesterKey.PublicKey,
		},
	})
	return nil
}

// RespondKeySync records an enrolled device's answer: the sync-group keypair
// wrapped under the requester's public key. The envelope is persisted for a
// requester that reconnects later, pushed live when it is connected now, and
// any blocked WaitForKeySync is released.
func (s *KeyExchangeService) RespondKeySync(ctx context.Context, userID, responderDeviceID string, resp *models.KeySyncResponse) error {
	if resp.RequesterDeviceID == "" || resp.WrappedGroupKey == "" {
		return models.ErrInvalidPublicKey
	}
	resp.UserID = userID
	resp.ResponderDeviceID = responderDeviceID
	resp.CreatedAt = time.Now().UTC()

	if err := s.keySyncRepo.Put(ctx, resp); err != nil {
		return fmt.Errorf("failed to store key sync response: %w", err)
	}

	s.hub.SendToDevice(resp.RequesterDeviceID, WSMessage{
		Type: WSTypeKeySyncResponse,
		Data: resp,
	})

	s.mu.Lock()
	if ch, ok := s.waiters[userID+":"+resp.RequesterDeviceID]; ok {
		close(ch)
		delete(s.waiters, userID+":"+resp.RequesterDeviceID)
	}
	s.mu.Unlock()
	return nil
}

// WaitForKeySync blocks until an enrolled device answers the requester's
// key sync, then claims the envelope. Claiming removes it, so exactly one
// waiter wins. Times out with ErrKeySyncTimeout.
func (s *KeyExchangeService) WaitForKeySync(ctx context.Context, userID, requesterDeviceID string) (*models.KeySyncResponse, error) {
	// An answer may have landed before we started waiting.
	resp, err := s.keySyncRepo.Claim(ctx, userID, requesterDeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim key sync response: %w", err)
	}
	if resp != nil {
		return resp, nil
	}

	waiterKey := userID + ":" + requesterDeviceID
	s.mu.Lock()
	ch, ok := s.waiters[waiterKey]
	if !ok {
		ch = make(chan struct{})
		s.waiters[waiterKey] = ch
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.opts.KeySyncTimeout)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
		s.mu.Lock()
		delete(s.waiters, waiterKey)
		s.mu.Unlock()
		return nil, models.ErrKeySyncTimeout
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.waiters, waiterKey)
		s.mu.Unlock()
		return nil, ctx.Err()
	}

	resp, err = s.keySyncRepo.Claim(ctx, userID, requesterDeviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim key sync response: %w", err)
	}
	if resp == nil {
		return nil, models.ErrKeySyncTimeout
	}
	return resp, nil
}

// RequestBackfill starts (or resumes) the job that gets historical messages
// readable on a newly-keyed device. If a job is already running for the
// user the caller polls that one instead of racing it. A fresh job resumes
// from the latest checkpoint recorded for the same target key, which is
// what makes a crashed run cheap to restart.
func (s *KeyExchangeService) RequestBackfill(ctx context.Context, userID, deviceID string) (*models.BackfillJob, error) {
	targetKey, err := s.GetKey(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if active, err := s.backfillRepo.GetActiveForUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to check active backfill: %w", err)
	} else if active != nil {
		return active, nil
	}

	job := models.NewBackfillJob(userID, deviceID, targetKey.KeyID)
	if previous, err := s.backfillRepo.GetLatestForKey(ctx, userID, targetKey.KeyID); err != nil {
		return nil, fmt.Errorf("failed to check previous backfill: %w", err)
	} else if previous != nil {
		job.Checkpoint = previous.Checkpoint
	}

	if err := s.backfillRepo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create backfill job: %w", err)
	}

	go s.runBackfill(job.ID, userID)

	s.logger.WithFields(map[string]interface{}{
		"job_id":    job.ID,
		"device_id": deviceID,
	}).Info("Backfill job started")
	return job, nil
}

// GetBackfillStatus reports a job's progress.
func (s *KeyExchangeService) GetBackfillStatus(ctx context.Context, userID, jobID string) (*models.BackfillJob, error) {
	job, err := s.backfillRepo.GetByID(ctx, userID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get backfill job: %w", err)
	}
	if job == nil {
		return nil, models.ErrBackfillNotFound
	}
	return job, nil
}

// ApplyBackfillEnvelopes accepts the re-wrapped envelopes a responding
// device produced for a batch. Each envelope merges into its message; rows
// that already carry one for the same key are untouched, so duplicate
// responses are harmless.
func (s *KeyExchangeService) ApplyBackfillEnvelopes(ctx context.Context, userID, jobID string, envelopes map[string]models.KeyEnvelope) (int, error) {
	job, err := s.backfillRepo.GetByID(ctx, userID, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to get backfill job: %w", err)
	}
	if job == nil {
		return 0, models.ErrBackfillNotFound
	}
	if job.Status != models.BackfillStatusProcessing {
		return 0, models.ErrBackfillNotRunning
	}

	applied := 0
	for messageID, envelope := range envelopes {
		if err := s.messageRepo.MergeEnvelopes(ctx, userID, messageID, []models.KeyEnvelope{envelope}); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"job_id":     jobID,
				"message_id": messageID,
				"error":      err.Error(),
			}).Warn("Failed to merge backfill envelope")
			continue
		}
		applied++

		s.mu.Lock()
		if ids, ok := s.pending[jobID]; ok && ids[messageID] {
			delete(ids, messageID)
			if len(ids) == 0 {
				if ch, ok := s.progress[jobID]; ok {
					close(ch)
					delete(s.progress, jobID)
				}
			}
		}
		s.mu.Unlock()
	}
	return applied, nil
}

// runBackfill is the job runner. Each round scans a batch of encrypted
// messages from the checkpoint, skips rows already readable by the target
// key or the sync group, farms the rest to live enrolled devices and waits
// for their envelopes. The checkpoint only advances after a round settles,
// so a crash re-scans at most one batch.
func (s *KeyExchangeService) runBackfill(jobID, userID string) {
	ctx := context.Background()

	job, err := s.backfillRepo.GetByID(ctx, userID, jobID)
	if err != nil || job == nil {
		return
	}
	job.Status = models.BackfillStatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := s.backfillRepo.Update(ctx, job); err != nil {
		return
	}

	targetKey, err := s.deviceKeyRepo.GetByDeviceID(ctx, job.DeviceID)
	if err != nil || targetKey == nil {
		s.failBackfill(ctx, job, "target device key disappeared")
		return
	}

	skipKeys := []string{targetKey.KeyID}
	if group, err := s.groupKeyRepo.GetForUser(ctx, userID); err == nil && group != nil {
		skipKeys = append(skipKeys, group.KeyID)
	}

	for {
		page, err := s.pageEncryptedSince(ctx, userID, job.Checkpoint)
		if err != nil {
			s.failBackfill(ctx, job, "failed to scan messages: "+err.Error())
			return
		}
		if len(page) == 0 {
			job.Status = models.BackfillStatusDone
			job.UpdatedAt = time.Now().UTC()
			if err := s.backfillRepo.Update(ctx, job); err != nil {
				s.logger.WithField("error", err.Error()).Error("Failed to finish backfill job")
			}
			s.logger.WithFields(map[string]interface{}{
				"job_id":  job.ID,
				"scanned": job.Scanned,
				"updated": job.Updated,
				"skipped": job.Skipped,
			}).Info("Backfill complete")
			return
		}

		ids := make([]string, len(page))
		for i, msg := range page {
			ids[i] = msg.ID
		}
		covered, err := s.messageRepo.EnvelopesFor(ctx, userID, ids, skipKeys)
		if err != nil {
			s.failBackfill(ctx, job, "failed to load envelopes: "+err.Error())
			return
		}

		var work []models.BackfillWorkItem
		for _, msg := range page {
			if len(covered[msg.ID]) > 0 {
				job.Skipped++
				continue
			}
			work = append(work, models.BackfillWorkItem{
				MessageID: msg.ID,
				Envelopes: msg.Envelopes,
			})
		}
		job.Scanned += len(page)

		if len(work) > 0 {
			if err := s.dispatchBatch(ctx, job, targetKey, work); err != nil {
				s.failBackfill(ctx, job, err.Error())
				return
			}
			job.Updated += len(work)
		}

		job.Checkpoint = page[len(page)-1].Timestamp
		job.UpdatedAt = time.Now().UTC()
		if err := s.backfillRepo.Update(ctx, job); err != nil {
			s.logger.WithField("error", err.Error()).Error("Failed to checkpoint backfill job")
			return
		}
	}
}

// pageEncryptedSince scans one checkpoint batch. The checkpoint is a bare
// timestamp with a strict > scan, so as with delta fetches a batch must never
// end inside a run of equal timestamps: advancing the checkpoint mid-run
// would skip the rest of the run forever.
func (s *KeyExchangeService) pageEncryptedSince(ctx context.Context, userID string, checkpoint int64) ([]*models.Message, error) {
	limit := s.opts.BackfillBatch
	raw, err := s.messageRepo.ListEncryptedSince(ctx, userID, checkpoint, limit+1)
	if err != nil {
		return nil, err
	}
	if len(raw) <= limit {
		return raw, nil
	}

	boundary := raw[limit].Timestamp
	cut := limit
	for cut > 0 && raw[cut-1].Timestamp == boundary {
		cut--
	}
	if cut > 0 {
		return raw[:cut], nil
	}

	run, err := s.messageRepo.ListEncryptedSince(ctx, userID, checkpoint, limit*4)
	if err != nil {
		return nil, err
	}
	end := len(run)
	for i, msg := range run {
		if msg.Timestamp != boundary {
			end = i
			break
		}
	}
	return run[:end], nil
}

// dispatchBatch pushes one re-wrap batch to the user's live enrolled
// devices and blocks until every envelope arrives or the round times out.
func (s *KeyExchangeService) dispatchBatch(ctx context.Context, job *models.BackfillJob, targetKey *models.DeviceKey, work []models.BackfillWorkItem) error {
	responders := s.hub.ConnectedDevices(job.UserID, job.DeviceID)
	if len(responders) == 0 {
		return fmt.Errorf("no live device available to re-encrypt")
	}

	done := make(chan struct{})
	pending := make(map[string]bool, len(work))
	for _, item := range work {
		pending[item.MessageID] = true
	}
	s.mu.Lock()
	s.pending[job.ID] = pending
	s.progress[job.ID] = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, job.ID)
		delete(s.progress, job.ID)
		s.mu.Unlock()
	}()

	s.hub.BroadcastToUser(job.UserID, ChannelDevices, job.DeviceID, WSMessage{
		Type:    WSTypeBackfillBatch,
		Channel: ChannelDevices,
		Data: models.BackfillBatchEvent{
			JobID:           job.ID,
			TargetKeyID:     targetKey.KeyID,
			TargetPublicKey: targetKey.PublicKey,
			Items:           work,
		},
	})

	timer := time.NewTimer(s.opts.BackfillTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("no device completed the re-encryption batch in time")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *KeyExchangeService) failBackfill(ctx context.Context, job *models.BackfillJob, reason string) {
	job.Status = models.BackfillStatusError
	job.Error = reason
	job.UpdatedAt = time.Now().UTC()
	if err := s.backfillRepo.Update(ctx, job); err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to record backfill failure")
	}
	s.logger.WithFields(map[string]interface{}{
		"job_id": job.ID,
		"reason": reason,
	}).Warn("Backfill job failed")
}
