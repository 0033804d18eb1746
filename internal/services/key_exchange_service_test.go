package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncflow/server/internal/crypto/devicecrypto"
	"github.com/syncflow/server/internal/models"
	"github.com/syncflow/server/internal/repository"
)

type keyExchangeFixture struct {
	svc        *KeyExchangeService
	sync       *SyncService
	deviceRepo repository.DeviceRepo
	userID     string
}

func newKeyExchangeFixture(t *testing.T, opts KeyExchangeOptions) *keyExchangeFixture {
	t.Helper()
	db := newTestDB(t)
	deviceRepo := repository.NewDeviceRepository(db)
	deviceKeyRepo := repository.NewDeviceKeyRepository(db)
	groupKeyRepo := repository.NewSyncGroupKeyRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	hub := newTestHub()

	svc := NewKeyExchangeService(
		deviceRepo,
		deviceKeyRepo,
		groupKeyRepo,
		repository.NewKeySyncRepository(db),
		repository.NewBackfillJobRepository(db),
		messageRepo,
		hub,
		opts,
	)
	sync := NewSyncService(
		messageRepo,
		repository.NewContactRepository(db),
		repository.NewCallRepository(db),
		repository.NewSyncCursorRepository(db),
		deviceKeyRepo,
		groupKeyRepo,
		NewPhoneService(),
		nil,
		hub,
		nil,
		SyncOptions{},
	)

	user := models.NewUser()
	require.NoError(t, repository.NewUserRepository(db).Create(context.Background(), user))

	return &keyExchangeFixture{
		svc:        svc,
		sync:       sync,
		deviceRepo: deviceRepo,
		userID:     user.ID,
	}
}

func (f *keyExchangeFixture) addDevice(t *testing.T, name string) *models.Device {
	t.Helper()
	device, err := models.NewDevice(f.userID, name, models.PlatformDesktop)
	require.NoError(t, err)
	require.NoError(t, f.deviceRepo.Create(context.Background(), device))
	return device
}

func freshPublicKey(t *testing.T) string {
	t.Helper()
	pair, err := devicecrypto.GenerateKeyPair()
	require.NoError(t, err)
	return devicecrypto.EncodeKey(pair.PublicKey)
}

func TestKeyExchangeService_PublishKey(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes and fetches a device key", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		device := f.addDevice(t, "Phone")
		publicKey := freshPublicKey(t)

		key, err := f.svc.PublishKey(ctx, f.userID, device.ID, publicKey)
		require.NoError(t, err)
		assert.Equal(t, publicKey, key.PublicKey)
		assert.NotEmpty(t, key.KeyID)

		got, err := f.svc.GetKey(ctx, device.ID)
		require.NoError(t, err)
		assert.Equal(t, key.KeyID, got.KeyID)
	})

	t.Run("republishing rotates the key id", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		device := f.addDevice(t, "Phone")

		first, err := f.svc.PublishKey(ctx, f.userID, device.ID, freshPublicKey(t))
		require.NoError(t, err)
		second, err := f.svc.PublishKey(ctx, f.userID, device.ID, freshPublicKey(t))
		require.NoError(t, err)
		assert.NotEqual(t, first.KeyID, second.KeyID)

		got, err := f.svc.GetKey(ctx, device.ID)
		require.NoError(t, err)
		assert.Equal(t, second.KeyID, got.KeyID)
	})

	t.Run("rejects keys for devices the caller does not own", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		device := f.addDevice(t, "Phone")

		_, err := f.svc.PublishKey(ctx, "someone-else", device.ID, freshPublicKey(t))
		assert.ErrorIs(t, err, models.ErrDeviceNotFound)
	})

	t.Run("rejects malformed key material", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		device := f.addDevice(t, "Phone")

		_, err := f.svc.PublishKey(ctx, f.userID, device.ID, "not base64!!!")
		assert.ErrorIs(t, err, models.ErrInvalidPublicKey)
		_, err = f.svc.PublishKey(ctx, f.userID, device.ID, "")
		assert.ErrorIs(t, err, models.ErrInvalidPublicKey)
	})

	t.Run("unknown devices have no key", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		_, err := f.svc.GetKey(ctx, "no-such-device")
		assert.ErrorIs(t, err, models.ErrKeyNotFound)
	})

	t.Run("lists every key in the device set", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		phone := f.addDevice(t, "Phone")
		laptop := f.addDevice(t, "Laptop")

		_, err := f.svc.PublishKey(ctx, f.userID, phone.ID, freshPublicKey(t))
		require.NoError(t, err)
		_, err = f.svc.PublishKey(ctx, f.userID, laptop.ID, freshPublicKey(t))
		require.NoError(t, err)

		keys, err := f.svc.ListKeys(ctx, f.userID)
		require.NoError(t, err)
		assert.Len(t, keys, 2)
	})
}

func TestKeyExchangeService_SyncGroup(t *testing.T) {
	ctx := context.Background()

	t.Run("creating then fetching the group key", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		publicKey := freshPublicKey(t)

		group, err := f.svc.CreateSyncGroup(ctx, f.userID, publicKey)
		require.NoError(t, err)
		assert.Equal(t, 1, group.Version)

		got, err := f.svc.GetSyncGroup(ctx, f.userID)
		require.NoError(t, err)
		assert.Equal(t, group.KeyID, got.KeyID)
		assert.Equal(t, publicKey, got.PublicKey)
	})

	t.Run("re-registration rotates and bumps the version", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})

		first, err := f.svc.CreateSyncGroup(ctx, f.userID, freshPublicKey(t))
		require.NoError(t, err)
		second, err := f.svc.CreateSyncGroup(ctx, f.userID, freshPublicKey(t))
		require.NoError(t, err)

		assert.Equal(t, first.Version+1, second.Version)
		assert.NotEqual(t, first.KeyID, second.KeyID)
	})

	t.Run("users without a group read as no sync group", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		_, err := f.svc.GetSyncGroup(ctx, f.userID)
		assert.ErrorIs(t, err, models.ErrNoSyncGroup)
	})
}

func TestKeyExchangeService_KeySync(t *testing.T) {
	ctx := context.Background()

	enroll := func(t *testing.T, f *keyExchangeFixture, name string) *models.Device {
		t.Helper()
		device := f.addDevice(t, name)
		_, err := f.svc.PublishKey(ctx, f.userID, device.ID, freshPublicKey(t))
		require.NoError(t, err)
		return device
	}

	t.Run("requesting requires a sync group and a published key", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		device := f.addDevice(t, "Laptop")

		err := f.svc.RequestKeySync(ctx, f.userID, device.ID)
		assert.ErrorIs(t, err, models.ErrNoSyncGroup)

		_, err = f.svc.CreateSyncGroup(ctx, f.userID, freshPublicKey(t))
		require.NoError(t, err)

		err = f.svc.RequestKeySync(ctx, f.userID, device.ID)
		assert.ErrorIs(t, err, models.ErrKeyNotFound)

		_, err = f.svc.PublishKey(ctx, f.userID, device.ID, freshPublicKey(t))
		require.NoError(t, err)
		assert.NoError(t, f.svc.RequestKeySync(ctx, f.userID, device.ID))
	})

	t.Run("a response posted before the wait is claimed immediately", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		requester := enroll(t, f, "Laptop")
		responder := enroll(t, f, "Phone")

		err := f.svc.RespondKeySync(ctx, f.userID, responder.ID, &models.KeySyncResponse{
			RequesterDeviceID: requester.ID,
			GroupKeyID:        "gk-1",
			WrappedGroupKey:   "d3JhcHBlZA==",
		})
		require.NoError(t, err)

		resp, err := f.svc.WaitForKeySync(ctx, f.userID, requester.ID)
		require.NoError(t, err)
		assert.Equal(t, responder.ID, resp.ResponderDeviceID)
		assert.Equal(t, "d3JhcHBlZA==", resp.WrappedGroupKey)
	})

	t.Run("claiming is single use", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{KeySyncTimeout: 50 * time.Millisecond})
		requester := enroll(t, f, "Laptop")
		responder := enroll(t, f, "Phone")

		require.NoError(t, f.svc.RespondKeySync(ctx, f.userID, responder.ID, &models.KeySyncResponse{
			RequesterDeviceID: requester.ID,
			WrappedGroupKey:   "d3JhcHBlZA==",
		}))

		_, err := f.svc.WaitForKeySync(ctx, f.userID, requester.ID)
		require.NoError(t, err)

		_, err = f.svc.WaitForKeySync(ctx, f.userID, requester.ID)
		assert.ErrorIs(t, err, models.ErrKeySyncTimeout)
	})

	t.Run("a response arriving mid-wait releases the waiter", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{KeySyncTimeout: 5 * time.Second})
		requester := enroll(t, f, "Laptop")
		responder := enroll(t, f, "Phone")

		type outcome struct {
			resp *models.KeySyncResponse
			err  error
		}
		done := make(chan outcome, 1)
		go func() {
			resp, err := f.svc.WaitForKeySync(ctx, f.userID, requester.ID)
			done <- outcome{resp, err}
		}()

		// Give the waiter time to block before answering.
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, f.svc.RespondKeySync(ctx, f.userID, responder.ID, &models.KeySyncResponse{
			RequesterDeviceID: requester.ID,
			WrappedGroupKey:   "d3JhcHBlZA==",
		}))

		select {
		case got := <-done:
			require.NoError(t, got.err)
			assert.Equal(t, responder.ID, got.resp.ResponderDeviceID)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter never released")
		}
	})

	t.Run("waiting with no responder times out", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{KeySyncTimeout: 30 * time.Millisecond})
		requester := enroll(t, f, "Laptop")

		_, err := f.svc.WaitForKeySync(ctx, f.userID, requester.ID)
		assert.ErrorIs(t, err, models.ErrKeySyncTimeout)
	})

	t.Run("responses missing the requester or the key are rejected", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		responder := enroll(t, f, "Phone")

		err := f.svc.RespondKeySync(ctx, f.userID, responder.ID, &models.KeySyncResponse{WrappedGroupKey: "x"})
		assert.ErrorIs(t, err, models.ErrInvalidPublicKey)
		err = f.svc.RespondKeySync(ctx, f.userID, responder.ID, &models.KeySyncResponse{RequesterDeviceID: "d"})
		assert.ErrorIs(t, err, models.ErrInvalidPublicKey)
	})
}

func TestKeyExchangeService_Backfill(t *testing.T) {
	ctx := context.Background()

	t.Run("requires the target device to have a key", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		device := f.addDevice(t, "Laptop")

		_, err := f.svc.RequestBackfill(ctx, f.userID, device.ID)
		assert.ErrorIs(t, err, models.ErrKeyNotFound)
	})

	t.Run("a job over an empty history finishes immediately", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		device := f.addDevice(t, "Laptop")
		_, err := f.svc.PublishKey(ctx, f.userID, device.ID, freshPublicKey(t))
		require.NoError(t, err)

		job, err := f.svc.RequestBackfill(ctx, f.userID, device.ID)
		require.NoError(t, err)
		require.NotEmpty(t, job.ID)

		assert.Eventually(t, func() bool {
			status, err := f.svc.GetBackfillStatus(ctx, f.userID, job.ID)
			return err == nil && status.Status == models.BackfillStatusDone
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("messages already readable by the target key are skipped", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		device := f.addDevice(t, "Laptop")
		key, err := f.svc.PublishKey(ctx, f.userID, device.ID, freshPublicKey(t))
		require.NoError(t, err)

		msg := testMessage("m1", 1000)
		msg.Body = ""
		msg.EncryptedBody = "Y2lwaGVydGV4dA=="
		msg.Envelopes = []models.KeyEnvelope{{RecipientKeyID: key.KeyID, WrappedKey: "d3JhcHBlZA=="}}
		_, err = f.sync.SubmitMessages(ctx, f.userID, device.ID, []models.Message{msg})
		require.NoError(t, err)

		job, err := f.svc.RequestBackfill(ctx, f.userID, device.ID)
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			status, err := f.svc.GetBackfillStatus(ctx, f.userID, job.ID)
			return err == nil && status.Status == models.BackfillStatusDone
		}, 2*time.Second, 20*time.Millisecond)

		status, err := f.svc.GetBackfillStatus(ctx, f.userID, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, status.Scanned)
		assert.Equal(t, 1, status.Skipped)
		assert.Equal(t, 0, status.Updated)
	})

	t.Run("the scan walks an equal-timestamp run without losing messages", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{BackfillBatch: 2})
		device := f.addDevice(t, "Laptop")
		key, err := f.svc.PublishKey(ctx, f.userID, device.ID, freshPublicKey(t))
		require.NoError(t, err)

		// Five covered messages share one timestamp, one trails after. A
		// checkpoint advanced mid-run would never scan the run's tail.
		batch := make([]models.Message, 0, 6)
		for i := 0; i < 5; i++ {
			msg := testMessage(fmt.Sprintf("m%d", i), 2000)
			msg.Body = ""
			msg.EncryptedBody = "Y2lwaGVydGV4dA=="
			msg.Envelopes = []models.KeyEnvelope{{RecipientKeyID: key.KeyID, WrappedKey: "d3JhcHBlZA=="}}
			batch = append(batch, msg)
		}
		late := testMessage("m5", 3000)
		late.Body = ""
		late.EncryptedBody = "Y2lwaGVydGV4dA=="
		late.Envelopes = []models.KeyEnvelope{{RecipientKeyID: key.KeyID, WrappedKey: "d3JhcHBlZA=="}}
		batch = append(batch, late)
		_, err = f.sync.SubmitMessages(ctx, f.userID, device.ID, batch)
		require.NoError(t, err)

		job, err := f.svc.RequestBackfill(ctx, f.userID, device.ID)
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			status, err := f.svc.GetBackfillStatus(ctx, f.userID, job.ID)
			return err == nil && status.Status == models.BackfillStatusDone
		}, 2*time.Second, 20*time.Millisecond)

		status, err := f.svc.GetBackfillStatus(ctx, f.userID, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 6, status.Scanned)
		assert.Equal(t, 6, status.Skipped)
	})

	t.Run("a batch with no live responder fails the job", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		device := f.addDevice(t, "Laptop")
		_, err := f.svc.PublishKey(ctx, f.userID, device.ID, freshPublicKey(t))
		require.NoError(t, err)

		msg := testMessage("m1", 1000)
		msg.Body = ""
		msg.EncryptedBody = "Y2lwaGVydGV4dA=="
		msg.Envelopes = []models.KeyEnvelope{{RecipientKeyID: "other-key", WrappedKey: "d3JhcHBlZA=="}}
		_, err = f.sync.SubmitMessages(ctx, f.userID, device.ID, []models.Message{msg})
		require.NoError(t, err)

		job, err := f.svc.RequestBackfill(ctx, f.userID, device.ID)
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			status, err := f.svc.GetBackfillStatus(ctx, f.userID, job.ID)
			return err == nil && status.Status == models.BackfillStatusError
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("an active job is returned instead of starting another", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{BackfillTimeout: 5 * time.Second})
		device := f.addDevice(t, "Laptop")
		_, err := f.svc.PublishKey(ctx, f.userID, device.ID, freshPublicKey(t))
		require.NoError(t, err)

		// A live second device keeps the dispatch waiting so the job stays
		// active while we ask again.
		responder := f.addDevice(t, "Phone")
		observer := newPresenceObserver(t, f.svc.hub, f.userID, responder.ID)
		require.True(t, f.svc.hub.Subscribe(observer.client, ChannelDevices))

		msg := testMessage("m1", 1000)
		msg.Body = ""
		msg.EncryptedBody = "Y2lwaGVydGV4dA=="
		_, err = f.sync.SubmitMessages(ctx, f.userID, device.ID, []models.Message{msg})
		require.NoError(t, err)

		job, err := f.svc.RequestBackfill(ctx, f.userID, device.ID)
		require.NoError(t, err)

		// The batch broadcast means the runner is blocked waiting on us.
		batch := observer.next(t, 2*time.Second)
		require.Equal(t, WSTypeBackfillBatch, batch.Type)

		again, err := f.svc.RequestBackfill(ctx, f.userID, device.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, again.ID)

		// Answer the batch so the job can finish and apply the envelope.
		applied, err := f.svc.ApplyBackfillEnvelopes(ctx, f.userID, job.ID, map[string]models.KeyEnvelope{
			"m1": {RecipientKeyID: "rewrapped-key", WrappedKey: "d3JhcHBlZA=="},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, applied)

		assert.Eventually(t, func() bool {
			status, err := f.svc.GetBackfillStatus(ctx, f.userID, job.ID)
			return err == nil && status.Status == models.BackfillStatusDone
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("envelopes for an unknown or finished job are refused", func(t *testing.T) {
		f := newKeyExchangeFixture(t, KeyExchangeOptions{})
		device := f.addDevice(t, "Laptop")
		_, err := f.svc.PublishKey(ctx, f.userID, device.ID, freshPublicKey(t))
		require.NoError(t, err)

		_, err = f.svc.ApplyBackfillEnvelopes(ctx, f.userID, "no-such-job", nil)
		assert.ErrorIs(t, err, models.ErrBackfillNotFound)

		job, err := f.svc.RequestBackfill(ctx, f.userID, device.ID)
		require.NoError(t, err)
		assert.Eventually(t, func() bool {
			status, err := f.svc.GetBackfillStatus(ctx, f.userID, job.ID)
			return err == nil && status.Status == models.BackfillStatusDone
		}, 2*time.Second, 20*time.Millisecond)

		_, err = f.svc.ApplyBackfillEnvelopes(ctx, f.userID, job.ID, nil)
		assert.ErrorIs(t, err, models.ErrBackfillNotRunning)
	})
}
