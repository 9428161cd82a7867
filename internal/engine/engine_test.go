package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/himanshuu932/rakshak/internal/models"
	"github.com/himanshuu932/rakshak/internal/reconcile"
	"github.com/himanshuu932/rakshak/internal/repository"
	"github.com/himanshuu932/rakshak/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDirectory struct {
	contacts []*models.Contact
}

func (f *fakeDirectory) GetContact(_ context.Context, contactID string) (*models.Contact, error) {
	for _, c := range f.contacts {
		if c.ID == contactID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("contact not found: %s", contactID)
}

func (f *fakeDirectory) ListContacts(_ context.Context) ([]*models.Contact, error) {
	return f.contacts, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string // "phone|text"
	fail bool
}

func (f *fakeSender) Send(_ context.Context, phoneNumber, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("gateway unavailable")
	}
	f.sent = append(f.sent, phoneNumber+"|"+text)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSettings struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{data: make(map[string]string)}
}

func (f *fakeSettings) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", repository.ErrSettingNotFound
	}
	return v, nil
}

func (f *fakeSettings) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func setupEngine(t *testing.T, dir *fakeDirectory, sender *fakeSender, opts Options) (*Engine, *reconcile.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := reconcile.NewStore(store.NewRedisKV(client), newFakeSettings(), zap.NewNop())
	eng := NewEngine(dir, st, sender, opts, zap.NewNop())
	t.Cleanup(eng.Close)
	return eng, st
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{contacts: []*models.Contact{
		{ID: "c1", DisplayName: "Amma", PhoneNumber: "9876543210", SecretCode: "owl-77"},
		{ID: "c2", DisplayName: "Ravi", PhoneNumber: "+918888877777", SecretCode: "fox-12"},
	}}
}

func fastOptions() Options {
	return Options{
		PollInterval:   10 * time.Millisecond,
		PollTimeout:    time.Second,
		ReconcileDelay: 0,
	}
}

func TestStartCheckSendsSecretCode(t *testing.T) {
	sender := &fakeSender{}
	eng, _ := setupEngine(t, testDirectory(), sender, fastOptions())

	require.NoError(t, eng.StartCheck(context.Background(), "c1"))

	status, err := eng.Status(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckStateAwaitingReply, status.State)
	assert.Equal(t, StatusCheckSent, status.Status)
	require.Equal(t, 1, sender.sentCount())
	assert.Equal(t, "9876543210|owl-77", sender.sent[0])
}

func TestStartCheckSendFailure(t *testing.T) {
	sender := &fakeSender{fail: true}
	eng, _ := setupEngine(t, testDirectory(), sender, fastOptions())

	err := eng.StartCheck(context.Background(), "c1")
	require.Error(t, err)

	status, err := eng.Status(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckStateIdle, status.State)
	assert.Equal(t, StatusSendFailed, status.Status)
}

func TestStartCheckUnknownContact(t *testing.T) {
	eng, _ := setupEngine(t, testDirectory(), &fakeSender{}, fastOptions())
	assert.Error(t, eng.StartCheck(context.Background(), "nope"))
}

func TestHandleEventResolvesCheck(t *testing.T) {
	sender := &fakeSender{}
	eng, st := setupEngine(t, testDirectory(), sender, fastOptions())
	ctx := context.Background()

	require.NoError(t, eng.StartCheck(ctx, "c1"))

	lat, lon := 19.076, 72.8777
	eng.HandleEvent(ctx, &models.InboundEvent{
		SourceAddress: "+919876543210", // 国家码前缀也要能匹配上登记号码
		RawMessage:    "Here is my current location: https://maps.google.com/?q=19.076,72.8777",
		Timestamp:     time.Now().UnixMilli(),
		Latitude:      &lat,
		Longitude:     &lon,
		MapURL:        "https://maps.google.com/?q=19.076,72.8777",
	})

	status, err := eng.Status(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckStateResolved, status.State)
	assert.Equal(t, StatusReceivedPush, status.Status)

	rec, err := st.ReadLocal(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, lat, *rec.Latitude)
}

func TestHandleEventParsesRawText(t *testing.T) {
	eng, st := setupEngine(t, testDirectory(), &fakeSender{}, fastOptions())
	ctx := context.Background()

	require.NoError(t, eng.StartCheck(ctx, "c1"))
	eng.HandleEvent(ctx, &models.InboundEvent{
		SourceAddress: "9876543210",
		RawMessage:    "I am here https://maps.google.com/?q=12.9716,77.5946",
		Timestamp:     time.Now().UnixMilli(),
	})

	status, err := eng.Status(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckStateResolved, status.State)
	assert.Equal(t, StatusParsed, status.Status)

	rec, err := st.ReadLocal(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Latitude)
	assert.Equal(t, 12.9716, *rec.Latitude)
}

func TestHandleEventUnknownSenderIgnored(t *testing.T) {
	eng, st := setupEngine(t, testDirectory(), &fakeSender{}, fastOptions())
	ctx := context.Background()

	lat, lon := 1.0, 2.0
	eng.HandleEvent(ctx, &models.InboundEvent{
		SourceAddress: "5550001111",
		Timestamp:     time.Now().UnixMilli(),
		Latitude:      &lat,
		Longitude:     &lon,
	})

	rec, err := st.ReadLocal(ctx, "5550001111")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHandleEventStaleSkipped(t *testing.T) {
	eng, st := setupEngine(t, testDirectory(), &fakeSender{}, fastOptions())
	ctx := context.Background()

	lat, lon := 28.6139, 77.209
	held := &models.LocationRecord{Latitude: &lat, Longitude: &lon, Timestamp: 2000}
	require.NoError(t, st.WriteLocal(ctx, "9876543210", held))

	oldLat, oldLon := 13.0827, 80.2707
	eng.HandleEvent(ctx, &models.InboundEvent{
		SourceAddress: "9876543210",
		Timestamp:     1000, // 比持有记录更旧
		Latitude:      &oldLat,
		Longitude:     &oldLon,
	})

	rec, err := st.ReadLocal(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(2000), rec.Timestamp)
	assert.Equal(t, lat, *rec.Latitude)
}

func TestHandleEventUnparseableDropsRecord(t *testing.T) {
	eng, st := setupEngine(t, testDirectory(), &fakeSender{}, fastOptions())
	ctx := context.Background()

	// 持有记录只有原文，没有坐标/链接
	require.NoError(t, st.WriteLocal(ctx, "9876543210", &models.LocationRecord{
		RawMessage: "ok will call later",
		Timestamp:  1000,
	}))

	require.NoError(t, eng.StartCheck(ctx, "c1"))
	eng.HandleEvent(ctx, &models.InboundEvent{
		SourceAddress: "9876543210",
		RawMessage:    "battery low, talk soon",
		Timestamp:     time.Now().UnixMilli(),
	})

	rec, err := st.ReadLocal(ctx, "9876543210")
	require.NoError(t, err)
	assert.Nil(t, rec)

	status, err := eng.Status(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckStateIdle, status.State)
	assert.Equal(t, StatusUnparseable, status.Status)
}

func TestHandleEventUnparseableNoPriorRecord(t *testing.T) {
	eng, st := setupEngine(t, testDirectory(), &fakeSender{}, fastOptions())
	ctx := context.Background()

	eng.HandleEvent(ctx, &models.InboundEvent{
		SourceAddress: "9876543210",
		RawMessage:    "hello there",
		Timestamp:     time.Now().UnixMilli(),
	})

	// 解析失败且本无记录：不产生任何垃圾记录
	rec, err := st.ReadLocal(ctx, "9876543210")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHandleEventUnparseableKeepsUsableRecord(t *testing.T) {
	eng, st := setupEngine(t, testDirectory(), &fakeSender{}, fastOptions())
	ctx := context.Background()

	lat, lon := 28.6139, 77.209
	require.NoError(t, st.WriteLocal(ctx, "9876543210", &models.LocationRecord{
		Latitude: &lat, Longitude: &lon, Timestamp: 1000,
	}))

	eng.HandleEvent(ctx, &models.InboundEvent{
		SourceAddress: "9876543210",
		RawMessage:    "on my way",
		Timestamp:     time.Now().UnixMilli(),
	})

	// 已有可用坐标的记录不因一条闲聊短信被删除
	rec, err := st.ReadLocal(ctx, "9876543210")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, lat, *rec.Latitude)
}

func TestPollResolvesOnNewRecord(t *testing.T) {
	eng, st := setupEngine(t, testDirectory(), &fakeSender{}, fastOptions())
	ctx := context.Background()

	require.NoError(t, eng.StartCheck(ctx, "c1"))

	// 模拟另一个写入方（网关进程）直接落库，事件通道没有送达
	lat, lon := 22.5726, 88.3639
	require.NoError(t, st.WriteLocal(ctx, "9876543210", &models.LocationRecord{
		Latitude: &lat, Longitude: &lon, Timestamp: time.Now().UnixMilli(),
	}))

	require.Eventually(t, func() bool {
		status, err := eng.Status(ctx, "c1")
		return err == nil && status.State == models.CheckStateResolved
	}, time.Second, 5*time.Millisecond)

	status, err := eng.Status(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, status.Status)
}

func TestPollIgnoresPreexistingRecord(t *testing.T) {
	eng, st := setupEngine(t, testDirectory(), &fakeSender{}, Options{
		PollInterval:   10 * time.Millisecond,
		PollTimeout:    80 * time.Millisecond,
		ReconcileDelay: 0,
	})
	ctx := context.Background()

	// 检查发起前已有的旧记录不应让轮询立即判定成功
	lat, lon := 22.5726, 88.3639
	require.NoError(t, st.WriteLocal(ctx, "9876543210", &models.LocationRecord{
		Latitude: &lat, Longitude: &lon, Timestamp: time.Now().UnixMilli(),
	}))

	require.NoError(t, eng.StartCheck(ctx, "c1"))

	require.Eventually(t, func() bool {
		status, err := eng.Status(ctx, "c1")
		return err == nil && status.Status == StatusTimedOut
	}, time.Second, 5*time.Millisecond)
}

func TestPollTimesOut(t *testing.T) {
	eng, st := setupEngine(t, testDirectory(), &fakeSender{}, Options{
		PollInterval:   10 * time.Millisecond,
		PollTimeout:    50 * time.Millisecond,
		ReconcileDelay: 0,
	})
	ctx := context.Background()

	require.NoError(t, eng.StartCheck(ctx, "c1"))

	require.Eventually(t, func() bool {
		status, err := eng.Status(ctx, "c1")
		return err == nil && status.State == models.CheckStateIdle && status.Status == StatusTimedOut
	}, time.Second, 5*time.Millisecond)

	// 超时不落任何记录
	rec, err := st.ReadLocal(ctx, "9876543210")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRestartCheckAfterResolve(t *testing.T) {
	sender := &fakeSender{}
	eng, _ := setupEngine(t, testDirectory(), sender, fastOptions())
	ctx := context.Background()

	require.NoError(t, eng.StartCheck(ctx, "c1"))
	lat, lon := 1.5, 2.5
	eng.HandleEvent(ctx, &models.InboundEvent{
		SourceAddress: "9876543210",
		Timestamp:     time.Now().UnixMilli(),
		Latitude:      &lat,
		Longitude:     &lon,
	})

	// Resolved 不粘滞，可以再次发起
	require.NoError(t, eng.StartCheck(ctx, "c1"))
	status, err := eng.Status(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckStateAwaitingReply, status.State)
	assert.Equal(t, 2, sender.sentCount())
}

func TestStatusForIdleContact(t *testing.T) {
	eng, _ := setupEngine(t, testDirectory(), &fakeSender{}, fastOptions())

	status, err := eng.Status(context.Background(), "c2")
	require.NoError(t, err)
	assert.Equal(t, models.CheckStateIdle, status.State)
	assert.Equal(t, StatusIdle, status.Status)
	assert.Nil(t, status.LastLocation)
}

func TestLastLocationReconciles(t *testing.T) {
	eng, st := setupEngine(t, testDirectory(), &fakeSender{}, fastOptions())
	ctx := context.Background()

	lat, lon := 11.0168, 76.9558
	st.WriteExternal(ctx, "9876543210", &models.LocationRecord{
		Latitude: &lat, Longitude: &lon, Timestamp: time.Now().UnixMilli(),
	})

	rec, err := eng.LastLocation(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, lat, *rec.Latitude)
}
