package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/himanshuu932/rakshak/internal/locparse"
	"github.com/himanshuu932/rakshak/internal/models"
	"github.com/himanshuu932/rakshak/internal/phone"
	"github.com/himanshuu932/rakshak/internal/reconcile"
	"github.com/himanshuu932/rakshak/internal/transport"

	"go.uber.org/zap"
)

// 对外展示的状态文案
const (
	StatusIdle         = "Idle"
	StatusCheckSent    = "Check sent, waiting for location..."
	StatusTimedOut     = "Timed out waiting for reply."
	StatusReceived     = "Location received!"
	StatusReceivedPush = "Location received (gateway event)."
	StatusParsed       = "Parsed location from message."
	StatusUnparseable  = "Message received but no URL/coords, raw message removed."
	StatusSendFailed   = "Send failed"
)

// ContactDirectory 联系人目录的最小接口
type ContactDirectory interface {
	GetContact(ctx context.Context, contactID string) (*models.Contact, error)
	ListContacts(ctx context.Context) ([]*models.Contact, error)
}

// Options 检查周期参数
type Options struct {
	PollInterval   time.Duration // 轮询兜底间隔
	PollTimeout    time.Duration // 等待回复的超时窗口
	ReconcileDelay time.Duration // 持久化后延迟对账的时间（0 表示立即）
}

// checkCycle 单个联系人的检查周期状态
// 同一联系人同时只允许一个活动轮询器，新检查会取消旧轮询
type checkCycle struct {
	state      models.CheckState
	status     string
	baselineTs int64 // 检查发起时已持有记录的时间戳，轮询只认更新的记录
	updatedAt  int64
	cancelPoll context.CancelFunc
}

// Engine 消息关联引擎
// 入站事件与轮询兜底共同驱动状态机：Idle → AwaitingReply →（Resolved | 超时回 Idle）
type Engine struct {
	contacts ContactDirectory
	store    *reconcile.Store
	sender   transport.SMSSender
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	cycles map[string]*checkCycle // contact_id → cycle
	wg     sync.WaitGroup
}

// NewEngine 创建关联引擎
func NewEngine(contacts ContactDirectory, store *reconcile.Store, sender transport.SMSSender, opts Options, logger *zap.Logger) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 60 * time.Second
	}
	return &Engine{
		contacts: contacts,
		store:    store,
		sender:   sender,
		opts:     opts,
		logger:   logger,
		cycles:   make(map[string]*checkCycle),
	}
}

// StartCheck 发起位置检查：发送暗号短信并进入 AwaitingReply
// Resolved 状态不粘滞，再次发起检查会重新进入等待
func (e *Engine) StartCheck(ctx context.Context, contactID string) error {
	contact, err := e.contacts.GetContact(ctx, contactID)
	if err != nil {
		return fmt.Errorf("failed to load contact: %w", err)
	}
	if contact.SecretCode == "" {
		return fmt.Errorf("secret code is not set for contact %s", contactID)
	}

	held, err := e.store.ReadLocal(ctx, contact.PhoneNumber)
	if err != nil {
		e.logger.Warn("StartCheck: failed to read held record", zap.Error(err))
	}
	var baseline int64
	if held != nil {
		baseline = held.Timestamp
	}

	if err := e.sender.Send(ctx, contact.PhoneNumber, contact.SecretCode); err != nil {
		e.setCycle(contactID, models.CheckStateIdle, StatusSendFailed, baseline, nil)
		return fmt.Errorf("failed to send check request: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	e.setCycle(contactID, models.CheckStateAwaitingReply, StatusCheckSent, baseline, cancel)

	e.wg.Add(1)
	go e.pollForLocation(pollCtx, contactID, contact.PhoneNumber, baseline)

	e.logger.Info("Check request sent",
		zap.String("contact_id", contactID),
		zap.String("phone", contact.PhoneNumber),
	)
	return nil
}

// HandleEvent 处理一条入站事件，任何子步骤失败只降级不中断
func (e *Engine) HandleEvent(ctx context.Context, ev *models.InboundEvent) {
	// 1. 匹配联系人，不认识的发送者直接丢弃（预期内的噪声）
	contact := e.matchContact(ctx, ev)
	if contact == nil {
		e.logger.Debug("Inbound event does not match any contact, discarding",
			zap.String("source", ev.SourceAddress),
		)
		return
	}

	// 2. 新鲜度检查
	held, err := e.store.ReadLocal(ctx, contact.PhoneNumber)
	if err != nil {
		e.logger.Warn("HandleEvent: failed to read held record", zap.Error(err))
	}
	candidate := ev.Record()
	if !reconcile.Fresher(held, candidate) {
		e.logger.Debug("Inbound event is not fresher than held record, skipping persist",
			zap.String("contact_id", contact.ID),
			zap.Int64("event_ts", ev.Timestamp),
		)
		// 网关可能独立更新过外部存储，仍然安排一次对账
		e.scheduleReconcile(contact.PhoneNumber)
		return
	}

	// 3. 事件自带坐标或链接：直接持久化
	if candidate.HasCoordsOrURL() {
		e.persistAndResolve(ctx, contact, candidate, StatusReceivedPush)
		e.scheduleReconcile(contact.PhoneNumber)
		return
	}

	// 4. 只有原文：尝试解析
	if ev.RawMessage != "" {
		if parsed := locparse.Parse(ev.RawMessage); parsed != nil {
			enriched := &models.LocationRecord{
				Latitude:   parsed.Latitude,
				Longitude:  parsed.Longitude,
				MapURL:     parsed.MapURL,
				RawMessage: ev.RawMessage,
				Timestamp:  ev.Timestamp,
			}
			e.persistAndResolve(ctx, contact, enriched, StatusParsed)
		} else {
			// 解析失败：已有记录也无坐标/链接时删除，避免堆积无用噪声
			e.dropUnparseable(ctx, contact, held)
		}
	}

	// 5. 持久化（或无操作）之后对外部存储做延迟对账
	e.scheduleReconcile(contact.PhoneNumber)
}

// Status 返回联系人的检查状态快照
func (e *Engine) Status(ctx context.Context, contactID string) (*models.CheckStatus, error) {
	contact, err := e.contacts.GetContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}

	e.mu.Lock()
	cycle := e.cycles[contactID]
	var state models.CheckState = models.CheckStateIdle
	status := StatusIdle
	var updatedAt int64
	if cycle != nil {
		state = cycle.state
		status = cycle.status
		updatedAt = cycle.updatedAt
	}
	e.mu.Unlock()

	rec, err := e.store.ReadLocal(ctx, contact.PhoneNumber)
	if err != nil {
		e.logger.Warn("Status: failed to read record", zap.Error(err))
	}

	return &models.CheckStatus{
		ContactID:    contactID,
		State:        state,
		Status:       status,
		LastLocation: rec,
		UpdatedAt:    updatedAt,
	}, nil
}

// LastLocation 对账后返回联系人的最新位置记录
func (e *Engine) LastLocation(ctx context.Context, contactID string) (*models.LocationRecord, error) {
	contact, err := e.contacts.GetContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}
	return e.store.Reconcile(ctx, contact.PhoneNumber)
}

// Close 取消所有活动轮询并等待退出
func (e *Engine) Close() {
	e.mu.Lock()
	for _, cycle := range e.cycles {
		if cycle.cancelPoll != nil {
			cycle.cancelPoll()
			cycle.cancelPoll = nil
		}
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// matchContact 将事件归属到已知联系人（先试 canonicalPhone，再试来源地址）
func (e *Engine) matchContact(ctx context.Context, ev *models.InboundEvent) *models.Contact {
	contacts, err := e.contacts.ListContacts(ctx)
	if err != nil {
		e.logger.Error("Failed to list contacts for matching", zap.Error(err))
		return nil
	}
	for _, c := range contacts {
		if ev.CanonicalPhone != "" && phone.Matches(ev.CanonicalPhone, c.PhoneNumber) {
			return c
		}
		if phone.Matches(ev.SourceAddress, c.PhoneNumber) {
			return c
		}
	}
	return nil
}

// persistAndResolve 写入双后端并结束当前检查周期
func (e *Engine) persistAndResolve(ctx context.Context, contact *models.Contact, rec *models.LocationRecord, status string) {
	if err := e.store.WriteLocal(ctx, contact.PhoneNumber, rec); err != nil {
		e.logger.Error("Failed to persist location record",
			zap.String("contact_id", contact.ID),
			zap.Error(err),
		)
		// 本地写失败时外部存储仍可能成功，继续执行
	}
	e.store.WriteExternal(ctx, contact.PhoneNumber, rec)

	e.resolveCycle(contact.ID, status)
	e.logger.Info("Location record updated",
		zap.String("contact_id", contact.ID),
		zap.Int64("timestamp", rec.Timestamp),
		zap.Bool("has_coords", rec.Latitude != nil && rec.Longitude != nil),
	)
}

// dropUnparseable 解析失败的善后：现存记录同样无坐标/链接时删除
func (e *Engine) dropUnparseable(ctx context.Context, contact *models.Contact, held *models.LocationRecord) {
	if held == nil || !held.HasCoordsOrURL() {
		if err := e.store.DeleteLocal(ctx, contact.PhoneNumber); err != nil {
			e.logger.Warn("Failed to delete unparseable record", zap.Error(err))
		}
	}
	e.endCycle(contact.ID, StatusUnparseable)
	e.logger.Info("Inbound message had no location payload",
		zap.String("contact_id", contact.ID),
	)
}

// scheduleReconcile 在固定延迟后对外部存储做一次对账
// 网关可能在事件载荷之外独立写入外部存储，延迟让两个写入方先行完成
func (e *Engine) scheduleReconcile(phoneNumber string) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := e.store.Reconcile(ctx, phoneNumber); err != nil {
			e.logger.Warn("Post-persist reconcile failed", zap.Error(err))
		}
	}
	if e.opts.ReconcileDelay <= 0 {
		run()
		return
	}
	e.wg.Add(1)
	time.AfterFunc(e.opts.ReconcileDelay, func() {
		defer e.wg.Done()
		run()
	})
}

// pollForLocation 轮询兜底：事件通道失效时仍能在超时窗口内发现新记录
func (e *Engine) pollForLocation(ctx context.Context, contactID, phoneNumber string, baselineTs int64) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()
	deadline := time.After(e.opts.PollTimeout)

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			if ctx.Err() != nil {
				// 事件通道已经结束本周期，超时不再覆盖
				return
			}
			// 超时是一次终态，不是错误；用户可以重新发起检查
			e.endCycle(contactID, StatusTimedOut)
			e.logger.Info("Check request timed out",
				zap.String("contact_id", contactID),
			)
			return
		case <-ticker.C:
			rec, err := e.store.Reconcile(ctx, phoneNumber)
			if err != nil || rec == nil {
				continue
			}
			if rec.Timestamp <= baselineTs {
				continue
			}
			if !rec.HasCoordsOrURL() && rec.RawMessage != "" {
				// 裸原文记录：先尝试解析，失败则丢弃
				if parsed := locparse.Parse(rec.RawMessage); parsed != nil {
					enriched := &models.LocationRecord{
						Latitude:   parsed.Latitude,
						Longitude:  parsed.Longitude,
						MapURL:     parsed.MapURL,
						RawMessage: rec.RawMessage,
						Timestamp:  rec.Timestamp,
					}
					if err := e.store.WriteLocal(ctx, phoneNumber, enriched); err != nil {
						e.logger.Warn("Poll: failed to persist parsed record", zap.Error(err))
					}
					e.store.WriteExternal(ctx, phoneNumber, enriched)
					e.resolveCycle(contactID, StatusParsed)
				} else {
					if err := e.store.DeleteLocal(ctx, phoneNumber); err != nil {
						e.logger.Warn("Poll: failed to delete unparseable record", zap.Error(err))
					}
					e.endCycle(contactID, StatusUnparseable)
				}
				return
			}
			e.resolveCycle(contactID, StatusReceived)
			return
		}
	}
}

// setCycle 替换联系人的检查周期（取消旧轮询）
func (e *Engine) setCycle(contactID string, state models.CheckState, status string, baselineTs int64, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.cycles[contactID]; ok && old.cancelPoll != nil {
		old.cancelPoll()
	}
	e.cycles[contactID] = &checkCycle{
		state:      state,
		status:     status,
		baselineTs: baselineTs,
		updatedAt:  time.Now().UnixMilli(),
		cancelPoll: cancel,
	}
}

// resolveCycle 进入 Resolved 并停掉轮询
func (e *Engine) resolveCycle(contactID, status string) {
	e.transition(contactID, models.CheckStateResolved, status)
}

// endCycle 回到 Idle（超时或不可用回复）并停掉轮询
func (e *Engine) endCycle(contactID, status string) {
	e.transition(contactID, models.CheckStateIdle, status)
}

func (e *Engine) transition(contactID string, state models.CheckState, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cycle, ok := e.cycles[contactID]
	if !ok {
		cycle = &checkCycle{}
		e.cycles[contactID] = cycle
	}
	if cycle.cancelPoll != nil {
		cycle.cancelPoll()
		cycle.cancelPoll = nil
	}
	cycle.state = state
	cycle.status = status
	cycle.updatedAt = time.Now().UnixMilli()
}
