package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/himanshuu932/rakshak/internal/models"
	"github.com/himanshuu932/rakshak/internal/phone"
	"github.com/himanshuu932/rakshak/internal/repository"
	"github.com/himanshuu932/rakshak/internal/store"

	"go.uber.org/zap"
)

// KeyPrefix 位置记录的存储键前缀（两个后端共用同一键格式）
const KeyPrefix = "lastLocation_"

// Settings 外部设置存储的最小接口（便于在单元测试中替换 Postgres）
type Settings interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Store 双后端位置存储：本地 KV（Redis）为主，外部设置存储（Postgres）为辅
// 两个后端可能短暂不一致，由 Reconcile 按时间戳确定性收敛
type Store struct {
	kv       store.KV
	settings Settings
	logger   *zap.Logger
}

// NewStore 创建双后端存储
func NewStore(kv store.KV, settings Settings, logger *zap.Logger) *Store {
	return &Store{
		kv:       kv,
		settings: settings,
		logger:   logger,
	}
}

// Key 构建位置记录存储键
func Key(phoneNumber string) string {
	return KeyPrefix + phoneNumber
}

// Fresher 新候选记录是否应替换当前持有记录
// 规则：无持有记录，或候选时间戳严格更新，或时间戳打平但坐标/链接不同
// （打平且载荷相同视为重复事件，不做替换）
func Fresher(held, candidate *models.LocationRecord) bool {
	if candidate == nil || candidate.IsEmpty() {
		return false
	}
	if held == nil {
		return true
	}
	if candidate.Timestamp > held.Timestamp {
		return true
	}
	if candidate.Timestamp == held.Timestamp && !candidate.SamePayload(held) {
		return true
	}
	return false
}

// ReadLocal 读取本地记录，不存在时返回 (nil, nil)
func (s *Store) ReadLocal(ctx context.Context, phoneNumber string) (*models.LocationRecord, error) {
	raw, err := s.kv.Get(ctx, Key(phoneNumber))
	if err != nil {
		if errors.Is(err, store.ErrMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read local record: %w", err)
	}
	var rec models.LocationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal local record: %w", err)
	}
	return &rec, nil
}

// WriteLocal 写入本地记录，空记录拒绝写入
func (s *Store) WriteLocal(ctx context.Context, phoneNumber string, rec *models.LocationRecord) error {
	if rec.IsEmpty() {
		return fmt.Errorf("refusing to persist empty location record for %s", phoneNumber)
	}
	jsonData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.kv.Set(ctx, Key(phoneNumber), string(jsonData), 0); err != nil {
		return fmt.Errorf("failed to write local record: %w", err)
	}
	return nil
}

// DeleteLocal 删除本地记录
func (s *Store) DeleteLocal(ctx context.Context, phoneNumber string) error {
	return s.kv.Del(ctx, Key(phoneNumber))
}

// ReadExternal 按候选键顺序查询外部存储，返回第一个命中
func (s *Store) ReadExternal(ctx context.Context, candidates []string) (*models.LocationRecord, error) {
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		raw, err := s.settings.Get(ctx, Key(candidate))
		if err != nil {
			if errors.Is(err, repository.ErrSettingNotFound) {
				continue
			}
			// 单个候选键读取失败不致命，尝试下一个
			s.logger.Warn("External read failed for candidate key",
				zap.String("candidate", candidate),
				zap.Error(err),
			)
			continue
		}
		var rec models.LocationRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("External record is not valid JSON",
				zap.String("candidate", candidate),
				zap.Error(err),
			)
			continue
		}
		return &rec, nil
	}
	return nil, nil
}

// WriteExternal 写入外部存储（尽力而为：失败只记日志，不向上传播）
// 同时写入原始键和归一化键，便于另一端按任一变体找到记录
func (s *Store) WriteExternal(ctx context.Context, phoneNumber string, rec *models.LocationRecord) {
	jsonData, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("Failed to marshal record for external store", zap.Error(err))
		return
	}
	keys := []string{phoneNumber}
	if n := phone.Normalize(phoneNumber); n != "" && n != phoneNumber {
		keys = append(keys, n)
	}
	for _, k := range keys {
		if err := s.settings.Set(ctx, Key(k), string(jsonData)); err != nil {
			s.logger.Warn("External write failed",
				zap.String("key", Key(k)),
				zap.Error(err),
			)
		}
	}
}

// Reconcile 对账：外部存储中更新的记录收敛进本地存储
// 冷加载时本地为空则先扫描本地键变体，再查外部候选键；命中则收养为本地记录
func (s *Store) Reconcile(ctx context.Context, phoneNumber string) (*models.LocationRecord, error) {
	local, err := s.ReadLocal(ctx, phoneNumber)
	if err != nil {
		s.logger.Warn("Reconcile: local read failed", zap.Error(err))
	}

	// 本地为空时扫描号码变体键（发送方格式与登记格式不一致的情况）
	if local == nil {
		if adopted, err := s.adoptLocalVariant(ctx, phoneNumber); err == nil && adopted != nil {
			local = adopted
		}
	}

	external, err := s.ReadExternal(ctx, phone.Variants(phoneNumber))
	if err != nil {
		s.logger.Warn("Reconcile: external read failed", zap.Error(err))
	}

	if external != nil && Fresher(local, external) {
		if err := s.WriteLocal(ctx, phoneNumber, external); err != nil {
			s.logger.Warn("Reconcile: failed to adopt external record", zap.Error(err))
			return local, nil
		}
		s.logger.Debug("Reconcile: adopted external record",
			zap.String("phone", phoneNumber),
			zap.Int64("timestamp", external.Timestamp),
		)
		return external, nil
	}

	return local, nil
}

// adoptLocalVariant 扫描本地存储中的 lastLocation_* 键，
// 键后缀与目标号码匹配时将记录复制到规范键下
func (s *Store) adoptLocalVariant(ctx context.Context, phoneNumber string) (*models.LocationRecord, error) {
	keys, err := s.kv.ScanKeys(ctx, KeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		suffix := strings.TrimPrefix(k, KeyPrefix)
		if suffix == phoneNumber || !phone.Matches(suffix, phoneNumber) {
			continue
		}
		raw, err := s.kv.Get(ctx, k)
		if err != nil {
			continue
		}
		var rec models.LocationRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if err := s.kv.Set(ctx, Key(phoneNumber), raw, 0); err != nil {
			return nil, err
		}
		s.logger.Debug("Adopted record stored under variant key",
			zap.String("variant", suffix),
			zap.String("phone", phoneNumber),
		)
		return &rec, nil
	}
	return nil, nil
}
