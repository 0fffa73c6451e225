package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"license-server/internal/metrics"
	"license-server/internal/model"
	"license-server/internal/pkg/crypto"
	"license-server/internal/pkg/utils"
	"license-server/internal/store"
)

var (
	ErrInvalidRequest = errors.New("请求参数无效")
	ErrNotFound       = errors.New("授权不存在")
	// ErrCodeExhausted 多次生成的授权码都与已有记录冲突
	ErrCodeExhausted = errors.New("无法生成唯一授权码")
)

// Outcome 激活/复查结果，策略拒绝以结果返回而不是错误
type Outcome string

const (
	OutcomeSuccess          Outcome = "SUCCESS"
	OutcomeInvalidCode      Outcome = "INVALID_CODE"
	OutcomeLicenseNotFound  Outcome = "LICENSE_NOT_FOUND"
	OutcomeRevoked          Outcome = "LICENSE_REVOKED"
	OutcomeExpired          Outcome = "CODE_EXPIRED"
	OutcomeCapacityExceeded Outcome = "CODE_USED"
	OutcomeDeviceBlocked    Outcome = "DEVICE_BLOCKED"
	OutcomeDeviceNotFound   Outcome = "DEVICE_NOT_FOUND"
	OutcomeInvalidToken     Outcome = "INVALID_TOKEN"
)

// 默认的"永久"有效期
const unlimitedYears = 100

// 超过数据库 DATETIME 可表示范围的有效期直接拒绝
const maxExpirationDays = 2_000_000

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Options 服务配置
type Options struct {
	DefaultCountries  []string
	DefaultMaxDevices int
	MaxCodeAttempts   int
	TokenSecret       string
	TokenTTL          time.Duration
	RequireCheckToken bool

	Notifier     Notifier
	Metrics      metrics.Recorder
	Logger       *slog.Logger
	Now          func() time.Time
	GenerateCode func() (string, error)
}

// LicenseService 授权生命周期服务
type LicenseService struct {
	store store.Store
	opts  Options
}

// NewLicenseService 创建授权服务
func NewLicenseService(st store.Store, opts Options) *LicenseService {
	if len(opts.DefaultCountries) == 0 {
		opts.DefaultCountries = []string{"The Netherlands", "Greece", "portugal"}
	}
	if opts.DefaultMaxDevices <= 0 {
		opts.DefaultMaxDevices = 1
	}
	if opts.MaxCodeAttempts <= 0 {
		opts.MaxCodeAttempts = 10
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * 24 * time.Hour
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.GenerateCode == nil {
		opts.GenerateCode = utils.GenerateLicenseCode
	}
	return &LicenseService{store: st, opts: opts}
}

func (s *LicenseService) now() time.Time {
	return s.opts.Now()
}

// GenerateInput 生成授权请求
type GenerateInput struct {
	ExpirationDays   int
	MaxDevices       int
	AllowedCountries []string
	CustomerEmail    string
	CustomerName     string
	Notes            string
}

// Generate 生成授权。插入失败于唯一索引时换一个授权码重试
func (s *LicenseService) Generate(ctx context.Context, in GenerateInput) (*model.License, error) {
	if in.ExpirationDays > maxExpirationDays {
		return nil, fmt.Errorf("%w: expirationDays 超出范围", ErrInvalidRequest)
	}
	now := s.now()

	expiresAt := now.AddDate(unlimitedYears, 0, 0)
	if in.ExpirationDays > 0 {
		expiresAt = now.AddDate(0, 0, in.ExpirationDays)
	}

	maxDevices := in.MaxDevices
	if maxDevices <= 0 {
		maxDevices = s.opts.DefaultMaxDevices
	}

	countries := cleanCountries(in.AllowedCountries)
	if len(countries) == 0 {
		countries = append([]string(nil), s.opts.DefaultCountries...)
	}

	for attempt := 0; attempt < s.opts.MaxCodeAttempts; attempt++ {
		code, err := s.opts.GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("生成授权码失败: %w", err)
		}

		license := &model.License{
			BaseModel:        model.BaseModel{CreatedAt: now},
			Code:             code,
			ExpiresAt:        expiresAt,
			MaxDevices:       maxDevices,
			AllowedCountries: countries,
			CustomerEmail:    strings.TrimSpace(in.CustomerEmail),
			CustomerName:     strings.TrimSpace(in.CustomerName),
			Notes:            in.Notes,
			Devices:          []model.Device{},
		}

		err = s.store.Create(ctx, license)
		if errors.Is(err, store.ErrDuplicateCode) {
			s.opts.Metrics.IncCodeCollision()
			s.opts.Logger.Warn("授权码冲突，重新生成", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("保存授权失败: %w", err)
		}

		s.opts.Metrics.IncAdminOperation("generate")
		s.opts.Logger.Info("授权已生成",
			"license_id", license.ID,
			"code", utils.MaskCode(license.Code),
			"customer", utils.MaskEmail(license.CustomerEmail),
			"max_devices", license.MaxDevices,
			"expires_at", license.ExpiresAt)
		s.opts.Notifier.Notify(EventLicenseCreated, map[string]interface{}{
			"licenseId":  license.ID,
			"code":       license.Code,
			"maxDevices": license.MaxDevices,
			"expiresAt":  license.ExpiresAt,
		})
		return license, nil
	}

	return nil, ErrCodeExhausted
}

func cleanCountries(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ActivateInput 激活请求
type ActivateInput struct {
	Code        string
	Fingerprint string
	DeviceInfo  model.DeviceInfo
	IPAddress   string
}

// CheckInput 复查请求
type CheckInput struct {
	LicenseID   string
	Fingerprint string
	Token       string
	IPAddress   string
}

// ActivationResult 激活/复查结果
type ActivationResult struct {
	Outcome    Outcome
	License    *model.License
	Device     *model.Device
	NewlyBound bool
	Token      string

	ExpiresAt        time.Time
	DaysRemaining    int
	AllowedCountries []string
}

// OK 是否通过
func (r *ActivationResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// rejectByValidity 吊销优先于过期
func rejectByValidity(v model.Validity) Outcome {
	switch v {
	case model.ValidityRevoked:
		return OutcomeRevoked
	case model.ValidityExpired:
		return OutcomeExpired
	default:
		return ""
	}
}

// Activate 激活设备。读取、判定、绑定、保存在 store.Update 内对同一授权串行执行
func (s *LicenseService) Activate(ctx context.Context, in ActivateInput) (*ActivationResult, error) {
	code := model.NormalizeCode(in.Code)
	fingerprint := strings.TrimSpace(in.Fingerprint)
	if code == "" || fingerprint == "" {
		return nil, ErrInvalidRequest
	}
	if !utils.IsLicenseCode(code) {
		s.opts.Metrics.IncActivation(string(OutcomeInvalidCode))
		return &ActivationResult{Outcome: OutcomeInvalidCode}, nil
	}

	now := s.now()
	result := &ActivationResult{}
	license, err := s.store.UpdateByCode(ctx, code, func(l *model.License) (bool, error) {
		result.Outcome = ""
		if outcome := rejectByValidity(l.Validate(now)); outcome != "" {
			result.Outcome = outcome
			return false, nil
		}
		switch l.CanActivate(fingerprint) {
		case model.AdmissionDeviceBlocked:
			result.Outcome = OutcomeDeviceBlocked
			return false, nil
		case model.AdmissionCapacityExceeded:
			result.Outcome = OutcomeCapacityExceeded
			return false, nil
		}
		_, result.NewlyBound = l.Activate(fingerprint, in.DeviceInfo, in.IPAddress, now)
		return true, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		result.Outcome = OutcomeInvalidCode
		s.opts.Metrics.IncActivation(string(result.Outcome))
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("激活失败: %w", err)
	}

	if result.Outcome == "" {
		result.Outcome = OutcomeSuccess
	}
	s.fill(result, license, fingerprint, now)
	s.opts.Metrics.IncActivation(string(result.Outcome))
	s.opts.Logger.Debug("激活请求",
		"license_id", license.ID,
		"outcome", result.Outcome,
		"new_device", result.NewlyBound)

	if result.OK() {
		if err := s.issueToken(result, now); err != nil {
			return nil, err
		}
		data := map[string]interface{}{
			"licenseId":   license.ID,
			"fingerprint": fingerprint,
			"ipAddress":   in.IPAddress,
		}
		s.opts.Notifier.Notify(EventLicenseActivated, data)
		if result.NewlyBound {
			s.opts.Notifier.Notify(EventDeviceBound, data)
		}
	}
	return result, nil
}

// Check 已激活设备复查，只刷新 lastSeen，不会创建新绑定
func (s *LicenseService) Check(ctx context.Context, in CheckInput) (*ActivationResult, error) {
	licenseID := strings.TrimSpace(in.LicenseID)
	fingerprint := strings.TrimSpace(in.Fingerprint)
	if licenseID == "" || fingerprint == "" {
		return nil, ErrInvalidRequest
	}

	now := s.now()
	result := &ActivationResult{}

	if in.Token != "" || s.opts.RequireCheckToken {
		claims, err := crypto.ParseDeviceToken(in.Token, s.opts.TokenSecret, now)
		if err != nil || claims.LicenseID != licenseID || claims.Fingerprint != fingerprint {
			result.Outcome = OutcomeInvalidToken
			s.opts.Metrics.IncCheck(string(result.Outcome))
			return result, nil
		}
	}

	license, err := s.store.Update(ctx, licenseID, func(l *model.License) (bool, error) {
		result.Outcome = ""
		if outcome := rejectByValidity(l.Validate(now)); outcome != "" {
			result.Outcome = outcome
			return false, nil
		}
		if l.FindDevice(fingerprint) == nil {
			result.Outcome = OutcomeDeviceNotFound
			return false, nil
		}
		if l.CanActivate(fingerprint) == model.AdmissionDeviceBlocked {
			result.Outcome = OutcomeDeviceBlocked
			return false, nil
		}
		return l.Touch(fingerprint, now), nil
	})
	if errors.Is(err, store.ErrNotFound) {
		result.Outcome = OutcomeLicenseNotFound
		s.opts.Metrics.IncCheck(string(result.Outcome))
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("复查失败: %w", err)
	}

	if result.Outcome == "" {
		result.Outcome = OutcomeSuccess
	}
	s.fill(result, license, fingerprint, now)
	s.opts.Metrics.IncCheck(string(result.Outcome))

	if result.OK() {
		if err := s.issueToken(result, now); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *LicenseService) fill(result *ActivationResult, l *model.License, fingerprint string, now time.Time) {
	result.License = l
	result.Device = l.FindDevice(fingerprint)
	result.ExpiresAt = l.ExpiresAt
	result.DaysRemaining = l.DaysRemaining(now)
	result.AllowedCountries = l.AllowedCountries
}

func (s *LicenseService) issueToken(result *ActivationResult, now time.Time) error {
	if s.opts.TokenSecret == "" {
		return nil
	}
	token, err := crypto.GenerateDeviceToken(result.License.ID, result.Device.Fingerprint, s.opts.TokenSecret, s.opts.TokenTTL, now)
	if err != nil {
		return fmt.Errorf("生成设备令牌失败: %w", err)
	}
	result.Token = token
	return nil
}

// Revoke 吊销授权，重复调用无副作用
func (s *LicenseService) Revoke(ctx context.Context, id string) (*model.License, error) {
	return s.setRevoked(ctx, id, true)
}

// Unrevoke 恢复授权
func (s *LicenseService) Unrevoke(ctx context.Context, id string) (*model.License, error) {
	return s.setRevoked(ctx, id, false)
}

func (s *LicenseService) setRevoked(ctx context.Context, id string, revoked bool) (*model.License, error) {
	changed := false
	license, err := s.store.Update(ctx, id, func(l *model.License) (bool, error) {
		changed = l.Revoked != revoked
		l.Revoked = revoked
		return changed, nil
	})
	if err != nil {
		return nil, s.storeErr("更新吊销状态失败", err)
	}

	op, event := "unrevoke", EventLicenseUnrevoked
	if revoked {
		op, event = "revoke", EventLicenseRevoked
	}
	s.opts.Metrics.IncAdminOperation(op)
	if changed {
		s.opts.Logger.Info("授权状态已变更", "license_id", id, "revoked", revoked)
		s.opts.Notifier.Notify(event, map[string]interface{}{"licenseId": id})
	}
	return license, nil
}

// BlockDevice 封禁设备。指纹未绑定时不做任何修改
func (s *LicenseService) BlockDevice(ctx context.Context, id, fingerprint string) (*model.License, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, ErrInvalidRequest
	}

	changed := false
	license, err := s.store.Update(ctx, id, func(l *model.License) (bool, error) {
		changed = l.BlockDevice(fingerprint)
		return changed, nil
	})
	if err != nil {
		return nil, s.storeErr("封禁设备失败", err)
	}

	s.opts.Metrics.IncAdminOperation("block_device")
	if changed {
		s.opts.Logger.Info("设备已封禁", "license_id", id, "fingerprint", fingerprint)
		s.opts.Notifier.Notify(EventDeviceBlocked, map[string]interface{}{
			"licenseId":   id,
			"fingerprint": fingerprint,
		})
	}
	return license, nil
}

// EditInput 修改授权，nil 字段保持不变
type EditInput struct {
	ExpiresAt        *time.Time
	AllowedCountries []string // 非空时整体替换
	MaxDevices       *int
	CustomerEmail    *string
	CustomerName     *string
	Notes            *string
}

// Edit 修改授权字段
func (s *LicenseService) Edit(ctx context.Context, id string, in EditInput) (*model.License, error) {
	if in.MaxDevices != nil && *in.MaxDevices <= 0 {
		return nil, fmt.Errorf("%w: maxDevices 必须大于 0", ErrInvalidRequest)
	}
	if in.ExpiresAt != nil && in.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: expiresAt 无效", ErrInvalidRequest)
	}
	countries := cleanCountries(in.AllowedCountries)

	license, err := s.store.Update(ctx, id, func(l *model.License) (bool, error) {
		if in.MaxDevices != nil {
			if *in.MaxDevices < len(l.Devices) {
				return false, fmt.Errorf("%w: maxDevices 不能小于已绑定设备数 %d", ErrInvalidRequest, len(l.Devices))
			}
			l.MaxDevices = *in.MaxDevices
		}
		if in.ExpiresAt != nil {
			l.ExpiresAt = in.ExpiresAt.UTC()
		}
		if len(countries) > 0 {
			l.AllowedCountries = countries
		}
		if in.CustomerEmail != nil {
			l.CustomerEmail = strings.TrimSpace(*in.CustomerEmail)
		}
		if in.CustomerName != nil {
			l.CustomerName = strings.TrimSpace(*in.CustomerName)
		}
		if in.Notes != nil {
			l.Notes = *in.Notes
		}
		return true, nil
	})
	if err != nil {
		return nil, s.storeErr("修改授权失败", err)
	}

	s.opts.Metrics.IncAdminOperation("edit")
	s.opts.Logger.Info("授权已修改",
		"license_id", id,
		"code", utils.MaskCode(license.Code),
		"customer", utils.MaskEmail(license.CustomerEmail))
	return license, nil
}

// Delete 删除授权及其全部设备绑定
func (s *LicenseService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return s.storeErr("删除授权失败", err)
	}
	s.opts.Metrics.IncAdminOperation("delete")
	s.opts.Logger.Info("授权已删除", "license_id", id)
	s.opts.Notifier.Notify(EventLicenseDeleted, map[string]interface{}{"licenseId": id})
	return nil
}

// Get 获取授权详情
func (s *LicenseService) Get(ctx context.Context, id string) (*model.License, error) {
	license, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.storeErr("查询授权失败", err)
	}
	return license, nil
}

// ListInput 列表查询
type ListInput struct {
	Filter   string
	Search   string
	Page     int
	PageSize int
}

// ListResult 分页结果
type ListResult struct {
	Items    []*model.License
	Total    int64
	Page     int
	PageSize int
}

// List 按创建时间倒序分页查询
func (s *LicenseService) List(ctx context.Context, in ListInput) (*ListResult, error) {
	filter, ok := store.ParseFilter(in.Filter)
	if !ok {
		return nil, fmt.Errorf("%w: 未知过滤条件 %q", ErrInvalidRequest, in.Filter)
	}

	page := in.Page
	if page < 1 {
		page = 1
	}
	pageSize := in.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	items, total, err := s.store.List(ctx, store.ListQuery{
		Filter: filter,
		Search: strings.TrimSpace(in.Search),
		Offset: (page - 1) * pageSize,
		Limit:  pageSize,
		Now:    s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("查询授权列表失败: %w", err)
	}
	return &ListResult{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Stats 授权统计
func (s *LicenseService) Stats(ctx context.Context) (store.Stats, error) {
	st, err := s.store.Stats(ctx, s.now())
	if err != nil {
		return store.Stats{}, fmt.Errorf("统计授权失败: %w", err)
	}
	return st, nil
}

func (s *LicenseService) storeErr(msg string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrInvalidRequest):
		return err
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

// ValidateCode 只读校验授权码，不绑定设备
func (s *LicenseService) ValidateCode(ctx context.Context, code string) (model.Validity, *model.License, error) {
	code = model.NormalizeCode(code)
	if code == "" {
		return "", nil, ErrInvalidRequest
	}
	license, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return "", nil, s.storeErr("查询授权失败", err)
	}
	return license.Validate(s.now()), license, nil
}
