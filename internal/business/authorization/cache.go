package authorization

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/charging-platform/charging-station-controller/internal/devicemodel"
	"github.com/charging-platform/charging-station-controller/internal/domain/ocpp201"
	"github.com/charging-platform/charging-station-controller/internal/metrics"
	protocol "github.com/charging-platform/charging-station-controller/internal/protocol/ocpp201"
)

// Start 启动缓存维护协程
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.cleanupRoutine()
}

// Stop 停止缓存维护协程
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

// TriggerCleanup 唤醒缓存维护，不阻塞
func (e *Engine) TriggerCleanup() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) cleanupRoutine() {
	defer e.wg.Done()

	e.refreshCacheSize()

	timer := time.NewTimer(e.config.CleanupInterval)
	defer timer.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
			e.logger.Debugf("Triggered authorization cache cleanup")
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
			e.logger.Debugf("Periodic authorization cache cleanup")
		}
		e.cleanup(e.ctx)
		timer.Reset(e.config.CleanupInterval)
	}
}

// cleanup 删除过期条目，再按最近使用时间淘汰超出容量的条目
func (e *Engine) cleanup(ctx context.Context) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()

	entries, err := e.store.ListAuthCacheEntries(storeCtx)
	if err != nil {
		e.logger.Warnf("Could not list authorization cache entries: %v", err)
		return
	}

	now := e.now()
	type aged struct {
		hash     string
		lastUsed time.Time
	}
	live := make([]aged, 0, len(entries))
	for hash, entry := range entries {
		if e.expired(entry, now) {
			if err := e.store.DeleteAuthCacheEntry(storeCtx, hash); err != nil {
				e.logger.Warnf("Could not delete expired cache entry: %v", err)
			}
			continue
		}
		live = append(live, aged{hash: hash, lastUsed: entry.LastUsed})
	}

	if limit, ok := e.settings.GetInt(devicemodel.AuthCacheStorage); ok && limit > 0 && len(live) > limit {
		sort.Slice(live, func(i, j int) bool { return live[i].lastUsed.Before(live[j].lastUsed) })
		for _, victim := range live[:len(live)-limit] {
			if err := e.store.DeleteAuthCacheEntry(storeCtx, victim.hash); err != nil {
				e.logger.Warnf("Could not evict cache entry: %v", err)
			}
		}
		live = live[len(live)-limit:]
	}
	metrics.AuthCacheEntries.Set(float64(len(live)))
}

func (e *Engine) refreshCacheSize() {
	ctx, cancel := context.WithTimeout(e.ctx, e.config.StoreTimeout)
	defer cancel()
	if entries, err := e.store.ListAuthCacheEntries(ctx); err == nil {
		metrics.AuthCacheEntries.Set(float64(len(entries)))
	}
}

// ClearCache 处理ClearCache请求；缓存未启用时拒绝
func (e *Engine) ClearCache(ctx context.Context) (*ocpp201.ClearCacheResponse, error) {
	if !e.settings.GetBool(devicemodel.AuthCacheCtrlrEnabled) {
		return &ocpp201.ClearCacheResponse{Status: ocpp201.ClearCacheStatusRejected}, nil
	}

	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()
	if err := e.store.ClearAuthCache(storeCtx); err != nil {
		return nil, protocol.WrapError(protocol.ErrKindStorage, err, "database error while clearing authorization cache")
	}
	metrics.AuthCacheEntries.Set(0)
	return &ocpp201.ClearCacheResponse{Status: ocpp201.ClearCacheStatusAccepted}, nil
}

// ForgetIdToken 删除指定标识的缓存条目
func (e *Engine) ForgetIdToken(ctx context.Context, token ocpp201.IdToken) error {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()

	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()
	return e.store.DeleteAuthCacheEntry(storeCtx, TokenHash(token))
}

// SendLocalList 处理本地列表全量或差量更新
func (e *Engine) SendLocalList(ctx context.Context, req *ocpp201.SendLocalListRequest) *ocpp201.SendLocalListResponse {
	status := ocpp201.SendLocalListStatusFailed
	if e.settings.GetBool(devicemodel.LocalAuthListCtrlrEnabled) {
		status = e.applyLocalList(ctx, req)
	}

	if status == ocpp201.SendLocalListStatusAccepted {
		storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
		size, err := e.store.LocalListSize(storeCtx)
		cancel()
		if err != nil {
			e.logger.Warnf("Could not count local list entries: %v", err)
		} else if err := e.settings.SetInternal(devicemodel.LocalAuthListCtrlrEntries, strconv.Itoa(size)); err != nil {
			e.logger.Warnf("Could not record local list size: %v", err)
		}
	}
	return &ocpp201.SendLocalListResponse{Status: status}
}

func (e *Engine) applyLocalList(ctx context.Context, req *ocpp201.SendLocalListRequest) ocpp201.SendLocalListStatus {
	if req.VersionNumber <= 0 {
		return ocpp201.SendLocalListStatusFailed
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()

	// 全量与差量更新都不接受版本回退
	current, err := e.store.GetLocalListVersion(storeCtx)
	if err != nil {
		e.logger.Warnf("Could not read local list version: %v", err)
		return ocpp201.SendLocalListStatusFailed
	}
	if req.VersionNumber <= current {
		return ocpp201.SendLocalListStatusVersionMismatch
	}

	switch req.UpdateType {
	case ocpp201.UpdateTypeFull:
		if hasDuplicate(req.LocalAuthorizationList) {
			return ocpp201.SendLocalListStatusFailed
		}
		entries := make(map[string]ocpp201.IdTokenInfo, len(req.LocalAuthorizationList))
		for _, item := range req.LocalAuthorizationList {
			if item.IdTokenInfo == nil {
				return ocpp201.SendLocalListStatusFailed
			}
			entries[TokenHash(item.IdToken)] = *item.IdTokenInfo
		}
		if err := e.store.ReplaceLocalList(storeCtx, req.VersionNumber, entries); err != nil {
			e.logger.Warnf("Full update of local authorization list failed: %v", err)
			return ocpp201.SendLocalListStatusFailed
		}
		return ocpp201.SendLocalListStatusAccepted

	case ocpp201.UpdateTypeDifferential:
		if hasDuplicate(req.LocalAuthorizationList) {
			return ocpp201.SendLocalListStatusFailed
		}
		upserts := make(map[string]ocpp201.IdTokenInfo)
		var removals []string
		for _, item := range req.LocalAuthorizationList {
			hash := TokenHash(item.IdToken)
			if item.IdTokenInfo == nil {
				removals = append(removals, hash)
				continue
			}
			upserts[hash] = *item.IdTokenInfo
		}
		if err := e.store.UpdateLocalList(storeCtx, req.VersionNumber, upserts, removals); err != nil {
			e.logger.Warnf("Differential update of local authorization list failed: %v", err)
			return ocpp201.SendLocalListStatusFailed
		}
		return ocpp201.SendLocalListStatusAccepted
	}
	return ocpp201.SendLocalListStatusFailed
}

// GetLocalListVersion 本地列表未启用时返回0
func (e *Engine) GetLocalListVersion(ctx context.Context) (*ocpp201.GetLocalListVersionResponse, error) {
	if !e.settings.GetBool(devicemodel.LocalAuthListCtrlrEnabled) {
		return &ocpp201.GetLocalListVersionResponse{VersionNumber: 0}, nil
	}
	storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
	defer cancel()
	version, err := e.store.GetLocalListVersion(storeCtx)
	if err != nil {
		return nil, protocol.WrapError(protocol.ErrKindStorage, err, "unable to retrieve local list version")
	}
	return &ocpp201.GetLocalListVersionResponse{VersionNumber: version}, nil
}

func hasDuplicate(list []ocpp201.AuthorizationData) bool {
	seen := make(map[ocpp201.IdTokenType]map[string]struct{})
	for _, item := range list {
		tokens, ok := seen[item.IdToken.Type]
		if !ok {
			tokens = make(map[string]struct{})
			seen[item.IdToken.Type] = tokens
		}
		if _, dup := tokens[item.IdToken.IdToken]; dup {
			return true
		}
		tokens[item.IdToken.IdToken] = struct{}{}
	}
	return false
}
