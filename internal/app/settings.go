package app

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/inlinesoft/whatsdesk/internal/domain"
)

const settingsCacheTTL = 30 * time.Second

// ConfigManager reads runtime settings from sys_config with a short cache,
// so hot paths do not hit the database on every lookup.
type ConfigManager struct {
	app      *Application
	mu       sync.Mutex
	cache    map[string]string
	cachedAt time.Time
}

func NewConfigManager(app *Application) *ConfigManager {
	return &ConfigManager{app: app, cache: map[string]string{}}
}

func (m *ConfigManager) load() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.cachedAt) < settingsCacheTTL && len(m.cache) > 0 {
		return m.cache
	}
	var rows []domain.SysConfig
	if err := m.app.gormDB.Find(&rows).Error; err != nil {
		zap.L().Warn("settings load failed", zap.Error(err))
		return m.cache
	}
	next := make(map[string]string, len(rows))
	for _, r := range rows {
		next[r.Type+"."+r.Name] = r.Value
	}
	m.cache = next
	m.cachedAt = time.Now()
	return m.cache
}

func (m *ConfigManager) value(category, name string) string {
	return m.load()[category+"."+name]
}

func (m *ConfigManager) GetString(category, name string) string {
	return m.value(category, name)
}

func (m *ConfigManager) GetInt(category, name string) int {
	return cast.ToInt(m.value(category, name))
}

func (m *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(m.value(category, name))
}

func (m *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(m.value(category, name))
}

// Save writes settings keyed "category.name" back to sys_config and drops
// the cache.
func (m *ConfigManager) Save(settings map[string]interface{}) error {
	for key, val := range settings {
		parts := strings.SplitN(key, ".", 2)
		if len(parts) != 2 {
			continue
		}
		err := m.app.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", parts[0], parts[1]).
			Update("value", cast.ToString(val)).Error
		if err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.cachedAt = time.Time{}
	m.mu.Unlock()
	return nil
}
