package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ConfigManager loads named YAML configurations, validates them and keeps
// them fresh: every loaded file is watched, and a reload that passes
// validation runs the registered hooks and notifies the change listeners.
type ConfigManager interface {
	LoadConfig(configName string, config Config) error
	GetConfig(configName string) (Config, error)
	RegisterValidator(configName string, validator ValidatorFunc)
	RegisterHook(configName string, hook HookFunc)
	AddChangeListener(listener ConfigChangeListener)
	SetBasePath(path string)
	SetEnvironment(env string)
	Close() error
}

// ValidatorFunc vets a configuration before it becomes active.
type ValidatorFunc func(Config) error

// HookFunc runs on reload with the outgoing and incoming configuration.
// Returning an error keeps the old configuration active.
type HookFunc func(oldVal, newVal Config) error

type configManager struct {
	mu         sync.RWMutex
	configs    map[string]Config
	watchers   map[string]*fsnotify.Watcher
	validators map[string]ValidatorFunc
	hooks      map[string][]HookFunc
	listeners  []ConfigChangeListener
	basePath   string
	env        string
}

// NewConfigManager creates a manager rooted at ./configs for the
// development environment; adjust with SetBasePath and SetEnvironment
// before the first LoadConfig.
func NewConfigManager() ConfigManager {
	return &configManager{
		configs:    make(map[string]Config),
		watchers:   make(map[string]*fsnotify.Watcher),
		validators: make(map[string]ValidatorFunc),
		hooks:      make(map[string][]HookFunc),
		basePath:   "./configs",
		env:        "development",
	}
}

// readConfig builds a viper instance for configName, layering the base
// path, the environment subdirectory and environment variable overrides
// (SERVER_ADDR overrides addr for config "server").
func (cm *configManager) readConfig(configName string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.AddConfigPath(fmt.Sprintf("%s/%s", cm.basePath, cm.env))

	v.AutomaticEnv()
	v.SetEnvPrefix(strings.ToUpper(configName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configName, err)
	}
	return v, nil
}

// LoadConfig reads configName into config, validates it, stores it and
// starts watching the backing file.
func (cm *configManager) LoadConfig(configName string, config Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	v, err := cm.readConfig(configName)
	if err != nil {
		return err
	}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config %s: %w", configName, err)
	}
	if validator, ok := cm.validators[configName]; ok {
		if err := validator(config); err != nil {
			return fmt.Errorf("validate config %s: %w", configName, err)
		}
	}

	cm.configs[configName] = config

	if err := cm.watchConfigFile(configName, v); err != nil {
		return fmt.Errorf("watch config %s: %w", configName, err)
	}
	return nil
}

// GetConfig returns a previously loaded configuration.
func (cm *configManager) GetConfig(configName string) (Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	config, ok := cm.configs[configName]
	if !ok {
		return nil, fmt.Errorf("config %s not loaded", configName)
	}
	return config, nil
}

// RegisterValidator ...
func (cm *configManager) RegisterValidator(configName string, validator ValidatorFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.validators[configName] = validator
}

// RegisterHook ...
func (cm *configManager) RegisterHook(configName string, hook HookFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hooks[configName] = append(cm.hooks[configName], hook)
}

// AddChangeListener registers a listener notified after successful reloads
// of the configuration it names.
func (cm *configManager) AddChangeListener(listener ConfigChangeListener) {
	if listener == nil {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

// SetBasePath ...
func (cm *configManager) SetBasePath(path string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.basePath = path
}

// SetEnvironment ...
func (cm *configManager) SetEnvironment(env string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.env = env
}

// watchConfigFile wires an fsnotify watcher to the file viper resolved.
// In-memory configurations (no file) are not watched.
func (cm *configManager) watchConfigFile(configName string, v *viper.Viper) error {
	configFile := v.ConfigFileUsed()
	if configFile == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	cm.watchers[configName] = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Write) {
					cm.reloadConfig(configName)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				diag(configName, "config watcher error", err)
			}
		}
	}()

	return watcher.Add(configFile)
}

// reloadConfig swaps in a fresh configuration after the backing file
// changed. Any failure along the way is reported through the diagnostic
// sink and the previous configuration stays active.
func (cm *configManager) reloadConfig(configName string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	oldConfig, ok := cm.configs[configName]
	if !ok {
		return
	}

	// a fresh instance of the stored concrete type
	newConfig := reflect.New(reflect.TypeOf(oldConfig).Elem()).Interface().(Config)

	v, err := cm.readConfig(configName)
	if err != nil {
		diag(configName, "reload skipped, read failed", err)
		return
	}
	if err := v.Unmarshal(newConfig); err != nil {
		diag(configName, "reload skipped, unmarshal failed", err)
		return
	}
	if validator, ok := cm.validators[configName]; ok {
		if err := validator(newConfig); err != nil {
			diag(configName, "reload skipped, validation failed", err)
			return
		}
	}
	for _, hook := range cm.hooks[configName] {
		if err := hook(oldConfig, newConfig); err != nil {
			diag(configName, "reload skipped, hook rejected", err)
			return
		}
	}
	for _, listener := range cm.listeners {
		if listener.GetConfigName() != configName {
			continue
		}
		if err := listener.OnConfigChanged(configName, newConfig, oldConfig); err != nil {
			diag(configName, "reload skipped, listener rejected", err)
			return
		}
	}

	cm.configs[configName] = newConfig
}

// Close stops all file watchers.
func (cm *configManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for _, watcher := range cm.watchers {
		if err := watcher.Close(); err != nil {
			return err
		}
	}
	return nil
}
