package configuration

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"

	"git.sr.ht/~spc/go-log"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
)

//go:generate mockgen -package=configuration -destination=configuration_mock.go . Observer
type Observer interface {
	Init(configuration Config) error
	Update(configuration Config) error
	String() string
}

type Manager struct {
	config     Config
	configFile string
	overrides  File

	observers []Observer
	lock      sync.RWMutex
	// updateLock keeps observers seeing configurations in the order stored
	updateLock sync.Mutex
}

// NewConfigurationManager builds the configuration from the optional config
// file with the overrides, usually command line flags, applied on top.
func NewConfigurationManager(configFile string, overrides File) (*Manager, error) {
	mgr := &Manager{
		configFile: configFile,
		overrides:  overrides,
		observers:  make([]Observer, 0),
	}
	cfg, err := mgr.load()
	if err != nil {
		return nil, err
	}
	mgr.config = cfg
	if configFile != "" {
		log.Infof("config file: %s", configFile)
	}
	return mgr, nil
}

func (m *Manager) String() string {
	return "configuration manager"
}

func (m *Manager) load() (Config, error) {
	file := File{}
	if m.configFile != "" {
		var err error
		file, err = LoadFile(m.configFile)
		if err != nil {
			return Config{}, err
		}
	}
	return Build(Merge(file, m.overrides))
}

func (m *Manager) RegisterObserver(observer Observer) {
	// Always trigger the Init phase when register an observer to retrieve the
	// current config.
	err := observer.Init(m.GetConfiguration())
	if err != nil {
		log.Errorf("Running config init observer for '%T' failed: %v", observer, err)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.observers = append(m.observers, observer)
}

func (m *Manager) GetConfiguration() Config {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.config
}

// Update stores the configuration and hands it to every observer. Observer
// failures are collected, the new configuration is kept anyway.
func (m *Manager) Update(config Config) error {
	m.updateLock.Lock()
	defer m.updateLock.Unlock()

	m.lock.Lock()
	if reflect.DeepEqual(config, m.config) {
		m.lock.Unlock()
		log.Trace("configuration didn't change")
		return nil
	}
	m.config = config
	observers := append([]Observer{}, m.observers...)
	m.lock.Unlock()

	log.Infof("updating configuration: %+v", config)
	var errors error
	for _, observer := range observers {
		err := observer.Update(config)
		if err != nil {
			errors = multierror.Append(errors, fmt.Errorf("running update for observer '%T' failed: %s", observer, err))
		}
	}
	return errors
}

// Reload reads the config file again. An invalid file leaves the current
// configuration untouched.
func (m *Manager) Reload() error {
	cfg, err := m.load()
	if err != nil {
		return fmt.Errorf("cannot reload %s: %w", m.configFile, err)
	}
	return m.Update(cfg)
}

// Watch reloads the configuration whenever the config file changes, until
// ctx is done. The directory is watched so files replaced by editors are
// still seen.
func (m *Manager) Watch(ctx context.Context) error {
	if m.configFile == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target := filepath.Clean(m.configFile)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				log.Debugf("config file event: %s", event)
				if err := m.Reload(); err != nil {
					log.Errorf("%v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("config file watcher: %v", err)
			}
		}
	}()
	return nil
}
