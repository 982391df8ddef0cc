package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/javanstorm/vmbundle/internal/capability"
	"github.com/javanstorm/vmbundle/internal/config"
	"github.com/javanstorm/vmbundle/internal/diskutil"
	"github.com/javanstorm/vmbundle/internal/instance"
	"github.com/javanstorm/vmbundle/internal/logging"
	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

// Replaced in tests.
var (
	newEngine = hypervisor.NewEngine
	probeHost = hypervisor.ProbeHost
)

// app wires the components a command needs from the loaded config.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	engine  hypervisor.Engine
	broker  *capability.Broker
	disks   *diskutil.Operator
	store   *instance.SQLiteStore
	manager *instance.Manager
}

func openApp() (*app, error) {
	cfg := config.Global
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	engine, err := newEngine()
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	broker, err := capability.NewBroker(nil)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := instance.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	disks := diskutil.New(diskutil.Options{
		Binary: cfg.DiskutilPath,
		Sudo:   cfg.DiskutilSudo,
		Format: cfg.ImageFormat,
		Logger: log,
	})

	manager, err := instance.NewManager(instance.Options{
		Store:  store,
		Broker: broker,
		Disks:  disks,
		Limits: engine.Limits(),
		Engine: engine,
		Host:   probeHost,
		Logger: log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		engine:  engine,
		broker:  broker,
		disks:   disks,
		store:   store,
		manager: manager,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// existingDir returns dir or its nearest existing ancestor.
func existingDir(dir string) string {
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
