package instance

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

// DefaultStopTimeout is how long Run waits for a guest to shut down
// before killing it.
const DefaultStopTimeout = 30 * time.Second

// RunOptions configure Run.
type RunOptions struct {
	// Recovery boots into macOS Recovery. Ignored when a saved state is
	// resumed.
	Recovery bool

	// SaveOnStop saves the guest's state into the bundle when ctx is
	// done, instead of shutting it down. The next Run resumes from it.
	SaveOnStop bool

	// StopTimeout defaults to DefaultStopTimeout.
	StopTimeout time.Duration

	// Kill, once closed, stops a guest that is shutting down immediately.
	Kill <-chan struct{}

	// Started, if set, is called once the guest is running.
	Started func(restored bool)
}

// Run boots the instance and blocks until the guest stops. A saved state
// left in the bundle is resumed, and removed whether or not it could be
// restored.
//
// When ctx is done the guest is saved or asked to shut down, and killed
// if it has not stopped within StopTimeout. Run holds the bundle lock
// until it returns.
func (m *Manager) Run(ctx context.Context, id string, opts RunOptions) error {
	if m.engine == nil {
		return errors.New("instance: no engine configured")
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	layout, err := m.layout(ctx, id)
	if err != nil {
		return err
	}
	scope, err := m.broker.Access(layout.Root())
	if err != nil {
		return err
	}
	defer scope.Close()

	release, err := m.acquire(ctx, layout.Root())
	if err != nil {
		return err
	}
	defer release()

	cur, err := m.inspect(layout)
	if err != nil {
		return err
	}
	log := m.log.WithFields(logrus.Fields{"id": id, "bundle": layout.Root()})

	req := &hypervisor.StartRequest{
		DiskImage:         layout.DiskImage(),
		AuxiliaryStorage:  layout.AuxiliaryStorage(),
		HardwareModel:     layout.HardwareModel(),
		MachineIdentifier: layout.MachineIdentifier(),
		CPUs:              cur.Config.CPUCores,
		MemoryBytes:       cur.Config.MemoryBytes(),
		Recovery:          opts.Recovery,
	}
	if _, err := os.Stat(layout.SaveFile()); err == nil {
		req.RestoreFrom = layout.SaveFile()
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	machine, err := m.engine.Start(context.WithoutCancel(ctx), req)
	if err != nil {
		return err
	}
	if req.RestoreFrom != "" {
		if err := os.Remove(req.RestoreFrom); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warn("failed to remove saved state")
		}
	}
	log.WithFields(logrus.Fields{"config": cur.Config.String(), "restored": machine.Restored()}).Info("guest started")

	if err := m.touchRun(ctx, id); err != nil {
		log.WithError(err).Warn("failed to record run")
	}
	if opts.Started != nil {
		opts.Started(machine.Restored())
	}

	select {
	case <-machine.Done():
		log.Info("guest stopped")
		return machine.Err()
	case <-ctx.Done():
	}
	return m.shutdown(context.WithoutCancel(ctx), machine, layout.SaveFile(), opts, log)
}

func (m *Manager) shutdown(ctx context.Context, machine hypervisor.Machine, save string, opts RunOptions, log logrus.FieldLogger) error {
	if opts.SaveOnStop {
		err := machine.Save(ctx, save)
		if err == nil {
			<-machine.Done()
			log.Info("saved guest state")
			return nil
		}
		log.WithError(err).Warn("failed to save guest state, shutting down")
		if err := os.Remove(save); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Warn("failed to remove partial saved state")
		}
	}

	if err := machine.Stop(ctx); err != nil {
		log.WithError(err).Warn("stop request failed")
	}
	timer := time.NewTimer(opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-machine.Done():
		log.Info("guest stopped")
		return machine.Err()
	case <-timer.C:
		log.WithField("timeout", opts.StopTimeout).Warn("guest did not stop, killing")
	case <-opts.Kill:
		log.Warn("killing guest")
	}

	if err := machine.Kill(ctx); err != nil && !errors.Is(err, hypervisor.ErrNotRunning) {
		return err
	}
	<-machine.Done()
	return nil
}

func (m *Manager) touchRun(ctx context.Context, id string) error {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	r.LastRunAt = time.Now().UTC()
	return m.store.Update(ctx, r)
}
