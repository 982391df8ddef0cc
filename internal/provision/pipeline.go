// Package provision implements the pipeline that turns a name and a
// container directory into an installed VM bundle.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/javanstorm/vmbundle/internal/bundle"
	"github.com/javanstorm/vmbundle/internal/capability"
	"github.com/javanstorm/vmbundle/internal/launch"
	"github.com/javanstorm/vmbundle/internal/logging"
	"github.com/javanstorm/vmbundle/internal/timing"
	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

// DiskCreator allocates the bundle's raw disk image.
type DiskCreator interface {
	Create(ctx context.Context, path string, sizeGiB uint64) error
}

// Options configure a Pipeline.
type Options struct {
	Engine hypervisor.Engine
	Disks  DiskCreator
	Broker *capability.Broker

	// RestoreImageURL, if set, is downloaded over HTTP instead of asking
	// the engine for the latest image.
	RestoreImageURL string
	HTTPClient      *http.Client

	// TimingReport, if set, receives a per-stage timing report after
	// each successful operation.
	TimingReport io.Writer

	Logger logrus.FieldLogger
}

// Request describes one bundle to provision.
type Request struct {
	Name      string
	Container string

	// LocalImage, if set, is copied into the bundle instead of downloading.
	LocalImage string

	Launch launch.Config
}

func (r Request) validate() error {
	switch {
	case r.Name == "" || r.Name == "." || r.Name == "..":
		return fmt.Errorf("%w: name %q", ErrInvalidRequest, r.Name)
	case strings.ContainsRune(r.Name, filepath.Separator):
		return fmt.Errorf("%w: name %q contains a path separator", ErrInvalidRequest, r.Name)
	case r.Container == "":
		return fmt.Errorf("%w: container directory is required", ErrInvalidRequest)
	case r.Launch.StorageGiB == 0:
		return fmt.Errorf("%w: storage size is required", ErrInvalidRequest)
	}
	return nil
}

// Pipeline runs at most one provisioning operation at a time.
type Pipeline struct {
	engine hypervisor.Engine
	disks  DiskCreator
	broker *capability.Broker
	fetch  fetcher
	report io.Writer
	log    logrus.FieldLogger

	busy atomic.Bool
}

// New returns a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Engine == nil || opts.Disks == nil || opts.Broker == nil {
		return nil, errors.New("provision: engine, disks and broker are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	p := &Pipeline{
		engine: opts.Engine,
		disks:  opts.Disks,
		broker: opts.Broker,
		fetch:  engineFetcher{engine: opts.Engine},
		report: opts.TimingReport,
		log:    opts.Logger.WithField("component", "provision"),
	}
	if opts.RestoreImageURL != "" {
		client := opts.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		p.fetch = httpFetcher{client: client, url: opts.RestoreImageURL}
	}
	return p, nil
}

// Busy reports whether an operation is in flight.
func (p *Pipeline) Busy() bool {
	return p.busy.Load()
}

// Start provisions req and returns a token for the new bundle root.
//
// ctx is checked between stages only; a stage that has started runs to
// completion. No stage is retried and partial bundles are not removed.
// If only the final cleanup fails, the token is returned together with
// the error.
func (p *Pipeline) Start(ctx context.Context, req Request, observe Observer) (capability.Token, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInProgress
	}
	defer p.busy.Store(false)

	if err := req.validate(); err != nil {
		return nil, err
	}

	r := &run{
		Pipeline: p,
		req:      req,
		layout:   bundle.New(req.Container, req.Name),
		emit:     newEmitter(observe),
		timer:    timing.New(),
	}
	r.log = p.log.WithField("bundle", r.layout.Root())

	tok, err := r.execute(ctx)
	if err != nil {
		r.log.WithError(err).Error("provisioning failed")
		r.emit.state(State{Stage: Failed, Err: err})
		return tok, err
	}

	r.emit.state(State{Stage: Complete})
	r.log.WithFields(r.timer.Fields()).Info("provisioning complete")
	if p.report != nil {
		r.timer.Report(p.report, "Provisioning Timing")
	}
	return tok, nil
}

// run is the state of one operation.
type run struct {
	*Pipeline
	req    Request
	layout bundle.Layout
	emit   *emitter
	timer  *timing.Timer
	log    logrus.FieldLogger
}

type step struct {
	stage Stage
	fn    func(ctx context.Context) error
}

func (r *run) execute(ctx context.Context) (capability.Token, error) {
	var tok capability.Token

	steps := []step{
		{AcquiringDestination, func(ctx context.Context) (err error) {
			tok, err = r.acquire()
			return err
		}},
		{CopyingOrDownloadingImage, r.obtainImage},
		{CreatingAuxiliaryFiles, r.createAuxiliaryFiles},
		{Installing, r.install},
		{CleaningUp, r.cleanup},
	}

	// Stages run detached from ctx so a started stage is never cut short.
	detached := context.WithoutCancel(ctx)
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, &StepError{Stage: s.stage, Err: err}
		}

		r.log.WithField("stage", s.stage).Info("entering stage")
		err := s.fn(detached)
		r.timer.Mark(s.stage.String())
		if err == nil {
			continue
		}

		serr := &StepError{Stage: s.stage, Err: err}
		if s.stage == CleaningUp {
			// The guest is installed; hand the bundle back regardless.
			return tok, serr
		}
		return nil, serr
	}
	return tok, nil
}

// acquire holds the container open while creating the bundle root, and
// mints the bundle's token.
func (r *run) acquire() (capability.Token, error) {
	r.emit.state(State{Stage: AcquiringDestination})

	scope, err := r.broker.Access(r.layout.Container())
	if err != nil {
		return nil, err
	}
	defer scope.Close()

	if err := r.layout.Create(); err != nil {
		return nil, ioError("mkdir", r.layout.Root(), "", err)
	}
	return r.broker.Mint(r.layout.Root())
}

func (r *run) obtainImage(ctx context.Context) error {
	if r.req.LocalImage != "" {
		r.emit.state(State{Stage: CopyingOrDownloadingImage, Indeterminate: true})
		return r.copyImage()
	}

	r.emit.state(State{Stage: CopyingOrDownloadingImage})
	return r.download(ctx)
}

func (r *run) copyImage() error {
	src, dst := r.req.LocalImage, r.layout.RestoreImage()

	scope, err := r.broker.Access(r.layout.Root())
	if err != nil {
		return err
	}
	defer scope.Close()

	in, err := os.Open(src)
	if err != nil {
		return ioError("copy", src, dst, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return ioError("copy", src, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return ioError("copy", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return ioError("copy", src, dst, err)
	}
	return nil
}

// download fetches into a temporary file next to the restore image path
// and renames it into place.
func (r *run) download(ctx context.Context) error {
	tmp, err := os.CreateTemp(r.layout.Root(), ".download-*")
	if err != nil {
		return ioError("create", r.layout.Root(), "", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	progress := func(f float64) {
		r.emit.fraction(CopyingOrDownloadingImage, f)
	}
	if err := r.fetch.fetch(ctx, tmpPath, progress); err != nil {
		return err
	}

	if _, err := os.Stat(tmpPath); errors.Is(err, fs.ErrNotExist) {
		return &FetchError{Kind: FetchMissingFile, Source: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, r.layout.RestoreImage()); err != nil {
		return ioError("move", tmpPath, r.layout.RestoreImage(), err)
	}
	return nil
}

func (r *run) createAuxiliaryFiles(ctx context.Context) error {
	r.emit.state(State{Stage: CreatingAuxiliaryFiles})

	if err := r.disks.Create(ctx, r.layout.DiskImage(), r.req.Launch.StorageGiB); err != nil {
		return err
	}
	if err := launch.WriteFile(r.layout.Metadata(), r.req.Launch); err != nil {
		return &IncompleteBundleError{Bundle: r.layout.Root(), Err: err}
	}
	return nil
}

func (r *run) install(ctx context.Context) error {
	r.emit.state(State{Stage: Installing})

	req := &hypervisor.InstallRequest{
		RestoreImage:      r.layout.RestoreImage(),
		DiskImage:         r.layout.DiskImage(),
		AuxiliaryStorage:  r.layout.AuxiliaryStorage(),
		HardwareModel:     r.layout.HardwareModel(),
		MachineIdentifier: r.layout.MachineIdentifier(),
		CPUs:              r.req.Launch.CPUCores,
		MemoryBytes:       r.req.Launch.MemoryBytes(),
	}
	return r.engine.Install(ctx, req, func(f float64) {
		r.emit.fraction(Installing, f)
	})
}

func (r *run) cleanup(context.Context) error {
	r.emit.state(State{Stage: CleaningUp})

	if err := os.Remove(r.layout.RestoreImage()); err != nil {
		return ioError("remove", r.layout.RestoreImage(), "", err)
	}
	return nil
}

// emitter serializes states to the observer. Fractions are only passed on
// when they increase within a stage.
type emitter struct {
	mu      sync.Mutex
	observe Observer
	stage   Stage
	last    float64
}

func newEmitter(observe Observer) *emitter {
	if observe == nil {
		observe = func(State) {}
	}
	return &emitter{observe: observe, stage: -1}
}

func (e *emitter) state(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stage = s.Stage
	e.last = s.Fraction
	e.observe(s)
}

func (e *emitter) fraction(stage Stage, f float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if stage != e.stage || math.IsNaN(f) || f <= e.last {
		return
	}
	if f > 1 {
		f = 1
	}
	e.last = f
	e.observe(State{Stage: stage, Fraction: f})
}
