// frame-classifier - classify live camera preview frames on device
//  Copyright (C) 2021, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package pipeline moves camera frames from the capture device through
// colour conversion and classification on a single worker goroutine.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/TheCacophonyProject/frame-classifier/admission"
	"github.com/TheCacophonyProject/frame-classifier/classifier"
	"github.com/TheCacophonyProject/frame-classifier/framebuffer"
	"github.com/TheCacophonyProject/frame-classifier/loglimiter"
	"github.com/TheCacophonyProject/frame-classifier/yuv"
)

// ErrNoClassifier is logged for frames that arrive while no classifier is
// configured.
var ErrNoClassifier = errors.New("no classifier available")

type Option func(*Orchestrator)

// WithLimiter throttles how often frames are admitted.
func WithLimiter(limiter admission.Limiter) Option {
	return func(o *Orchestrator) {
		o.limiter = limiter
	}
}

// WithWatchdog calls fn from the worker every Config.WatchdogFrames frames.
func WithWatchdog(fn func()) Option {
	return func(o *Orchestrator) {
		o.watchdog = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

type Stats struct {
	Admission    admission.Stats
	Processed    uint64
	Published    uint64
	Failed       uint64
	Unclassified uint64
	Classifier   string
	SessionID    string
}

type requestKind int

const (
	reconfigureRequest requestKind = iota
	geometryRequest
)

type request struct {
	kind       requestKind
	classifier classifier.Config
	geometry   framebuffer.Geometry
	reply      chan error
}

// Orchestrator takes frames from a single capture goroutine and processes
// at most one at a time on its worker. Frames that arrive while the worker
// is busy are released straight away.
type Orchestrator struct {
	conf     Config
	factory  classifier.Factory
	sink     ResultSink
	limiter  admission.Limiter
	watchdog func()
	now      func() time.Time
	errLog   *loglimiter.LogLimiter

	admission *admission.Controller

	// lifecycle is held exclusively by Start and Stop and shared by
	// operations that talk to the worker.
	lifecycle sync.RWMutex
	// deliverMu guards running and frames for Deliver.
	deliverMu sync.RWMutex
	running   bool
	frames    chan *Frame
	requests  chan request
	quit      chan struct{}
	done      chan struct{}
	applyMu   sync.Mutex

	// Owned by the worker while running.
	buffers        *framebuffer.Manager
	classifier     classifier.Classifier
	classifierConf classifier.Config
	sinceWatchdog  int

	processed      uint64
	published      uint64
	failed         uint64
	unclassified   uint64
	classifierDesc atomic.Value
	sessionID      atomic.Value
}

func New(conf Config, factory classifier.Factory, sink ResultSink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conf:           conf,
		factory:        factory,
		sink:           sink,
		now:            time.Now,
		buffers:        framebuffer.New(),
		classifierConf: conf.Classifier,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.conf.WatchdogFrames < 1 {
		o.conf.WatchdogFrames = 1
	}
	o.errLog = loglimiter.New(o.conf.ErrorLogInterval)
	o.admission = admission.New(o.limiter)
	o.classifierDesc.Store("")
	o.sessionID.Store("")
	return o
}

// Start launches the worker and creates the classifier if there isn't one.
// The pipeline is running when Start returns even if the classifier could
// not be created; the error is returned so the caller can report it.
func (o *Orchestrator) Start() error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	if o.running {
		return nil
	}

	var err error
	if o.classifier == nil {
		err = o.applyClassifier(o.classifierConf)
	}

	o.frames = make(chan *Frame, 1)
	o.requests = make(chan request)
	o.quit = make(chan struct{})
	o.done = make(chan struct{})
	go o.run(o.frames, o.requests, o.quit, o.done)

	o.deliverMu.Lock()
	o.running = true
	o.deliverMu.Unlock()
	return err
}

// Stop waits for the frame in progress, joins the worker and releases any
// frame that was staged but not yet started. The classifier is kept for
// the next Start.
func (o *Orchestrator) Stop() {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	if !o.running {
		return
	}

	o.deliverMu.Lock()
	o.running = false
	o.deliverMu.Unlock()

	close(o.quit)
	<-o.done

	for {
		select {
		case f := <-o.frames:
			f.Release()
			o.admission.Done()
		default:
			return
		}
	}
}

// Close stops the pipeline and closes the classifier.
func (o *Orchestrator) Close() error {
	o.Stop()
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()
	return o.closeClassifier()
}

// Deliver offers a frame to the pipeline and returns whether it was
// accepted. It never waits for the worker. A frame that isn't accepted has
// already been released when Deliver returns.
func (o *Orchestrator) Deliver(f *Frame) bool {
	o.deliverMu.RLock()
	defer o.deliverMu.RUnlock()

	if !o.running || !o.admission.TryAdmit() {
		f.Release()
		return false
	}
	f.arrived = o.now()
	select {
	case o.frames <- f:
		return true
	default:
		// Admission allows one frame in flight so the slot is free.
		f.Release()
		o.admission.Done()
		return false
	}
}

// SetGeometry starts a new capture session. Buffers are resized before the
// next frame is processed.
func (o *Orchestrator) SetGeometry(g framebuffer.Geometry) error {
	if err := g.Validate(); err != nil {
		return err
	}
	return o.do(request{kind: geometryRequest, geometry: g})
}

// Reconfigure replaces the classifier between frames. The old classifier
// is closed first; if the new one can't be created the pipeline carries on
// without one until a later Reconfigure succeeds.
func (o *Orchestrator) Reconfigure(conf classifier.Config) error {
	return o.do(request{kind: reconfigureRequest, classifier: conf})
}

// do runs req on the worker or applies it directly if stopped.
func (o *Orchestrator) do(req request) error {
	o.lifecycle.RLock()
	defer o.lifecycle.RUnlock()

	if !o.running {
		o.applyMu.Lock()
		defer o.applyMu.Unlock()
		return o.apply(req)
	}

	req.reply = make(chan error, 1)
	o.requests <- req
	return <-req.reply
}

func (o *Orchestrator) apply(req request) error {
	switch req.kind {
	case geometryRequest:
		if err := o.buffers.SetGeometry(req.geometry); err != nil {
			return err
		}
		session := uuid.New().String()
		o.sessionID.Store(session)
		log.Printf("new capture session %s: %dx%d rotation %d", session,
			req.geometry.Width, req.geometry.Height, req.geometry.Rotation)
		return nil
	case reconfigureRequest:
		return o.applyClassifier(req.classifier)
	}
	return fmt.Errorf("unknown request %d", req.kind)
}

// applyClassifier replaces the classifier. On any failure, including a
// panicking factory, the pipeline is left without a classifier.
func (o *Orchestrator) applyClassifier(conf classifier.Config) (err error) {
	o.classifierConf = conf
	if err := o.closeClassifier(); err != nil {
		log.Printf("error closing classifier: %v", err)
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			o.classifier = nil
			o.classifierDesc.Store("")
			err = fmt.Errorf("%w: creating %s panicked: %v", classifier.ErrModelLoad, conf, r)
			log.Print(err)
		}
	}()
	log.Printf("creating classifier: %s", conf)
	c, err := o.factory(conf)
	if err != nil {
		return err
	}
	o.classifier = c
	o.classifierDesc.Store(conf.String())
	return nil
}

func (o *Orchestrator) closeClassifier() (err error) {
	if o.classifier == nil {
		return nil
	}
	log.Print("closing classifier")
	defer func() {
		o.classifier = nil
		o.classifierDesc.Store("")
		if r := recover(); r != nil {
			err = fmt.Errorf("closing classifier panicked: %v", r)
		}
	}()
	return o.classifier.Close()
}

func (o *Orchestrator) run(frames <-chan *Frame, requests <-chan request, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case req := <-requests:
			req.reply <- o.apply(req)
		case f := <-frames:
			o.process(f)
		}
	}
}

// process takes an admitted frame through to release. Whatever happens the
// frame is released and admission is cleared.
func (o *Orchestrator) process(f *Frame) {
	defer o.frameDone()
	defer f.Release()
	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&o.failed, 1)
			o.errLog.Printf("frame processing panicked: %v", r)
		}
	}()

	rgb, err := o.convert(f)
	if err != nil {
		atomic.AddUint64(&o.failed, 1)
		o.errLog.Printf("frame conversion failed: %v", err)
		return
	}

	if o.classifier == nil {
		atomic.AddUint64(&o.unclassified, 1)
		o.errLog.Print(ErrNoClassifier.Error())
		return
	}

	geom := o.buffers.Geometry()
	img := classifier.Image{
		Pixels:      rgb,
		Width:       geom.Width,
		Height:      geom.Height,
		Orientation: geom.Rotation,
	}
	start := o.now()
	recs, err := o.classifier.Classify(img)
	if err != nil {
		atomic.AddUint64(&o.failed, 1)
		o.errLog.Printf("classification failed: %v", err)
		return
	}
	inputWidth, inputHeight := o.classifier.InputSize()

	o.sink.Publish(Result{
		Recognitions: recs,
		FrameInfo: FrameInfo{
			Width:       geom.Width,
			Height:      geom.Height,
			CropSize:    img.CropSize(),
			InputWidth:  inputWidth,
			InputHeight: inputHeight,
			Orientation: geom.Rotation,
			Latency:     o.now().Sub(start),
			SessionID:   o.sessionID.Load().(string),
		},
	})
	atomic.AddUint64(&o.published, 1)
}

func (o *Orchestrator) convert(f *Frame) ([]uint32, error) {
	o.buffers.BeginFrame()
	switch f.Format {
	case yuv.SemiPlanar:
		if len(f.Planes) != 1 {
			return nil, fmt.Errorf("semi-planar frame has %d planes", len(f.Planes))
		}
		o.buffers.FillPlane(framebuffer.Y, f.Planes[0])
		return o.buffers.ConvertSemiPlanar()
	case yuv.Planar:
		if len(f.Planes) != 3 {
			return nil, fmt.Errorf("planar frame has %d planes", len(f.Planes))
		}
		o.buffers.FillPlane(framebuffer.Y, f.Planes[0])
		o.buffers.FillPlane(framebuffer.U, f.Planes[1])
		o.buffers.FillPlane(framebuffer.V, f.Planes[2])
		return o.buffers.ConvertPlanar(f.Strides)
	}
	return nil, fmt.Errorf("unsupported frame format %s", f.Format)
}

// frameDone clears admission and pets the watchdog.
func (o *Orchestrator) frameDone() {
	o.admission.Done()
	if o.watchdog != nil {
		if o.sinceWatchdog++; o.sinceWatchdog >= o.conf.WatchdogFrames {
			o.sinceWatchdog = 0
			o.watchdog()
		}
	}
	atomic.AddUint64(&o.processed, 1)
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Admission:    o.admission.Stats(),
		Processed:    atomic.LoadUint64(&o.processed),
		Published:    atomic.LoadUint64(&o.published),
		Failed:       atomic.LoadUint64(&o.failed),
		Unclassified: atomic.LoadUint64(&o.unclassified),
		Classifier:   o.classifierDesc.Load().(string),
		SessionID:    o.sessionID.Load().(string),
	}
}
