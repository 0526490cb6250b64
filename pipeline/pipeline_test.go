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

package pipeline

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheCacophonyProject/frame-classifier/classifier"
	"github.com/TheCacophonyProject/frame-classifier/framebuffer"
	"github.com/TheCacophonyProject/frame-classifier/recognition"
	"github.com/TheCacophonyProject/frame-classifier/throttle"
	"github.com/TheCacophonyProject/frame-classifier/yuv"
)

const (
	testWidth  = 4
	testHeight = 4
	waitFor    = 2 * time.Second
	tick       = time.Millisecond
)

var greyPixel = yuv.YUVToARGB(128, 128, 128)

// eventLog records classifier lifecycle events in order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeClassifier struct {
	name    string
	log     *eventLog
	started chan struct{}
	gate    chan struct{}
	err     error
	panics  bool
	pixels  []uint32
	calls   int32

	// closePanics makes Close panic after logging.
	closePanics bool
}

func (c *fakeClassifier) Classify(img classifier.Image) ([]recognition.Recognition, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}
	if c.panics {
		panic("model exploded")
	}
	if c.err != nil {
		return nil, c.err
	}
	c.pixels = append(c.pixels[:0], img.Pixels...)
	return recognition.TopKFromScores(map[string]float32{"stop": 0.9, "yield": 0.5, "give way": 0.7, "bus": 0.1}, recognition.MaxResults), nil
}

func (c *fakeClassifier) InputSize() (int, int) {
	return 224, 224
}

func (c *fakeClassifier) Close() error {
	c.log.add("close " + c.name)
	if c.closePanics {
		panic("close failed badly")
	}
	return nil
}

type fakeFactory struct {
	log    *eventLog
	next   *fakeClassifier
	err    error
	panics bool
	calls  int
}

func (f *fakeFactory) create(conf classifier.Config) (classifier.Classifier, error) {
	f.calls++
	if f.panics {
		panic("delegate init crashed")
	}
	if f.err != nil {
		return nil, f.err
	}
	f.log.add("create " + f.next.name)
	return f.next, nil
}

type resultRecorder struct {
	results chan Result
}

func newResultRecorder() *resultRecorder {
	return &resultRecorder{results: make(chan Result, 10)}
}

func (r *resultRecorder) Publish(res Result) {
	r.results <- res
}

func (r *resultRecorder) next(t *testing.T) Result {
	select {
	case res := <-r.results:
		return res
	case <-time.After(waitFor):
		require.FailNow(t, "timed out waiting for a result")
	}
	return Result{}
}

type testPipeline struct {
	o        *Orchestrator
	factory  *fakeFactory
	fake     *fakeClassifier
	sink     *resultRecorder
	events   *eventLog
	watchdog int32
}

func newTestPipeline(t *testing.T, opts ...Option) *testPipeline {
	events := new(eventLog)
	fake := &fakeClassifier{name: "A", log: events}
	tp := &testPipeline{
		factory: &fakeFactory{log: events, next: fake},
		fake:    fake,
		sink:    newResultRecorder(),
		events:  events,
	}
	conf := DefaultConfig()
	conf.WatchdogFrames = 2
	conf.Classifier.Model = classifier.FloatMobileNet
	opts = append(opts, WithWatchdog(func() { atomic.AddInt32(&tp.watchdog, 1) }))
	tp.o = New(conf, tp.factory.create, tp.sink, opts...)
	require.NoError(t, tp.o.SetGeometry(framebuffer.Geometry{Width: testWidth, Height: testHeight, Rotation: 90}))
	t.Cleanup(func() { tp.o.Close() })
	return tp
}

type testFrame struct {
	*Frame
	releases int32
}

func newGreyFrame() *testFrame {
	tf := new(testFrame)
	data := bytes.Repeat([]byte{128}, yuv.SemiPlanarByteSize(testWidth, testHeight))
	tf.Frame = NewSemiPlanarFrame(data, func() { atomic.AddInt32(&tf.releases, 1) })
	return tf
}

func (tf *testFrame) releaseCount() int32 {
	return atomic.LoadInt32(&tf.releases)
}

func (tp *testPipeline) waitProcessed(t *testing.T, n uint64) {
	assert.Eventually(t, func() bool { return tp.o.Stats().Processed >= n }, waitFor, tick)
}

func TestClassifiesFrame(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())

	f := newGreyFrame()
	assert.True(t, tp.o.Deliver(f.Frame))

	res := tp.sink.next(t)
	require.Len(t, res.Recognitions, 3)
	assert.Equal(t, "stop", res.Recognitions[0].Label)
	assert.Equal(t, "give way", res.Recognitions[1].Label)
	assert.Equal(t, "yield", res.Recognitions[2].Label)

	info := res.FrameInfo
	assert.Equal(t, testWidth, info.Width)
	assert.Equal(t, testHeight, info.Height)
	assert.Equal(t, 4, info.CropSize)
	assert.Equal(t, 224, info.InputWidth)
	assert.Equal(t, 90, info.Orientation)
	assert.NotEmpty(t, info.SessionID)

	tp.waitProcessed(t, 1)
	assert.Equal(t, int32(1), f.releaseCount())
	for _, px := range tp.fake.pixels {
		assert.Equal(t, greyPixel, px)
	}

	stats := tp.o.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Admission.Admitted)
	assert.Equal(t, "Float Mobile Net on CPU with 1 threads", stats.Classifier)
	assert.Equal(t, info.SessionID, stats.SessionID)
}

func TestDropsFramesWhileBusy(t *testing.T) {
	tp := newTestPipeline(t)
	tp.fake.started = make(chan struct{}, 1)
	tp.fake.gate = make(chan struct{})
	require.NoError(t, tp.o.Start())

	first := newGreyFrame()
	require.True(t, tp.o.Deliver(first.Frame))
	<-tp.fake.started

	for i := 0; i < 5; i++ {
		f := newGreyFrame()
		assert.False(t, tp.o.Deliver(f.Frame))
		assert.Equal(t, int32(1), f.releaseCount())
	}
	assert.Equal(t, int32(0), first.releaseCount())

	close(tp.fake.gate)
	tp.sink.next(t)
	tp.waitProcessed(t, 1)
	assert.Equal(t, int32(1), first.releaseCount())
	assert.Equal(t, uint64(5), tp.o.Stats().Admission.Dropped)

	// Admission is open again.
	tp.fake.started = nil
	assert.True(t, tp.o.Deliver(newGreyFrame().Frame))
	tp.sink.next(t)
}

func TestInferenceErrorStillReleases(t *testing.T) {
	tp := newTestPipeline(t)
	tp.fake.err = errors.New("tensor mismatch")
	require.NoError(t, tp.o.Start())

	f := newGreyFrame()
	require.True(t, tp.o.Deliver(f.Frame))
	tp.waitProcessed(t, 1)

	assert.Equal(t, int32(1), f.releaseCount())
	assert.Equal(t, uint64(1), tp.o.Stats().Failed)
	assert.Empty(t, tp.sink.results)

	tp.fake.err = nil
	require.True(t, tp.o.Deliver(newGreyFrame().Frame))
	tp.sink.next(t)
}

func TestPanicIsContained(t *testing.T) {
	tp := newTestPipeline(t)
	tp.fake.panics = true
	require.NoError(t, tp.o.Start())

	f := newGreyFrame()
	require.True(t, tp.o.Deliver(f.Frame))
	tp.waitProcessed(t, 1)
	assert.Equal(t, int32(1), f.releaseCount())
	assert.Equal(t, uint64(1), tp.o.Stats().Failed)

	tp.fake.panics = false
	require.True(t, tp.o.Deliver(newGreyFrame().Frame))
	tp.sink.next(t)
}

func TestSinkPanicIsContained(t *testing.T) {
	tp := newTestPipeline(t)
	tp.o.sink = ResultSinkFunc(func(Result) { panic("sink gone") })
	require.NoError(t, tp.o.Start())

	f := newGreyFrame()
	require.True(t, tp.o.Deliver(f.Frame))
	tp.waitProcessed(t, 1)
	assert.Equal(t, int32(1), f.releaseCount())
	assert.True(t, tp.o.Deliver(newGreyFrame().Frame))
}

func TestConversionErrorStillReleases(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())

	short := &testFrame{}
	short.Frame = NewSemiPlanarFrame(make([]byte, 3), func() { atomic.AddInt32(&short.releases, 1) })
	require.True(t, tp.o.Deliver(short.Frame))
	tp.waitProcessed(t, 1)

	assert.Equal(t, int32(1), short.releaseCount())
	assert.Equal(t, uint64(1), tp.o.Stats().Failed)
	assert.Equal(t, int32(0), atomic.LoadInt32(&tp.fake.calls))
}

func TestNoClassifierKeepsCycling(t *testing.T) {
	tp := newTestPipeline(t)
	tp.factory.err = errors.New("model missing")

	assert.Error(t, tp.o.Start())
	assert.Equal(t, "", tp.o.Stats().Classifier)

	for i := 0; i < 3; i++ {
		f := newGreyFrame()
		require.True(t, tp.o.Deliver(f.Frame))
		tp.waitProcessed(t, uint64(i+1))
		assert.Equal(t, int32(1), f.releaseCount())
	}
	assert.Equal(t, uint64(3), tp.o.Stats().Unclassified)

	tp.factory.err = nil
	require.NoError(t, tp.o.Reconfigure(classifier.DefaultConfig()))
	require.True(t, tp.o.Deliver(newGreyFrame().Frame))
	tp.sink.next(t)
}

func TestReconfigureClosesOldFirst(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())

	tp.factory.next = &fakeClassifier{name: "B", log: tp.events}
	conf := classifier.DefaultConfig()
	conf.Threads = 4
	require.NoError(t, tp.o.Reconfigure(conf))

	assert.Equal(t, []string{"create A", "close A", "create B"}, tp.events.get())
	assert.Contains(t, tp.o.Stats().Classifier, "4 threads")
}

func TestReconfigurePanicLeavesNoClassifier(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())

	tp.factory.panics = true
	err := tp.o.Reconfigure(classifier.DefaultConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, classifier.ErrModelLoad))
	assert.Equal(t, "", tp.o.Stats().Classifier)

	// The worker survived and keeps cycling frames without a classifier.
	f := newGreyFrame()
	require.True(t, tp.o.Deliver(f.Frame))
	tp.waitProcessed(t, 1)
	assert.Equal(t, int32(1), f.releaseCount())
	assert.Equal(t, uint64(1), tp.o.Stats().Unclassified)

	tp.factory.panics = false
	require.NoError(t, tp.o.Reconfigure(classifier.DefaultConfig()))
	require.True(t, tp.o.Deliver(newGreyFrame().Frame))
	tp.sink.next(t)
}

func TestReconfigureSurvivesPanickingClose(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())

	tp.fake.closePanics = true
	tp.factory.next = &fakeClassifier{name: "B", log: tp.events}
	require.NoError(t, tp.o.Reconfigure(classifier.DefaultConfig()))
	assert.Equal(t, []string{"create A", "close A", "create B"}, tp.events.get())
	assert.NotEmpty(t, tp.o.Stats().Classifier)

	require.True(t, tp.o.Deliver(newGreyFrame().Frame))
	tp.sink.next(t)
}

func TestStartWithPanickingFactory(t *testing.T) {
	tp := newTestPipeline(t)
	tp.factory.panics = true

	err := tp.o.Start()
	assert.True(t, errors.Is(err, classifier.ErrModelLoad))
	assert.Equal(t, "", tp.o.Stats().Classifier)
	assert.True(t, tp.o.Deliver(newGreyFrame().Frame))
	tp.waitProcessed(t, 1)
}

func TestReconfigureWaitsForFrameInProgress(t *testing.T) {
	tp := newTestPipeline(t)
	tp.fake.started = make(chan struct{}, 1)
	tp.fake.gate = make(chan struct{})
	require.NoError(t, tp.o.Start())

	require.True(t, tp.o.Deliver(newGreyFrame().Frame))
	<-tp.fake.started

	tp.factory.next = &fakeClassifier{name: "B", log: tp.events}
	done := make(chan error)
	go func() { done <- tp.o.Reconfigure(classifier.DefaultConfig()) }()

	select {
	case <-done:
		t.Fatal("reconfigured during inference")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, []string{"create A"}, tp.events.get())

	close(tp.fake.gate)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"create A", "close A", "create B"}, tp.events.get())
}

func TestUnsupportedConfiguration(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())

	conf := classifier.DefaultConfig()
	conf.Device = classifier.GPU
	conf.Model = classifier.QuantizedEfficientNet
	err := tp.o.Reconfigure(conf)
	assert.True(t, errors.Is(err, classifier.ErrUnsupportedConfiguration))

	// The old classifier was closed and no new one was created.
	assert.Equal(t, []string{"create A", "close A"}, tp.events.get())
	assert.Equal(t, 1, tp.factory.calls)
	assert.Equal(t, "", tp.o.Stats().Classifier)

	f := newGreyFrame()
	require.True(t, tp.o.Deliver(f.Frame))
	tp.waitProcessed(t, 1)
	assert.Equal(t, int32(1), f.releaseCount())
}

func TestReconfigureWhileStopped(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Reconfigure(classifier.DefaultConfig()))
	assert.Equal(t, []string{"create A"}, tp.events.get())

	// Start doesn't recreate an existing classifier.
	require.NoError(t, tp.o.Start())
	assert.Equal(t, 1, tp.factory.calls)
}

func TestStartStopIdempotent(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())
	require.NoError(t, tp.o.Start())
	tp.o.Stop()
	tp.o.Stop()

	f := newGreyFrame()
	assert.False(t, tp.o.Deliver(f.Frame))
	assert.Equal(t, int32(1), f.releaseCount())

	require.NoError(t, tp.o.Start())
	assert.True(t, tp.o.Deliver(newGreyFrame().Frame))
	tp.sink.next(t)
	assert.Equal(t, 1, tp.factory.calls)
}

func TestStopWaitsForFrameInProgress(t *testing.T) {
	tp := newTestPipeline(t)
	tp.fake.started = make(chan struct{}, 1)
	tp.fake.gate = make(chan struct{})
	require.NoError(t, tp.o.Start())

	f := newGreyFrame()
	require.True(t, tp.o.Deliver(f.Frame))
	<-tp.fake.started

	stopped := make(chan struct{})
	go func() {
		tp.o.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("stopped during inference")
	case <-time.After(50 * time.Millisecond):
	}

	close(tp.fake.gate)
	<-stopped
	assert.Equal(t, int32(1), f.releaseCount())
}

func TestStopReleasesStagedFrame(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())

	// Stage a frame by hand as if the worker hadn't picked it up yet.
	tp.o.lifecycle.Lock()
	close(tp.o.quit)
	<-tp.o.done
	tp.o.quit = make(chan struct{})
	tp.o.done = make(chan struct{})
	close(tp.o.done)
	tp.o.lifecycle.Unlock()

	f := newGreyFrame()
	require.True(t, tp.o.Deliver(f.Frame))
	assert.Equal(t, int32(0), f.releaseCount())

	tp.o.Stop()
	assert.Equal(t, int32(1), f.releaseCount())
	assert.True(t, f.Released())
}

func TestWatchdog(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())

	for i := 1; i <= 5; i++ {
		require.True(t, tp.o.Deliver(newGreyFrame().Frame))
		tp.waitProcessed(t, uint64(i))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&tp.watchdog))
}

func TestGeometryChange(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())
	firstSession := tp.o.Stats().SessionID

	require.NoError(t, tp.o.SetGeometry(framebuffer.Geometry{Width: 8, Height: 2}))
	assert.NotEqual(t, firstSession, tp.o.Stats().SessionID)

	data := bytes.Repeat([]byte{128}, yuv.SemiPlanarByteSize(8, 2))
	require.True(t, tp.o.Deliver(NewSemiPlanarFrame(data, nil)))
	res := tp.sink.next(t)
	assert.Equal(t, 8, res.FrameInfo.Width)
	assert.Equal(t, 2, res.FrameInfo.CropSize)
	assert.Len(t, tp.fake.pixels, 16)

	assert.Error(t, tp.o.SetGeometry(framebuffer.Geometry{Width: 8, Height: 2, Rotation: 45}))
}

func TestPlanarFrame(t *testing.T) {
	tp := newTestPipeline(t)
	require.NoError(t, tp.o.Start())

	y := bytes.Repeat([]byte{128}, 6*testHeight)
	uv := bytes.Repeat([]byte{128}, 2*4+1)
	f := NewPlanarFrame(y, uv[:8], uv[1:], framebuffer.Strides{YRow: 6, UVRow: 4, UVPixel: 2}, nil)
	require.True(t, tp.o.Deliver(f))
	tp.sink.next(t)
	for _, px := range tp.fake.pixels {
		assert.Equal(t, greyPixel, px)
	}
}

type refusingLimiter struct{}

func (refusingLimiter) Allow() bool { return false }

func TestLimiterThrottles(t *testing.T) {
	tp := newTestPipeline(t, WithLimiter(refusingLimiter{}))
	require.NoError(t, tp.o.Start())

	f := newGreyFrame()
	assert.False(t, tp.o.Deliver(f.Frame))
	assert.Equal(t, int32(1), f.releaseCount())
	assert.Equal(t, uint64(1), tp.o.Stats().Admission.Throttled)
}

type blockingThrottleListener struct {
	gate  chan struct{}
	calls int32
}

func (l *blockingThrottleListener) WhenThrottled() {
	atomic.AddInt32(&l.calls, 1)
	<-l.gate
}

func TestThrottledDeliverDoesNotWaitForListener(t *testing.T) {
	listener := &blockingThrottleListener{gate: make(chan struct{})}
	defer close(listener.gate)
	throttler := throttle.NewThrottler(&throttle.ThrottlerConfig{
		ApplyThrottling: true,
		MaxRate:         0.001,
		Burst:           1,
	}, listener)
	tp := newTestPipeline(t, WithLimiter(throttler))
	require.NoError(t, tp.o.Start())

	require.True(t, tp.o.Deliver(newGreyFrame().Frame))
	tp.sink.next(t)
	tp.waitProcessed(t, 1)

	f := newGreyFrame()
	accepted := make(chan bool, 1)
	go func() { accepted <- tp.o.Deliver(f.Frame) }()
	select {
	case ok := <-accepted:
		assert.False(t, ok)
	case <-time.After(100 * time.Millisecond):
		require.FailNow(t, "Deliver waited for the throttle listener")
	}
	assert.Equal(t, int32(1), f.releaseCount())
	assert.Equal(t, uint64(1), tp.o.Stats().Admission.Throttled)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&listener.calls) == 1 }, waitFor, tick)

	// Later refusals while the listener is still stuck return just as fast.
	assert.False(t, tp.o.Deliver(newGreyFrame().Frame))
}

func TestLatencyUsesClock(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(1000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(10 * time.Millisecond)
		return now
	}
	tp := newTestPipeline(t, WithClock(clock))
	require.NoError(t, tp.o.Start())

	require.True(t, tp.o.Deliver(newGreyFrame().Frame))
	res := tp.sink.next(t)
	assert.Equal(t, 10*time.Millisecond, res.FrameInfo.Latency)
}

func TestFrameReleaseOnce(t *testing.T) {
	f := newGreyFrame()
	f.Release()
	f.Release()
	assert.Equal(t, int32(1), f.releaseCount())

	// A nil release function is allowed.
	NewPlanarFrame(nil, nil, nil, framebuffer.Strides{}, nil).Release()
}
