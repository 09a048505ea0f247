package orientation

import (
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/heading_viewer/internal/sensors"
)

// =============================================================================
// Heading computation
// =============================================================================

func TestZeroedSamplesGiveZeroHeading(t *testing.T) {
	// Rotation stub that always "succeeds" with a zero matrix, so the
	// orientation angle is 0 radians.
	e := NewEstimator(Options{Rotation: func(_, _ mgl64.Vec3) (mgl64.Mat3, bool) {
		return mgl64.Mat3{}, true
	}})

	e.OnAccelerometerSample(mgl64.Vec3{0, 0, 0})
	e.OnMagnetometerSample(mgl64.Vec3{0, 0, 0})

	h, ok := e.CurrentHeading()
	require.True(t, ok)
	assert.Equal(t, 0.0, h)
}

func TestZeroedSamplesWithRealRotation(t *testing.T) {
	e := NewEstimator(Options{})

	e.OnAccelerometerSample(mgl64.Vec3{})
	e.OnMagnetometerSample(mgl64.Vec3{})

	h, ok := e.CurrentHeading()
	require.True(t, ok, "both kinds sampled, heading must be computed")
	assert.Equal(t, 0.0, h, "rejected rotation keeps the zero matrix")
}

func TestHeadingUnavailableUntilBothKinds(t *testing.T) {
	tests := []struct {
		name string
		feed func(e *Estimator)
	}{
		{"nothing", func(e *Estimator) {}},
		{"accelerometer only", func(e *Estimator) {
			e.OnAccelerometerSample(mgl64.Vec3{0, 0, 9.81})
		}},
		{"magnetometer only", func(e *Estimator) {
			e.OnMagnetometerSample(mgl64.Vec3{0, 22, -42})
			e.OnMagnetometerSample(mgl64.Vec3{1, 22, -42})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEstimator(Options{})
			tt.feed(e)
			_, ok := e.CurrentHeading()
			assert.False(t, ok)
			_, ok = e.State()
			assert.False(t, ok)
		})
	}
}

func TestHeadingForFlatDevice(t *testing.T) {
	mock := sensors.NewMockManager(time.Second)
	mock.YawRate = 30

	tests := []struct {
		name    string
		elapsed float64
		want    float64
	}{
		{"north", 0, 0},
		{"east", 3, 90},
		{"south", 6, 180},
		{"west", 9, 270},
		{"north-east", 1.5, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accel, mag := mock.Sample(tt.elapsed)
			e := NewEstimator(Options{})
			e.OnAccelerometerSample(accel)
			e.OnMagnetometerSample(mag)

			h, ok := e.CurrentHeading()
			require.True(t, ok)
			assert.InDelta(t, tt.want, h, 0.011)

			st, ok := e.State()
			require.True(t, ok)
			assert.InDelta(t, 0, st.Angles.Pitch, 1e-9)
			assert.InDelta(t, 0, st.Angles.Roll, 1e-9)
		})
	}
}

func TestHeadingRangeAndPrecision(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e := NewEstimator(Options{})

	for i := 0; i < 2000; i++ {
		accel := mgl64.Vec3{rng.NormFloat64() * 5, rng.NormFloat64() * 5, rng.NormFloat64() * 5}
		mag := mgl64.Vec3{rng.NormFloat64() * 40, rng.NormFloat64() * 40, rng.NormFloat64() * 40}
		e.OnAccelerometerSample(accel)
		e.OnMagnetometerSample(mag)

		h, ok := e.CurrentHeading()
		require.True(t, ok)
		require.GreaterOrEqual(t, h, 0.0)
		require.Less(t, h, 360.0)
		scaled := h * 100
		require.InDelta(t, math.Round(scaled), scaled, 1e-6, "heading %v not rounded to 2 decimals", h)
	}
}

func TestEveryNewSampleRecomputes(t *testing.T) {
	calls := 0
	e := NewEstimator(Options{Rotation: func(g, m mgl64.Vec3) (mgl64.Mat3, bool) {
		calls++
		return RotationMatrix(g, m)
	}})

	e.OnAccelerometerSample(mgl64.Vec3{0, 0, 9.81})
	assert.Equal(t, 0, calls, "no fusion before both kinds exist")
	e.OnMagnetometerSample(mgl64.Vec3{0, 22, -42})
	e.OnMagnetometerSample(mgl64.Vec3{-22, 0, -42})
	e.OnAccelerometerSample(mgl64.Vec3{0, 0, 9.81})
	assert.Equal(t, 3, calls)

	h, ok := e.CurrentHeading()
	require.True(t, ok)
	assert.InDelta(t, 90, h, 0.011, "stale magnetometer sample is reused as-is")
}

func TestOnSensorChangedDispatchesByKind(t *testing.T) {
	e := NewEstimator(Options{})
	e.OnSensorChanged(sensors.Event{Kind: sensors.Accelerometer, Values: mgl64.Vec3{0, 0, 9.81}})
	e.OnSensorChanged(sensors.Event{Kind: sensors.Kind(99), Values: mgl64.Vec3{1, 1, 1}})
	_, ok := e.CurrentHeading()
	assert.False(t, ok)

	e.OnSensorChanged(sensors.Event{Kind: sensors.Magnetometer, Values: mgl64.Vec3{0, 22, -42}})
	h, ok := e.CurrentHeading()
	require.True(t, ok)
	assert.InDelta(t, 0, h, 0.011)
}

func TestSubscribeReceivesHeadings(t *testing.T) {
	e := NewEstimator(Options{})
	ch, cancel := e.Subscribe(4)
	defer cancel()

	e.OnAccelerometerSample(mgl64.Vec3{0, 0, 9.81})
	e.OnMagnetometerSample(mgl64.Vec3{-22, 0, -42})

	select {
	case h := <-ch:
		assert.InDelta(t, 90, h, 0.011)
	case <-time.After(time.Second):
		t.Fatal("no heading delivered")
	}

	cancel()
	cancel()
	e.OnMagnetometerSample(mgl64.Vec3{0, 22, -42})
	assert.Len(t, ch, 0, "cancelled subscriber gets nothing")
}

func TestConcurrentSamplesAndReads(t *testing.T) {
	e := NewEstimator(Options{})
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.OnAccelerometerSample(mgl64.Vec3{0, 0, 9.81})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.OnMagnetometerSample(mgl64.Vec3{-22, 0, -42})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if h, ok := e.CurrentHeading(); ok {
				assert.InDelta(t, 90, h, 0.011)
			}
		}
	}()
	wg.Wait()
}

func TestLatestHeadingMatchesLatestSamples(t *testing.T) {
	e := NewEstimator(Options{})
	e.OnAccelerometerSample(mgl64.Vec3{0, 0, 9.81})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				yaw := float64(g*90+i) * math.Pi / 180
				e.OnMagnetometerSample(mgl64.Vec3{-22 * math.Sin(yaw), 22 * math.Cos(yaw), -42})
			}
		}(g)
	}
	wg.Wait()

	e.mu.Lock()
	want, ok := e.recomputeLocked()
	e.mu.Unlock()
	require.True(t, ok)
	got, ok := e.CurrentHeading()
	require.True(t, ok)
	assert.Equal(t, want.Heading, got)
}

// =============================================================================
// Listener registration
// =============================================================================

// fakeManager records registrations and can lack a kind.
type fakeManager struct {
	mu         sync.Mutex
	available  map[sensors.Kind]bool
	registered map[sensors.Kind][]sensors.Listener
	removed    int
}

func newFakeManager(kinds ...sensors.Kind) *fakeManager {
	m := &fakeManager{available: map[sensors.Kind]bool{}, registered: map[sensors.Kind][]sensors.Listener{}}
	for _, k := range kinds {
		m.available[k] = true
	}
	return m
}

func (m *fakeManager) DefaultSensor(kind sensors.Kind) bool { return m.available[kind] }

func (m *fakeManager) RegisterListener(l sensors.Listener, kind sensors.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available[kind] {
		return false
	}
	m.registered[kind] = append(m.registered[kind], l)
	return true
}

func (m *fakeManager) UnregisterListener(l sensors.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed++
	m.registered = map[sensors.Kind][]sensors.Listener{}
}

func (m *fakeManager) emit(ev sensors.Event) {
	m.mu.Lock()
	ls := append([]sensors.Listener(nil), m.registered[ev.Kind]...)
	m.mu.Unlock()
	for _, l := range ls {
		l.OnSensorChanged(ev)
	}
}

func TestMissingMagnetometerDegradesSilently(t *testing.T) {
	m := newFakeManager(sensors.Accelerometer)
	e := NewEstimator(Options{})

	e.RegisterListener(m)
	assert.Len(t, m.registered[sensors.Accelerometer], 1)
	assert.Empty(t, m.registered[sensors.Magnetometer])

	for i := 0; i < 10; i++ {
		m.emit(sensors.Event{Kind: sensors.Accelerometer, Values: mgl64.Vec3{0, 0, 9.81}})
	}
	_, ok := e.CurrentHeading()
	assert.False(t, ok)
}

func TestUnregisterBeforeRegisterIsSafe(t *testing.T) {
	e := NewEstimator(Options{})
	assert.NotPanics(t, e.UnregisterListener)

	m := newFakeManager(sensors.Accelerometer, sensors.Magnetometer)
	e.RegisterListener(m)
	m.emit(sensors.Event{Kind: sensors.Accelerometer, Values: mgl64.Vec3{0, 0, 9.81}})
	m.emit(sensors.Event{Kind: sensors.Magnetometer, Values: mgl64.Vec3{0, 22, -42}})
	_, ok := e.CurrentHeading()
	assert.True(t, ok)

	e.UnregisterListener()
	e.UnregisterListener()
	assert.Equal(t, 2, m.removed)
	assert.Empty(t, m.registered[sensors.Accelerometer])
}
