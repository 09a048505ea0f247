// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Listener collecting events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnSensorChanged(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) countKind(kind Kind) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// =============================================================================
// Kinds and listener bookkeeping
// =============================================================================

func TestKindNames(t *testing.T) {
	for _, k := range []Kind{Accelerometer, Magnetometer} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("gyroscope")
	assert.Error(t, err)
	assert.Equal(t, "kind(7)", Kind(7).String())
}

func TestListenerSet(t *testing.T) {
	s := newListenerSet()
	a, b := &recorder{}, &recorder{}

	assert.Equal(t, 0, s.add(a, Accelerometer))
	assert.Equal(t, 1, s.add(a, Accelerometer), "duplicate ignored")
	s.add(b, Accelerometer)
	s.add(a, Magnetometer)
	assert.Equal(t, 3, s.count())

	s.dispatch(Event{Kind: Magnetometer})
	assert.Len(t, a.snapshot(), 1)
	assert.Empty(t, b.snapshot())

	assert.ElementsMatch(t, []Kind{Magnetometer}, s.remove(a))
	assert.True(t, s.has(Accelerometer))
	assert.False(t, s.has(Magnetometer))
	assert.ElementsMatch(t, []Kind{Accelerometer}, s.remove(b))
	assert.Empty(t, s.remove(b), "unknown listener ignored")
	assert.Zero(t, s.count())
}

// =============================================================================
// Mock
// =============================================================================

func TestMockSampleFlat(t *testing.T) {
	m := NewMockManager(time.Second)
	accel, mag := m.Sample(0)
	assert.True(t, accel.ApproxEqualThreshold(mgl64.Vec3{0, 0, StandardGravity}, 1e-9))
	assert.True(t, mag.ApproxEqualThreshold(mockWorldField, 1e-9))

	// A quarter turn clockwise: north now lies along device -X.
	_, mag = m.Sample(3)
	assert.InDelta(t, -22, mag.X(), 1e-9)
	assert.InDelta(t, 0, mag.Y(), 1e-9)
}

func TestMockManagerDelivers(t *testing.T) {
	m := NewMockManager(5 * time.Millisecond)
	assert.False(t, m.DefaultSensor(Kind(9)))

	r := &recorder{}
	require.True(t, m.RegisterListener(r, Accelerometer))
	require.True(t, m.RegisterListener(r, Magnetometer))

	assert.Eventually(t, func() bool {
		return r.countKind(Accelerometer) >= 2 && r.countKind(Magnetometer) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	m.UnregisterListener(r)
	n := len(r.snapshot())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(r.snapshot()), "no events after unregister")

	// Restart works after a full stop.
	require.True(t, m.RegisterListener(r, Accelerometer))
	assert.Eventually(t, func() bool { return len(r.snapshot()) > n }, 2*time.Second, 5*time.Millisecond)
	m.UnregisterListener(r)
}

// =============================================================================
// NMEA XDR
// =============================================================================

func TestFormatThenParseXDR(t *testing.T) {
	ts := time.Unix(100, 0)
	line, err := FormatXDR(Event{Kind: Magnetometer, Values: mgl64.Vec3{3.1, 21.7, -41.9}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "$IIXDR,G,3.1000,,MAGX,"))

	events, err := ParseXDR(line, ts)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, Magnetometer, events[0].Kind)
	assert.True(t, events[0].Values.ApproxEqualThreshold(mgl64.Vec3{3.1, 21.7, -41.9}, 1e-9))
	assert.Equal(t, ts, events[0].Timestamp)

	_, err = FormatXDR(Event{Kind: Kind(5)})
	assert.Error(t, err)
}

func TestParseXDRErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not nmea", "hello"},
		{"bad checksum", "$IIXDR,G,1,,ACCX,G,2,,ACCY,G,3,,ACCZ*00"},
		{"other sentence", "$GPGLL,3751.65,S,14507.36,E*77"},
		{"incomplete triple", withChecksum("IIXDR,G,1,,ACCX,G,2,,ACCY")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseXDR(tt.line, time.Now())
			assert.Error(t, err)
		})
	}
}

func withChecksum(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	const hex = "0123456789ABCDEF"
	return "$" + body + "*" + string([]byte{hex[sum>>4], hex[sum&0x0f]})
}

func TestScanXDRSkipsNoise(t *testing.T) {
	accel, err := FormatXDR(Event{Kind: Accelerometer, Values: mgl64.Vec3{0, 0, 9.81}})
	require.NoError(t, err)
	both := withChecksum("IIXDR,G,0,,ACCX,G,0,,ACCY,G,9.8,,ACCZ,G,0,,MAGX,G,22,,MAGY,G,-42,,MAGZ")

	input := strings.Join([]string{"garbage", accel, "$GPGLL,bad", "", both}, "\r\n")
	r := &recorder{}
	require.NoError(t, ScanXDR(strings.NewReader(input), r.OnSensorChanged))

	kinds := []Kind{}
	for _, ev := range r.snapshot() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []Kind{Accelerometer, Accelerometer, Magnetometer}, kinds)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

func TestScanXDRReportsReadErrors(t *testing.T) {
	err := ScanXDR(errReader{}, func(Event) {})
	assert.ErrorContains(t, err, "device unplugged")
}

// pipePort is a serial port backed by an io.Pipe.
type pipePort struct {
	r *io.PipeReader
}

func (p pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipePort) Write(b []byte) (int, error) { return len(b), nil }
func (p pipePort) Close() error                { return p.r.Close() }

func TestSerialManager(t *testing.T) {
	pr, pw := io.Pipe()
	m := NewSerialManager("/dev/null", 9600)
	opened := 0
	m.open = func() (io.ReadWriteCloser, error) {
		opened++
		return pipePort{r: pr}, nil
	}

	r := &recorder{}
	require.True(t, m.RegisterListener(r, Accelerometer))
	require.True(t, m.RegisterListener(r, Magnetometer))
	assert.Equal(t, 1, opened)

	line := withChecksum("IIXDR,G,0,,ACCX,G,0,,ACCY,G,9.8,,ACCZ,G,0,,MAGX,G,22,,MAGY,G,-42,,MAGZ")
	go func() { _, _ = io.WriteString(pw, line+"\r\n") }()

	assert.Eventually(t, func() bool { return len(r.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	m.UnregisterListener(r)
	_, err := pw.Write([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe, "port closed with the last listener")
}

func TestSerialManagerOpenFailure(t *testing.T) {
	m := NewSerialManager("/dev/missing", 9600)
	m.open = func() (io.ReadWriteCloser, error) { return nil, errors.New("no such device") }
	assert.True(t, m.DefaultSensor(Magnetometer))
	assert.False(t, m.RegisterListener(&recorder{}, Accelerometer))
}

// =============================================================================
// MQTT
// =============================================================================

func TestDecodeReading(t *testing.T) {
	payload, err := json.Marshal(ReadingFromEvent("mock", Event{
		Kind:      Accelerometer,
		Values:    mgl64.Vec3{1, 2, 3},
		Timestamp: time.Unix(5, 0),
	}))
	require.NoError(t, err)

	ev, err := decodeReading(payload, Accelerometer)
	require.NoError(t, err)
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, ev.Values)
	assert.True(t, ev.Timestamp.Equal(time.Unix(5, 0)))

	_, err = decodeReading(payload, Magnetometer)
	assert.Error(t, err, "kind mismatch")
	_, err = decodeReading([]byte("{"), Accelerometer)
	assert.Error(t, err)
	_, err = decodeReading([]byte(`{"kind":"gyro"}`), Accelerometer)
	assert.Error(t, err)

	ev, err = decodeReading([]byte(`{"x":1,"y":0,"z":0}`), Magnetometer)
	require.NoError(t, err, "kind may be omitted")
	assert.Equal(t, Magnetometer, ev.Kind)
	assert.False(t, ev.Timestamp.IsZero())
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// fakeClient implements the subscribe side of mqtt.Client.
type fakeClient struct {
	mqtt.Client
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	subErr       error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return doneToken{err: c.subErr}
	}
	c.handlers[topic] = cb
	return doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
		c.unsubscribed = append(c.unsubscribed, t)
	}
	return doneToken{}
}

func (c *fakeClient) deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	if ok {
		h(c, fakeMessage{topic: topic, payload: payload})
	}
	return ok
}

func TestMQTTManager(t *testing.T) {
	c := newFakeClient()
	m := NewMQTTManager(c, "accel", "mag")
	r1, r2 := &recorder{}, &recorder{}

	require.True(t, m.RegisterListener(r1, Accelerometer))
	require.True(t, m.RegisterListener(r2, Accelerometer))
	require.True(t, m.RegisterListener(r1, Magnetometer))

	assert.True(t, c.deliver("accel", []byte(`{"kind":"accelerometer","x":0,"y":0,"z":9.8}`)))
	assert.True(t, c.deliver("mag", []byte(`{"kind":"magnetometer","x":0,"y":22,"z":-42}`)))
	c.deliver("accel", []byte(`not json`))

	assert.Len(t, r1.snapshot(), 2)
	assert.Len(t, r2.snapshot(), 1)

	m.UnregisterListener(r1)
	assert.Equal(t, []string{"mag"}, c.unsubscribed, "accel still has a listener")
	m.UnregisterListener(r2)
	assert.Equal(t, []string{"mag", "accel"}, c.unsubscribed)
	assert.False(t, c.deliver("accel", nil))
}

func TestMQTTManagerMissingTopic(t *testing.T) {
	c := newFakeClient()
	m := NewMQTTManager(c, "accel", "")
	assert.False(t, m.DefaultSensor(Magnetometer))
	assert.False(t, m.RegisterListener(&recorder{}, Magnetometer))

	c.subErr = errors.New("not authorized")
	assert.False(t, m.RegisterListener(&recorder{}, Accelerometer))
}

func TestMQTTManagerFailedSubscribeKeepsOtherKind(t *testing.T) {
	c := newFakeClient()
	m := NewMQTTManager(c, "accel", "mag")
	r := &recorder{}
	require.True(t, m.RegisterListener(r, Accelerometer))

	c.mu.Lock()
	c.subErr = errors.New("not authorized")
	c.mu.Unlock()
	assert.False(t, m.RegisterListener(r, Magnetometer))

	require.True(t, c.deliver("accel", []byte(`{"kind":"accelerometer","x":0,"y":0,"z":9.8}`)))
	require.Len(t, r.snapshot(), 1)
	assert.Equal(t, Accelerometer, r.snapshot()[0].Kind)
	assert.Equal(t, 1, m.listeners.count())
	assert.False(t, m.listeners.has(Magnetometer))

	m.UnregisterListener(r)
	assert.Equal(t, []string{"accel"}, c.unsubscribed)
}

// =============================================================================
// SPI IMU
// =============================================================================

type fakeAccel struct {
	x, y, z int16
	err     error
}

func (f fakeAccel) GetAccelerationX() (int16, error) { return f.x, f.err }
func (f fakeAccel) GetAccelerationY() (int16, error) { return f.y, f.err }
func (f fakeAccel) GetAccelerationZ() (int16, error) { return f.z, f.err }

func TestReadAccelScales(t *testing.T) {
	v, err := readAccel(fakeAccel{z: 16384, x: -8192})
	require.NoError(t, err)
	assert.InDelta(t, StandardGravity, v.Z(), 1e-9)
	assert.InDelta(t, -StandardGravity/2, v.X(), 1e-9)

	_, err = readAccel(fakeAccel{err: errors.New("spi")})
	assert.ErrorContains(t, err, "accel X")
}

func TestIMUManagerAccelerometerOnly(t *testing.T) {
	m := NewIMUManager("/dev/spidev0.0", "GPIO8", 2*time.Millisecond)
	m.connect = func() (accelReader, error) { return fakeAccel{z: 16384}, nil }

	r := &recorder{}
	assert.False(t, m.DefaultSensor(Magnetometer))
	assert.False(t, m.RegisterListener(r, Magnetometer))
	require.True(t, m.RegisterListener(r, Accelerometer))

	assert.Eventually(t, func() bool { return len(r.snapshot()) >= 3 }, 2*time.Second, 2*time.Millisecond)
	m.UnregisterListener(r)
	for _, ev := range r.snapshot() {
		assert.Equal(t, Accelerometer, ev.Kind)
	}
}

func TestIMUManagerConnectFailure(t *testing.T) {
	m := NewIMUManager("/dev/spidev9.9", "GPIO8", 0)
	assert.Equal(t, 20*time.Millisecond, m.Interval)
	m.connect = func() (accelReader, error) { return nil, errors.New("no spi") }
	assert.False(t, m.RegisterListener(&recorder{}, Accelerometer))
	assert.NotPanics(t, func() { m.UnregisterListener(&recorder{}) })
}

func TestIMUManagerDefaultConnectMissingPin(t *testing.T) {
	// No such chip-select line exists on any host, so the real connect
	// path fails before touching SPI.
	m := NewIMUManager("/dev/spidev9.9", "NO_SUCH_PIN", 0)
	dev, err := m.connect()
	require.Error(t, err)
	assert.Nil(t, dev)
	assert.False(t, m.RegisterListener(&recorder{}, Accelerometer))
}

// =============================================================================
// Magnetometer calibration
// =============================================================================

func TestMagCollectorEstimatesOffsetAndScale(t *testing.T) {
	c := &MagCollector{}
	assert.Equal(t, IdentityMagCalibration(), c.Result().Calibration)

	// A box centred on (10, -5, 2) with ranges 40, 20, 40.
	for _, v := range []mgl64.Vec3{{-10, -15, -18}, {30, 5, 22}, {10, -5, 2}} {
		c.OnSensorChanged(Event{Kind: Magnetometer, Values: v})
	}
	c.OnSensorChanged(Event{Kind: Accelerometer, Values: mgl64.Vec3{1000, 1000, 1000}})

	res := c.Result()
	assert.Equal(t, 3, res.Samples)
	assert.True(t, res.Calibration.Offset.ApproxEqual(mgl64.Vec3{10, -5, 2}))
	assert.True(t, res.Range.ApproxEqual(mgl64.Vec3{40, 20, 40}))
	assert.InDelta(t, 100.0/3/40, res.Calibration.Scale.X(), 1e-9)
	assert.InDelta(t, 100.0/3/20, res.Calibration.Scale.Y(), 1e-9)
	assert.InDelta(t, 50, res.Confidence, 1e-9)

	c.Reset()
	assert.Zero(t, c.Result().Samples)
}

func TestMagCalibrationApply(t *testing.T) {
	cal := MagCalibration{Offset: mgl64.Vec3{10, 0, 0}, Scale: mgl64.Vec3{1, 2, 1}}
	assert.Equal(t, mgl64.Vec3{0, 4, -1}, cal.Apply(mgl64.Vec3{10, 2, -1}))
	assert.True(t, IdentityMagCalibration().IsIdentity())
	assert.False(t, cal.IsIdentity())
}

func TestWithMagCalibration(t *testing.T) {
	inner := NewMockManager(time.Hour)
	assert.Same(t, inner, WithMagCalibration(inner, IdentityMagCalibration()))

	cal := MagCalibration{Offset: mgl64.Vec3{0, 2, 0}, Scale: mgl64.Vec3{1, 1, 1}}
	m := WithMagCalibration(inner, cal)
	r := &recorder{}
	require.True(t, m.RegisterListener(r, Accelerometer))
	require.True(t, m.RegisterListener(r, Magnetometer))

	inner.listeners.dispatch(Event{Kind: Magnetometer, Values: mgl64.Vec3{0, 22, -42}})
	inner.listeners.dispatch(Event{Kind: Accelerometer, Values: mgl64.Vec3{0, 2, 9.8}})
	events := r.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, mgl64.Vec3{0, 20, -42}, events[0].Values)
	assert.Equal(t, mgl64.Vec3{0, 2, 9.8}, events[1].Values, "accelerometer untouched")

	m.UnregisterListener(r)
	assert.Zero(t, inner.listeners.count())
	assert.NotPanics(t, func() { m.UnregisterListener(r) })
}
