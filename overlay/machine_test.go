package overlay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/webclip/clip"
)

type fakeSurface struct {
	shown     int
	teardowns int
	drawn     []clip.Rect
	showErr   error
}

func (f *fakeSurface) Show(context.Context) error { f.shown++; return f.showErr }
func (f *fakeSurface) Draw(r clip.Rect)           { f.drawn = append(f.drawn, r) }
func (f *fakeSurface) Teardown()                  { f.teardowns++ }

// immediate runs the settled report synchronously.
func immediate(_ time.Duration, f func()) { f() }

func armed(t *testing.T, s *fakeSurface) *Machine {
	t.Helper()
	m := New(s, WithAfter(immediate))
	require.NoError(t, m.Arm(context.Background()))
	require.Equal(t, Armed, m.State())
	return m
}

func wait(t *testing.T, m *Machine) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := m.Wait(ctx)
	require.NoError(t, err)
	return r
}

func TestDrag_ResolvesNormalisedRect(t *testing.T) {
	s := &fakeSurface{}
	m := armed(t, s)

	m.PointerDown(110, 70)
	assert.Equal(t, Dragging, m.State())
	m.PointerMove(50, 100)
	m.PointerUp(10, 20)

	r := wait(t, m)
	assert.False(t, r.Cancelled)
	assert.Equal(t, clip.Rect{X: 10, Y: 20, Width: 100, Height: 50}, r.Rect)
	assert.Equal(t, Resolved, m.State())
	assert.Equal(t, 1, s.teardowns)
}

func TestPointerDown_InitialisesZeroRect(t *testing.T) {
	s := &fakeSurface{}
	m := armed(t, s)
	m.PointerDown(5, 6)
	require.Len(t, s.drawn, 1)
	assert.Equal(t, clip.Rect{X: 5, Y: 6}, s.drawn[0])
}

func TestPointerMove_ClampsToOnePixel(t *testing.T) {
	s := &fakeSurface{}
	m := armed(t, s)
	m.PointerDown(5, 5)
	m.PointerMove(5, 40)
	last := s.drawn[len(s.drawn)-1]
	assert.Equal(t, 1.0, last.Width)
	assert.Equal(t, 35.0, last.Height)
}

func TestZeroArea_Cancels(t *testing.T) {
	for _, tc := range []struct {
		name string
		x, y float64
	}{
		{"click", 40, 40},
		{"zero width", 40, 90},
		{"zero height", 90, 40},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := &fakeSurface{}
			m := armed(t, s)
			m.PointerDown(40, 40)
			m.PointerMove(80, 80)
			m.PointerUp(tc.x, tc.y)
			r := wait(t, m)
			assert.True(t, r.Cancelled)
			assert.Equal(t, Cancelled, m.State())
			assert.Equal(t, 1, s.teardowns)
		})
	}
}

func TestEscape_CancelsFromArmedAndDragging(t *testing.T) {
	s := &fakeSurface{}
	m := armed(t, s)
	m.Key("a")
	assert.Equal(t, Armed, m.State())
	m.Key(EscapeKey)
	assert.True(t, wait(t, m).Cancelled)

	s2 := &fakeSurface{}
	m2 := armed(t, s2)
	m2.PointerDown(1, 1)
	m2.Key(EscapeKey)
	assert.True(t, wait(t, m2).Cancelled)
	assert.Equal(t, 1, s2.teardowns)
}

func TestPointerUp_AfterTeardownIsNoop(t *testing.T) {
	s := &fakeSurface{}
	m := armed(t, s)
	m.PointerDown(0, 0)
	m.Key(EscapeKey)
	m.PointerUp(100, 100)
	m.Key(EscapeKey)
	m.Cancel()

	assert.Equal(t, Cancelled, m.State())
	assert.Equal(t, 1, s.teardowns)
	assert.True(t, wait(t, m).Cancelled)
}

func TestPointerUp_WhileArmedIsIgnored(t *testing.T) {
	s := &fakeSurface{}
	m := armed(t, s)
	m.PointerUp(10, 10)
	assert.Equal(t, Armed, m.State())
	assert.Equal(t, 0, s.teardowns)
}

func TestSettleDelay_DefersReport(t *testing.T) {
	s := &fakeSurface{}
	var scheduled time.Duration
	var report func()
	m := New(s, WithAfter(func(d time.Duration, f func()) { scheduled, report = d, f }))
	require.NoError(t, m.Arm(context.Background()))
	m.PointerDown(0, 0)
	m.PointerUp(30, 30)

	assert.Equal(t, SettleDelay, scheduled)
	assert.Equal(t, 1, s.teardowns, "overlay removed before the report")
	select {
	case <-m.done:
		t.Fatal("reported before settling")
	default:
	}
	report()
	assert.Equal(t, clip.Rect{Width: 30, Height: 30}, wait(t, m).Rect)
}

func TestArm_Twice(t *testing.T) {
	m := armed(t, &fakeSurface{})
	assert.ErrorIs(t, m.Arm(context.Background()), ErrNotIdle)
}

func TestArm_ShowFailureCancels(t *testing.T) {
	s := &fakeSurface{showErr: errors.New("no body")}
	m := New(s)
	require.Error(t, m.Arm(context.Background()))
	assert.Equal(t, Cancelled, m.State())
	assert.Equal(t, 1, s.teardowns)
}

func TestWait_ContextEndCancels(t *testing.T) {
	s := &fakeSurface{}
	m := armed(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, err := m.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, r.Cancelled)
	assert.Equal(t, 1, s.teardowns)
}
