package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/user/activitytracker/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	typing []types.TypingSession
	mouse  []types.MouseMoveSpan
	err    error
}

func (r *recorder) InsertTyping(_ context.Context, s types.TypingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, s)
	return r.err
}

func (r *recorder) InsertMouse(_ context.Context, s types.MouseMoveSpan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mouse = append(r.mouse, s)
	return r.err
}

func (r *recorder) typingSessions() []types.TypingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.TypingSession(nil), r.typing...)
}

func (r *recorder) mouseSpans() []types.MouseMoveSpan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.MouseMoveSpan(nil), r.mouse...)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestKeyboardTypingSession(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	k := NewKeyboard(rec, KeyboardOptions{Clock: mClock})
	start := mClock.Now()

	k.Add(types.KeyEvent{At: mClock.Now()})
	mClock.Advance(200 * time.Millisecond).MustWait(ctx)
	k.Add(types.KeyEvent{At: mClock.Now()})
	mClock.Advance(200 * time.Millisecond).MustWait(ctx)
	k.Add(types.KeyEvent{At: mClock.Now()})

	mClock.Advance(999 * time.Millisecond).MustWait(ctx)
	require.Empty(t, rec.typingSessions())

	mClock.Advance(time.Millisecond).MustWait(ctx)
	require.Eventually(t, func() bool { return len(rec.typingSessions()) == 1 }, 5*time.Second, 10*time.Millisecond)

	got := rec.typingSessions()[0]
	require.True(t, got.Start.Equal(start))
	require.True(t, got.End.Equal(start.Add(400*time.Millisecond)))
	require.NotEmpty(t, got.ID)
}

func TestKeyboardSeparateBursts(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	k := NewKeyboard(rec, KeyboardOptions{Clock: mClock, Idle: 500 * time.Millisecond})

	k.Add(types.KeyEvent{At: mClock.Now()})
	mClock.Advance(500 * time.Millisecond).MustWait(ctx)
	require.Eventually(t, func() bool { return len(rec.typingSessions()) == 1 }, 5*time.Second, 10*time.Millisecond)

	k.Add(types.KeyEvent{At: mClock.Now()})
	mClock.Advance(100 * time.Millisecond).MustWait(ctx)
	k.Add(types.KeyEvent{At: mClock.Now()})
	mClock.Advance(500 * time.Millisecond).MustWait(ctx)
	require.Eventually(t, func() bool { return len(rec.typingSessions()) == 2 }, 5*time.Second, 10*time.Millisecond)

	second := rec.typingSessions()[1]
	require.Equal(t, 100*time.Millisecond, second.End.Sub(second.Start))
}

func TestKeyboardFlush(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	k := NewKeyboard(rec, KeyboardOptions{Clock: mClock})

	require.False(t, k.Flush())
	k.Add(types.KeyEvent{At: mClock.Now()})
	mClock.Advance(300 * time.Millisecond).MustWait(ctx)
	k.Add(types.KeyEvent{At: mClock.Now()})
	require.True(t, k.Flush())
	require.Len(t, rec.typingSessions(), 1)

	// The idle timer was cancelled with the flush.
	mClock.Advance(time.Second).MustWait(ctx)
	require.Len(t, rec.typingSessions(), 1)
	require.False(t, k.Flush())
}

func TestKeyboardSinkErrorIsLogged(t *testing.T) {
	rec := &recorder{err: errors.New("queue closed")}
	k := NewKeyboard(rec, KeyboardOptions{Clock: quartz.NewMock(t)})
	k.Add(types.KeyEvent{At: time.Now()})
	require.True(t, k.Flush())
	require.Len(t, rec.typingSessions(), 1)
}

func TestMouseCapAndDebounce(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	m := NewMouse(rec, MouseOptions{Clock: mClock})
	start := mClock.Now()

	for i := 0; i < 1500; i++ {
		m.Add(types.MouseEvent{At: mClock.Now(), Kind: types.MouseMove})
		mClock.Advance(5 * time.Millisecond).MustWait(ctx)
	}

	spans := rec.mouseSpans()
	require.Len(t, spans, 1)
	require.Equal(t, 1000, spans[0].Events)
	require.True(t, spans[0].Start.Equal(start))
	require.True(t, spans[0].End.Equal(start.Add(999*5*time.Millisecond)))

	// The last event was 5ms ago; the debounce fires 295ms later.
	mClock.Advance(295 * time.Millisecond).MustWait(ctx)
	require.Eventually(t, func() bool { return len(rec.mouseSpans()) == 2 }, 5*time.Second, 10*time.Millisecond)

	second := rec.mouseSpans()[1]
	require.Equal(t, 500, second.Events)
	require.True(t, second.Start.Equal(start.Add(1000*5*time.Millisecond)))
	require.True(t, second.End.Equal(start.Add(1499*5*time.Millisecond)))
	require.False(t, second.Start.Before(spans[0].End))
}

func TestMouseDebounceSplitsOnQuiet(t *testing.T) {
	ctx := testContext(t)
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	m := NewMouse(rec, MouseOptions{Clock: mClock})

	m.Add(types.MouseEvent{At: mClock.Now()})
	mClock.Advance(299 * time.Millisecond).MustWait(ctx)
	m.Add(types.MouseEvent{At: mClock.Now(), Kind: types.MouseClick})
	mClock.Advance(299 * time.Millisecond).MustWait(ctx)
	require.Empty(t, rec.mouseSpans())

	m.Add(types.MouseEvent{At: mClock.Now(), Kind: types.MouseScroll})
	mClock.Advance(300 * time.Millisecond).MustWait(ctx)
	require.Eventually(t, func() bool { return len(rec.mouseSpans()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 3, rec.mouseSpans()[0].Events)
	span := rec.mouseSpans()[0]
	require.Equal(t, 598*time.Millisecond, span.End.Sub(span.Start))
	require.True(t, span.End.Before(mClock.Now()), "span ends at the last event, not at the timer fire")
}

func TestMouseStaleEventDoesNotMoveEndBackwards(t *testing.T) {
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	m := NewMouse(rec, MouseOptions{Clock: mClock})
	now := mClock.Now()

	m.Add(types.MouseEvent{At: now.Add(time.Second)})
	m.Add(types.MouseEvent{At: now})
	require.True(t, m.Flush())
	span := rec.mouseSpans()[0]
	require.True(t, span.End.Equal(now.Add(time.Second)))
	require.Equal(t, 2, span.Events)
}

func TestRunFlushesWhenInputCloses(t *testing.T) {
	mClock := quartz.NewMock(t)
	rec := &recorder{}
	k := NewKeyboard(rec, KeyboardOptions{Clock: mClock})
	m := NewMouse(rec, MouseOptions{Clock: mClock})

	keys := make(chan types.KeyEvent, 2)
	moves := make(chan types.MouseEvent, 2)
	keys <- types.KeyEvent{At: mClock.Now()}
	keys <- types.KeyEvent{At: mClock.Now().Add(50 * time.Millisecond)}
	moves <- types.MouseEvent{At: mClock.Now()}
	close(keys)
	close(moves)

	require.NoError(t, k.Run(context.Background(), keys))
	require.NoError(t, m.Run(context.Background(), moves))
	require.Len(t, rec.typingSessions(), 1)
	require.Equal(t, 50*time.Millisecond, rec.typingSessions()[0].End.Sub(rec.typingSessions()[0].Start))
	require.Len(t, rec.mouseSpans(), 1)
}
