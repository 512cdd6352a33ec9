package ocr

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, BackendTesseract, cfg.Backend)
	assert.Equal(t, "eng", cfg.Language)
	assert.Equal(t, DefaultWhitelist, cfg.Whitelist)
	assert.Contains(t, DefaultWhitelist, "/")
	assert.Contains(t, DefaultWhitelist, " ")
}

func TestStaticFactory(t *testing.T) {
	factory, err := NewFactory(Config{Backend: BackendStatic, StaticText: "ID: 784-1990-1234567-1"})
	require.NoError(t, err)

	eng, err := factory()
	require.NoError(t, err)
	res, err := eng.Recognize(context.Background(), image.NewNRGBA(image.Rect(0, 0, 2, 2)), DefaultWhitelist)
	require.NoError(t, err)
	assert.Equal(t, "ID: 784-1990-1234567-1", res.Text)
	assert.InDelta(t, 1.0, res.Confidence, 0)
	require.NoError(t, eng.Close())

	other, err := factory()
	require.NoError(t, err)
	assert.NotSame(t, eng, other, "each call creates a fresh engine")
}

func TestUnknownBackend(t *testing.T) {
	_, err := NewFactory(Config{Backend: "paddle"})
	assert.Error(t, err)
	assert.False(t, Available("paddle"))
	assert.True(t, Available(BackendStatic))
}

func TestTesseractAvailability(t *testing.T) {
	_, err := NewFactory(Config{Backend: BackendTesseract})
	if tesseractAvailable {
		assert.NoError(t, err)
	} else {
		assert.ErrorIs(t, err, ErrNoBackend)
	}
	assert.Equal(t, tesseractAvailable, Available(BackendTesseract))
}

func TestStaticEngineClosed(t *testing.T) {
	eng := NewStaticEngine("x")
	require.NoError(t, eng.Close())
	assert.True(t, eng.Closed())

	_, err := eng.Recognize(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1, 1)), "")
	assert.ErrorIs(t, err, ErrClosed)
	var recErr *RecognitionError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, BackendStatic, recErr.Backend)
}

func TestStaticEngineHonorsContext(t *testing.T) {
	eng := NewStaticEngine("slow")
	eng.Delay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := eng.Recognize(ctx, image.NewNRGBA(image.Rect(0, 0, 1, 1)), "")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int64(1), eng.Calls())
}

func TestStaticEngineSetText(t *testing.T) {
	eng := NewStaticEngine("")
	res, err := eng.Recognize(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1, 1)), "")
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.InDelta(t, 0.0, res.Confidence, 0)

	eng.SetText("Name: Jane")
	res, err = eng.Recognize(context.Background(), image.NewNRGBA(image.Rect(0, 0, 1, 1)), "")
	require.NoError(t, err)
	assert.Equal(t, "Name: Jane", res.Text)

	_, err = eng.Recognize(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestDetachedCallRefusesWhileAbandonedCallRuns(t *testing.T) {
	var d detachedCall
	release := make(chan struct{})
	calls := 0
	slow := func() (Result, error) {
		calls++
		<-release
		return Result{Text: "late"}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := d.run(ctx, BackendTesseract, slow)
	var recErr *RecognitionError
	require.ErrorAs(t, err, &recErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	for range 3 {
		_, err = d.run(context.Background(), BackendTesseract, slow)
		require.ErrorIs(t, err, ErrBusy)
	}

	close(release)
	require.Eventually(t, func() bool { return !d.busy.Load() }, time.Second, time.Millisecond)
	assert.Equal(t, 1, calls, "refused calls never reach the engine")

	res, err := d.run(context.Background(), BackendTesseract, func() (Result, error) {
		return Result{Text: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
}
