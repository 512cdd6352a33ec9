package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/ocr"
	"github.com/MeKo-Tech/idscan/internal/preprocess"
	"github.com/MeKo-Tech/idscan/internal/testutil"
)

func TestPipelineScan(t *testing.T) {
	eng := &scriptedEngine{texts: []string{testutil.GroupedCardText}}
	p, err := NewPipeline(PipelineConfig{}, Components{Engines: eng.factory()})
	require.NoError(t, err)

	out, err := p.Scan(context.Background(), cardFrame(), preprocess.StrategyFixed)
	require.NoError(t, err)
	assert.True(t, out.Terminal())
	assert.True(t, out.Present)
	assert.Equal(t, "1234 5678 9012", out.Record.IDNumber)
	assert.Equal(t, "21/11/1988", out.Record.DateOfBirth)
	assert.Equal(t, "FEMALE", out.Record.Gender)
	require.NotNil(t, out.Image)
	assert.Equal(t, out.Rect.Width, out.Image.Bounds().Dx())
	assert.Equal(t, 1, eng.Closed(), "engine is released after each scan")
}

func TestPipelineFullStrategy(t *testing.T) {
	eng := &scriptedEngine{texts: []string{testutil.PartialCardText}}
	p, err := NewPipeline(PipelineConfig{}, Components{Engines: eng.factory()})
	require.NoError(t, err)

	out, err := p.Scan(context.Background(), cardFrame(), preprocess.StrategyFull)
	require.NoError(t, err)
	assert.Equal(t, frame.Rect{Width: 640, Height: 480}, out.Rect)
	assert.False(t, out.Terminal())
	assert.Contains(t, out.Record.Missing(), "date_of_birth")
}

func TestPipelineRequirePresence(t *testing.T) {
	eng := &scriptedEngine{texts: []string{testutil.EmiratesCardText}}
	p, err := NewPipeline(PipelineConfig{RequirePresence: true}, Components{Engines: eng.factory()})
	require.NoError(t, err)

	out, err := p.Scan(context.Background(), frame.New(testutil.PlainFrame(320, 240, 128)), preprocess.StrategyFixed)
	require.NoError(t, err)
	assert.False(t, out.Present)
	assert.Nil(t, out.Image)
	assert.Equal(t, 0, eng.Calls())
}

func TestPipelineErrors(t *testing.T) {
	_, err := NewPipeline(PipelineConfig{}, Components{})
	assert.ErrorIs(t, err, ErrNoEngine)

	eng := &scriptedEngine{errs: []error{errors.New("boom")}}
	p, err := NewPipeline(PipelineConfig{}, Components{Engines: eng.factory()})
	require.NoError(t, err)

	_, err = p.Scan(context.Background(), cardFrame(), preprocess.StrategyFixed)
	var recErr *ocr.RecognitionError
	require.ErrorAs(t, err, &recErr)

	_, err = p.Scan(context.Background(), frame.Frame{}, preprocess.StrategyFixed)
	assert.ErrorIs(t, err, preprocess.ErrInvalidGeometry)

	failing, err := NewPipeline(PipelineConfig{}, Components{Engines: func() (ocr.Engine, error) {
		return nil, ocr.ErrNoBackend
	}})
	require.NoError(t, err)
	_, err = failing.Scan(context.Background(), cardFrame(), preprocess.StrategyFixed)
	assert.ErrorIs(t, err, ocr.ErrNoBackend)
}

func BenchmarkPipelineScan(b *testing.B) {
	engines, err := ocr.NewFactory(ocr.Config{Backend: ocr.BackendStatic, StaticText: testutil.EmiratesCardText})
	require.NoError(b, err)
	p, err := NewPipeline(PipelineConfig{}, Components{Engines: engines})
	require.NoError(b, err)
	f := cardFrame()

	for b.Loop() {
		if _, err := p.Scan(context.Background(), f, preprocess.StrategyFixed); err != nil {
			b.Fatal(err)
		}
	}
}
