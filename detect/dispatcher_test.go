package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBackend struct {
	results map[Kind][]Detection
	err     error
	calls   []Kind
}

func (m *mockBackend) Detect(ctx context.Context, kind Kind, imagePath string) ([]Detection, error) {
	m.calls = append(m.calls, kind)
	if m.err != nil {
		return nil, m.err
	}
	return m.results[kind], nil
}

func det(t *testing.T, x0, y0, x1, y1 int, label string, conf float64) Detection {
	t.Helper()
	d, err := NewDetection(x0, y0, x1, y1, label, conf)
	require.NoError(t, err)
	return d
}

func TestDispatcher_Detections(t *testing.T) {
	ctx := context.Background()
	breast := det(t, 10, 10, 50, 50, FemaleBreastExposed, 0.95)
	genitalia := det(t, 60, 60, 90, 90, FemaleGenitaliaExposed, 0.9)
	feet := det(t, 0, 100, 20, 120, FeetCovered, 0.5)
	armpit := det(t, 5, 5, 15, 15, ArmpitsExposed, 0.4)
	head := det(t, 1, 2, 3, 4, "head", 0.8)

	backend := &mockBackend{results: map[Kind][]Detection{
		KindNudeNet: {breast, genitalia, feet, armpit},
		KindHead:    {head},
	}}
	d := NewDispatcher(backend)

	t.Run("Test Mongo keeps only genitalia", func(t *testing.T) {
		got, err := d.Detections(ctx, Mongo, "img.png")
		require.NoError(t, err)
		assert.Equal(t, []Detection{genitalia}, got)
	})

	t.Run("Test Opai keeps only breast", func(t *testing.T) {
		got, err := d.Detections(ctx, Opai, "img.png")
		require.NoError(t, err)
		assert.Equal(t, []Detection{breast}, got)
	})

	t.Run("Test NudeNet passes through in order", func(t *testing.T) {
		got, err := d.Detections(ctx, NudeNet, "img.png")
		require.NoError(t, err)
		assert.Equal(t, []Detection{breast, genitalia, feet, armpit}, got)
	})

	t.Run("Test Armpits and Feet", func(t *testing.T) {
		got, err := d.Detections(ctx, Armpits, "img.png")
		require.NoError(t, err)
		assert.Equal(t, []Detection{armpit}, got)
		got, err = d.Detections(ctx, Feet, "img.png")
		require.NoError(t, err)
		assert.Equal(t, []Detection{feet}, got)
	})

	t.Run("Test Head routes to head backend", func(t *testing.T) {
		backend.calls = nil
		got, err := d.Detections(ctx, Head, "img.png")
		require.NoError(t, err)
		assert.Equal(t, []Detection{head}, got)
		assert.Equal(t, []Kind{KindHead}, backend.calls)
	})

	t.Run("Test empty is not an error", func(t *testing.T) {
		got, err := d.Detections(ctx, Eyes, "img.png")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Test unregistered type", func(t *testing.T) {
		backend.calls = nil
		_, err := d.Detections(ctx, Type("tails"), "img.png")
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Empty(t, backend.calls)
	})
}

func TestDispatcher_BackendFailure(t *testing.T) {
	d := NewDispatcher(&mockBackend{err: errors.New("model exploded")})
	_, err := d.Detections(context.Background(), Faces, "img.png")
	assert.ErrorIs(t, err, ErrProcessing)
	assert.Equal(t, ClassProcessing, ErrorClass(err))
}

func TestDispatcher_NilBackend(t *testing.T) {
	_, err := NewDispatcher(nil).Detections(context.Background(), Head, "img.png")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestFilterExclusivity(t *testing.T) {
	for _, label := range NudeNetLabels {
		inMongo := InGroup(label, GroupFemaleGenitalia)
		inOpai := InGroup(label, GroupFemaleBreast)
		assert.False(t, inMongo && inOpai, label)
	}
	assert.False(t, InGroup("FEMALE_BREAST_PAINTED", GroupFemaleBreast))
	assert.True(t, InGroup("anything", GroupNone))
}

func TestParseType(t *testing.T) {
	for _, typ := range Types {
		got, err := ParseType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	got, err := ParseType(" MONGO ")
	require.NoError(t, err)
	assert.Equal(t, Mongo, got)

	_, err = ParseType("hands")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, ClassConfiguration, ErrorClass(err))
}

func TestNewDetection(t *testing.T) {
	d, err := NewDetection(50, 60, 10, 20, FaceMale, 0.7)
	require.NoError(t, err)
	assert.Equal(t, Box{X0: 10, Y0: 20, X1: 50, Y1: 60}, d.Box)
	assert.Equal(t, 40, d.Box.Width())
	assert.Equal(t, 40, d.Box.Height())

	_, err = NewDetection(0, 0, 1, 1, FaceMale, 1.5)
	assert.ErrorIs(t, err, ErrProcessing)
}

func TestLabelSet(t *testing.T) {
	assert.Len(t, NudeNetLabels, 18)
	for label := range labelGroups {
		assert.True(t, KnownLabel(label), label)
	}
	g, ok := GroupOf(FeetExposed)
	assert.True(t, ok)
	assert.Equal(t, GroupFeet, g)
	_, ok = GroupOf(FaceMale)
	assert.False(t, ok)
}
