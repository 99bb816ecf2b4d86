package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/yardcam/internal/observability"
	"github.com/roach88/yardcam/internal/region"
)

func collect(ctx context.Context, t *testing.T, src Source) ([]Reading, error) {
	t.Helper()
	var got []Reading
	err := src.Run(ctx, func(r Reading) { got = append(got, r) })
	return got, err
}

func TestDecodeReading(t *testing.T) {
	r, err := DecodeReading([]byte(`{"region":" S1 ","occupied":true}`))
	require.NoError(t, err)
	assert.Equal(t, Reading{Region: "S1", Occupied: true}, r)

	for _, bad := range []string{
		`not json`,
		`{"occupied":true}`,
		`{"region":"","occupied":true}`,
		`{"region":"S1"}`,
	} {
		_, err := DecodeReading([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestLineSource_Reader(t *testing.T) {
	input := strings.Join([]string{
		`# recorded 2026-05-04`,
		`{"region":"S1","occupied":true}`,
		``,
		`{"region":"E1","occupied":fals}`,
		`{"region":"E1","occupied":false}`,
	}, "\n")
	src := &LineSource{Reader: strings.NewReader(input), Logger: observability.Discard()}

	got, err := collect(context.Background(), t, src)
	require.NoError(t, err)
	assert.Equal(t, []Reading{
		{Region: "S1", Occupied: true},
		{Region: "E1", Occupied: false},
	}, got)
}

func TestLineSource_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cam.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"region":"S2","occupied":true}`+"\n"), 0o644))

	got, err := collect(context.Background(), t, &LineSource{Path: path})
	require.NoError(t, err)
	assert.Equal(t, []Reading{{Region: region.ID("S2"), Occupied: true}}, got)

	_, err = collect(context.Background(), t, &LineSource{Path: path + ".missing"})
	assert.Error(t, err)

	_, err = collect(context.Background(), t, &LineSource{})
	assert.Error(t, err)
}

func TestLineSource_IntervalHonorsCancel(t *testing.T) {
	input := strings.Repeat(`{"region":"S1","occupied":true}`+"\n", 100)
	src := &LineSource{Reader: strings.NewReader(input), Interval: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, err := collect(ctx, t, src)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, got)
}
