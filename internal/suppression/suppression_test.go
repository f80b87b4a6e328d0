package suppression

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/cockpit/internal/clock"
	"github.com/mycelian/cockpit/internal/model"
	"github.com/mycelian/cockpit/internal/store/sqlite"
)

func newService(t *testing.T, clk clock.Clock) *Service {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	s := sqlite.NewWithDB(db)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return New(s.Shown(), clk, zerolog.Nop())
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 1, 9, 16, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(t0)
	svc := newService(t, clk)

	assert.Equal(t, 2, svc.RecordRendered(ctx, "u1", []string{"a", "b", "a"}))

	clk.Advance(10 * time.Second)
	assert.Equal(t, 0, svc.RecordRendered(ctx, "u1", []string{"a"}), "render storm does not refresh")

	clk.Set(t0.Add(90 * time.Minute))
	got := svc.Recent(ctx, "u1", []string{"a", "b", "c"})
	assert.Len(t, got, 2)
	assert.True(t, got["a"].Equal(t0))

	clk.Set(t0.Add(3 * time.Hour))
	assert.Empty(t, svc.Recent(ctx, "u1", []string{"a", "b"}))

	n, err := svc.Prune(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestValidateKeys(t *testing.T) {
	assert.NoError(t, ValidateKeys([]string{"a", "b", "c"}))
	for _, keys := range [][]string{nil, {"a", "b", "c", "d"}, {""}} {
		err := ValidateKeys(keys)
		assert.True(t, errors.Is(err, model.ErrValidation), "%v", keys)
	}
}

type brokenShown struct{}

func (brokenShown) Upsert(context.Context, string, string, time.Time, time.Duration) (bool, error) {
	return false, errors.New("disk full")
}
func (brokenShown) Since(context.Context, string, []string, time.Time) (map[string]time.Time, error) {
	return nil, errors.New("disk full")
}
func (brokenShown) PruneBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("disk full")
}

func TestStorageFailuresAreSwallowed(t *testing.T) {
	svc := New(brokenShown{}, clock.NewFixed(time.Now()), zerolog.Nop())
	assert.Empty(t, svc.Recent(context.Background(), "u1", []string{"a"}))
	assert.Zero(t, svc.RecordRendered(context.Background(), "u1", []string{"a"}))
	_, err := svc.Prune(context.Background())
	assert.Error(t, err)
}
