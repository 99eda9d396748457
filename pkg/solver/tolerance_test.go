package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chazu/isopipe/pkg/trace"
)

func TestTolerances_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Tolerances)
		wantErr bool
	}{
		{"defaults", func(*Tolerances) {}, false},
		{"zero structural", func(t *Tolerances) { t.Structural = 0 }, true},
		{"geom above conflict", func(t *Tolerances) { t.Geom = 1 }, true},
		{"structural above geom", func(t *Tolerances) { t.Structural = 1e-3 }, true},
		{"negative passes", func(t *Tolerances) { t.MaxExtraPasses = -1 }, true},
		{"tighter but ordered", func(t *Tolerances) { t.UserConflictMm = 0.01 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tol := DefaultTolerances()
			tt.mutate(&tol)
			err := tol.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTolerances)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPassBound(t *testing.T) {
	tol := DefaultTolerances()
	assert.Equal(t, 10, tol.passBound(0))
	assert.Equal(t, 25, tol.passBound(5))
}

func TestContext_RunIDs(t *testing.T) {
	g := loadFixture(t, "regression.json")
	n := 0
	var ids []string
	c := NewContext(context.Background(), g,
		WithRunIDs(func() string { n++; return string(rune('a' + n - 1)) }),
		WithSink(trace.SinkFunc(func(_ context.Context, r trace.Record) {
			ids = append(ids, r.RunID)
		})),
	)
	c.CheckSolvable()
	_, ok := c.Solve()
	assert.True(t, ok)
	assert.Empty(t, c.RunID())

	assert.Equal(t, "a", ids[0])
	assert.Equal(t, "b", ids[len(ids)-1])
}

func TestNewContext_Defaults(t *testing.T) {
	g := loadFixture(t, "regression.json")
	c := NewContext(nil, g, WithSink(nil), WithClock(nil), WithRunIDs(nil))
	assert.Equal(t, DefaultTolerances(), c.Tol)
	assert.NotNil(t, c.Sink)
	assert.Positive(t, c.Now())
	assert.False(t, c.Suppressed())
}
