package engine

import (
	"errors"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chazu/isopipe/pkg/graph"
	"github.com/chazu/isopipe/pkg/solver"
)

func mustEvaluate(t *testing.T, source string) EvalResult {
	t.Helper()
	res, err := NewEngine().Evaluate(source)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected eval errors: %v", res.Errors)
	}
	if res.Graph == nil {
		t.Fatal("expected non-nil graph")
	}
	return res
}

func TestEvaluateEmptyString(t *testing.T) {
	for _, src := range []string{"", "   \n\t  \n  "} {
		res := mustEvaluate(t, src)
		if res.Graph.NodeCount() != 0 {
			t.Errorf("expected empty graph, got %d nodes", res.Graph.NodeCount())
		}
	}
}

func TestEvaluatePlainLisp(t *testing.T) {
	source := `
(def x 10)
(def y 20)
(+ x y)
`
	res := mustEvaluate(t, source)
	if res.Graph.NodeCount() != 0 || res.Graph.EdgeCount() != 0 {
		t.Errorf("plain arithmetic should not declare anything")
	}
}

func TestEvaluateSyntaxError(t *testing.T) {
	res, err := NewEngine().Evaluate("(node \"a\" (vec3 0 0 0)")
	if err != nil {
		t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
	}
	if res.Graph != nil {
		t.Fatal("expected nil graph on syntax error")
	}
	if len(res.Errors) == 0 || res.Errors[0].Message == "" {
		t.Fatalf("expected a described eval error, got %v", res.Errors)
	}
	if res.OK() {
		t.Error("OK() should be false")
	}
}

func TestEvaluateUndefinedSymbol(t *testing.T) {
	res, err := NewEngine().Evaluate("(+ 1 undefined-symbol)")
	if err != nil {
		t.Fatalf("expected non-fatal eval error, got fatal: %v", err)
	}
	if res.Graph != nil || len(res.Errors) == 0 {
		t.Fatalf("expected eval error for undefined symbol, got %+v", res)
	}
}

func TestEvaluateValidationErrors(t *testing.T) {
	// e1 points at a node that was never declared.
	res, err := NewEngine().Evaluate(`
(node "a" (vec3 0 0 0) :anchor true)
(center "e1" "a" "ghost" :mm 10)
`)
	if err != nil {
		t.Fatalf("fatal: %v", err)
	}
	if res.Graph != nil {
		t.Fatal("expected nil graph for an invalid recipe")
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0].Message, "e1") {
		t.Fatalf("expected an error naming e1, got %v", res.Errors)
	}
	if res.Fixture == nil || len(res.Fixture.Edges) != 1 {
		t.Error("the collected fixture should be returned for inspection")
	}
}

func TestEvalErrorImplementsError(t *testing.T) {
	e := EvalError{Line: 5, Message: "something went wrong"}
	if s := e.Error(); !strings.Contains(s, "line 5") || !strings.Contains(s, "something went wrong") {
		t.Errorf("Error() = %q", s)
	}
	if s := (EvalError{Message: "no location"}).Error(); strings.Contains(s, "line") {
		t.Errorf("Error() with no line should not mention a line, got %q", s)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	src, err := os.ReadFile("testdata/regression.zy")
	if err != nil {
		t.Fatal(err)
	}
	var first *graph.Fixture
	for i := 0; i < 3; i++ {
		res := mustEvaluate(t, string(src))
		fx := res.Graph.ToFixture()
		if first == nil {
			first = fx
			continue
		}
		a, _ := first.Marshal("json")
		b, _ := fx.Marshal("json")
		if string(a) != string(b) {
			t.Fatalf("iteration %d produced a different recipe", i)
		}
	}
}

// The DSL version of the regression recipe must solve exactly like the
// JSON fixture.
func TestRegressionRecipeMatchesFixture(t *testing.T) {
	src, err := os.ReadFile("testdata/regression.zy")
	if err != nil {
		t.Fatal(err)
	}
	res := mustEvaluate(t, string(src))
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}

	fx, err := graph.LoadFixture("../graph/testdata/regression.json")
	if err != nil {
		t.Fatal(err)
	}
	want, err := fx.Build()
	if err != nil {
		t.Fatal(err)
	}

	gotEmb, ok := solver.Solve(res.Graph)
	if !ok {
		t.Fatal("DSL recipe did not solve")
	}
	wantEmb, ok := solver.Solve(want)
	if !ok {
		t.Fatal("fixture did not solve")
	}

	if len(gotEmb.Coords) != len(wantEmb.Coords) {
		t.Fatalf("placed %d nodes, fixture placed %d", len(gotEmb.Coords), len(wantEmb.Coords))
	}
	for id, w := range wantEmb.Coords {
		g, ok := gotEmb.Pos(id)
		if !ok {
			t.Fatalf("node %s not placed", id)
		}
		if g.Dist(w) > 1e-9 {
			t.Errorf("node %s at %v, fixture has %v", id, g, w)
		}
	}
	d, ok := gotEmb.Derived["e5"]
	if !ok {
		t.Fatal("e5 has no derived length")
	}
	if want := 100*math.Sqrt2 - 50; math.Abs(d-want) > 1e-6 {
		t.Errorf("e5 derived %.6f, want %.6f", d, want)
	}
}

func TestEvaluateTimeout(t *testing.T) {
	var mu sync.Mutex
	gen := uint64(1)
	ch := make(chan evalOutcome) // never sends

	_, err := waitWithTimeout(ch, 1, &mu, &gen, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestEvaluateGenerationDiscardsStale(t *testing.T) {
	var mu sync.Mutex
	gen := uint64(2)
	ch := make(chan evalOutcome, 1)
	ch <- evalOutcome{res: EvalResult{Graph: graph.New()}}

	_, err := waitWithTimeout(ch, 1, &mu, &gen, time.Second)
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
}

func TestEngineDefaultTimeout(t *testing.T) {
	e := &Engine{}
	res, err := e.Evaluate("(vec3 1 2 3)")
	if err != nil {
		t.Fatalf("zero Timeout should fall back to EvalTimeout: %v", err)
	}
	if res.Graph == nil {
		t.Fatal("expected graph")
	}
}

func TestParseZygomysError(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantLine int
		wantMsg  string
	}{
		{"error on line format", "Error on line 5: unexpected token\n", 5, "unexpected token"},
		{"no line info", "some generic error", 0, "some generic error"},
		{"line format lowercase", "error on line 12: missing paren", 12, "missing paren"},
		{"short form", "line 3: bad", 3, "bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := parseZygomysError(errString(tt.msg))
			if len(errs) == 0 {
				t.Fatal("expected at least one error")
			}
			if errs[0].Line != tt.wantLine {
				t.Errorf("line = %d, want %d", errs[0].Line, tt.wantLine)
			}
			if !strings.Contains(errs[0].Message, tt.wantMsg) {
				t.Errorf("message = %q, want containing %q", errs[0].Message, tt.wantMsg)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
