// Package engine evaluates the isopipe recipe DSL. User source runs in a
// sandboxed zygomys interpreter whose builtins (node, center,
// construction, plane-*, on-segment) assemble a graph.Fixture, which is
// validated and built into a graph.Graph.
package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/isopipe/pkg/graph"
)

// EvalError is a non-fatal problem with user source: a parse error, a
// runtime error in a builtin, or a blocking validation finding.
type EvalError struct {
	Line    int
	Col     int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// EvalWarning is an advisory validation finding on the built recipe.
type EvalWarning struct {
	Message string
	NodeID  graph.NodeID
	EdgeID  graph.EdgeID
}

// EvalResult bundles the output of one evaluation. Graph is nil whenever
// Errors is non-empty.
type EvalResult struct {
	Graph    *graph.Graph
	Fixture  *graph.Fixture
	Errors   []EvalError
	Warnings []EvalWarning
}

// OK reports whether the source produced a graph.
func (r EvalResult) OK() bool { return r.Graph != nil && len(r.Errors) == 0 }

// Engine wraps the zygomys interpreter. It is safe for concurrent use;
// every Evaluate runs in a fresh sandbox and only the newest call's
// result is returned.
type Engine struct {
	// Timeout bounds one evaluation. Zero means EvalTimeout.
	Timeout time.Duration

	mu         sync.Mutex
	generation uint64
}

// NewEngine creates an Engine with the default timeout.
func NewEngine() *Engine {
	return &Engine{Timeout: EvalTimeout}
}

// Evaluate runs recipe source and builds its graph.
//
// Return semantics:
//   - success: result with Graph set, nil error
//   - parse, builtin or validation failure: result with Errors, nil error
//   - timeout, supersession or panic: empty result and an error
func (e *Engine) Evaluate(source string) (EvalResult, error) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = EvalTimeout
	}

	ch := make(chan evalOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalOutcome{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()
		ch <- evalOutcome{res: evaluate(source)}
	}()

	return waitWithTimeout(ch, gen, &e.mu, &e.generation, timeout)
}

// evaluate performs one run in a fresh sandbox.
func evaluate(source string) EvalResult {
	if strings.TrimSpace(source) == "" {
		return EvalResult{Graph: graph.New(), Fixture: &graph.Fixture{}}
	}

	env := zygo.NewZlispSandbox()
	defer env.Stop()

	r := newRecipe()
	registerBuiltins(env, r)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		return EvalResult{Errors: parseZygomysError(err)}
	}
	if _, err := env.Run(); err != nil {
		return EvalResult{Errors: parseZygomysError(err)}
	}
	return r.build()
}

// build validates the collected fixture and turns it into a graph.
func (r *recipe) build() EvalResult {
	res := EvalResult{Fixture: &r.f}
	v := graph.ValidateFixture(&r.f)
	for _, w := range v.Warnings {
		res.Warnings = append(res.Warnings, EvalWarning{Message: w.Message, NodeID: w.NodeID, EdgeID: w.EdgeID})
	}
	for _, ve := range v.Errors {
		res.Errors = append(res.Errors, EvalError{Message: ve.Error()})
	}
	if len(res.Errors) > 0 {
		return res
	}
	g, err := r.f.Build()
	if err != nil {
		res.Errors = append(res.Errors, EvalError{Message: err.Error()})
		return res
	}
	res.Graph = g
	return res
}

// linePattern matches zygomys messages such as "Error on line N: ...".
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches "line N: ...".
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts an interpreter error into EvalErrors,
// extracting the line number when the message carries one.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
