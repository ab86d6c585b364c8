// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package series

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/kaloix/home-sensor/pkg/record"
)

// warningEvaluator decides whether a Temperature series' current value
// should surface as a warning. The plain Low/High bounds are always
// checked; an optional threshold_expr can additionally extend (never
// suppress) that check against {value, hour, weekday}, for sensors whose comfortable
// range depends on time of day (e.g. a lower night-time setpoint).
type warningEvaluator struct {
	low, high float64
	program   *vm.Program
}

type thresholdEnv struct {
	Value   float64 `expr:"value"`
	Hour    int     `expr:"hour"`
	Weekday int     `expr:"weekday"`
}

func newWarningEvaluator(low, high float64, exprSrc string) (*warningEvaluator, error) {
	w := &warningEvaluator{low: low, high: high}
	if exprSrc == "" {
		return w, nil
	}
	program, err := expr.Compile(exprSrc, expr.Env(thresholdEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("threshold_expr: %w", err)
	}
	w.program = program
	return w, nil
}

// evaluate returns a human-readable warning message if r falls outside the
// configured bounds. The plain-bounds check runs first; if a
// threshold_expr is also configured and it evaluates true, it both
// overrides the message and can flag a warning the plain bounds alone
// would have missed.
func (w *warningEvaluator) evaluate(r record.Record) (string, bool) {
	v := r.Value.Number
	plain := v < w.low || v > w.high

	if w.program == nil {
		if plain {
			return fmt.Sprintf("value %.1f outside range [%.1f, %.1f]", v, w.low, w.high), true
		}
		return "", false
	}

	env := thresholdEnv{
		Value:   v,
		Hour:    r.Timestamp.Hour(),
		Weekday: int(r.Timestamp.Weekday()),
	}
	out, err := expr.Run(w.program, env)
	if err != nil {
		// A broken expression degrades to the plain check rather than
		// silently disabling warnings for this series.
		if plain {
			return fmt.Sprintf("value %.1f outside range [%.1f, %.1f]", v, w.low, w.high), true
		}
		return "", false
	}

	exprHit, _ := out.(bool)
	if plain || exprHit {
		return fmt.Sprintf("value %.1f outside threshold (range [%.1f, %.1f], expr=%t)", v, w.low, w.high, exprHit), true
	}
	return "", false
}
