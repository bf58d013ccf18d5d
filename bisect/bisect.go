// Package bisect implements the auto-bisector: given a control spec and a
// fully-varied spec, it isolates which individual variations are
// responsible for an unreproducible build in O(k) extra builds (k = the
// number of variations), instead of the 2^k a brute-force search over
// subsets would cost -- acceptable because variations are largely
// independent in practice.
package bisect

import (
	"math/rand"

	"reprotest/varspec"
)

// Oracle runs one extra experiment build named name under spec and
// reports whether it reproduced the control.
type Oracle func(name string, spec *varspec.Spec) (bool, error)

// Result is the bisector's verdict.
type Result struct {
	// ControlReproducible is false whenever the build failed to reproduce even
	// under fully controlled conditions (the empty spec) -- bisection
	// doesn't apply, since there's nothing to isolate.
	ControlReproducible bool
	// FullyReproducible is true when the build reproduces even with
	// every variation enabled; Witnesses is empty in that case.
	FullyReproducible bool
	// Witnesses names the variations that, individually, broke
	// reproducibility against an otherwise-control build.
	Witnesses []string
}

// Run walks names in random order, committing each variation whose
// individual enablement (on top of whatever has already committed)
// still reproduces, and recording the rest as witnesses.
func Run(names []string, varFull *varspec.Spec, oracle Oracle) (Result, error) {
	controlOK, err := oracle("control", varspec.New())
	if err != nil {
		return Result{}, err
	}
	if !controlOK {
		return Result{ControlReproducible: false}, nil
	}

	fullOK, err := oracle("full", varFull)
	if err != nil {
		return Result{}, err
	}
	if fullOK {
		return Result{ControlReproducible: true, FullyReproducible: true}, nil
	}

	order := append([]string(nil), names...)
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	current := varspec.New()
	var witnesses []string
	for _, v := range order {
		candidate := current.Clone()
		candidate.SetEnabled(v, varFull.Enabled(v))
		if varFull.Enabled(v) {
			copyFieldsInto(candidate, varFull, v)
		}

		ok, err := oracle(v, candidate)
		if err != nil {
			return Result{}, err
		}
		if ok {
			current = candidate
		} else {
			witnesses = append(witnesses, v)
		}
	}

	return Result{
		ControlReproducible: true,
		FullyReproducible:   false,
		Witnesses:           witnesses,
	}, nil
}

// copyFieldsInto copies name's field edits from src onto dst, since
// SetEnabled alone resets a fresh entry with no field configuration.
func copyFieldsInto(dst, src *varspec.Spec, name string) {
	se := src.Entry(name)
	if se == nil {
		return
	}
	for field, edits := range se.Fields {
		for _, e := range edits {
			dst.EditField(name, field, e.Op, e.Value)
		}
	}
}
