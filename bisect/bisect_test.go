package bisect

import (
	"testing"

	"reprotest/varspec"
)

var allNames = []string{"a", "b", "c"}

func TestRunControlUnreproducibleShortCircuits(t *testing.T) {
	full, err := varspec.Parse("+all", allNames)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := Run(allNames, full, func(name string, spec *varspec.Spec) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ControlReproducible {
		t.Error("expected ControlReproducible = false")
	}
}

func TestRunFullyReproducibleShortCircuits(t *testing.T) {
	full, err := varspec.Parse("+all", allNames)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := Run(allNames, full, func(name string, spec *varspec.Spec) (bool, error) {
		return true, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.FullyReproducible {
		t.Error("expected FullyReproducible = true")
	}
	if len(res.Witnesses) != 0 {
		t.Errorf("Witnesses = %v, want none", res.Witnesses)
	}
}

func TestRunIsolatesSingleWitness(t *testing.T) {
	full, err := varspec.Parse("+all", allNames)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	res, err := Run(allNames, full, func(name string, spec *varspec.Spec) (bool, error) {
		switch name {
		case "control":
			return true, nil
		case "full":
			return false, nil
		default:
			// Only "b" breaks reproducibility on its own.
			return !spec.Enabled("b"), nil
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FullyReproducible {
		t.Fatal("expected FullyReproducible = false")
	}
	if len(res.Witnesses) != 1 || res.Witnesses[0] != "b" {
		t.Errorf("Witnesses = %v, want [b]", res.Witnesses)
	}
}
