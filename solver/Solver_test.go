package solver

import (
	"encoding/json"
	"testing"
)

func TestSolverJSONRoundTrip(t *testing.T) {
	adam, err := NewAdam(7e-4, 1e-5, 0.9, 0.999, 1)
	if err != nil {
		t.Fatal(err)
	}
	rmsProp, err := NewRMSProp(7e-4, 1e-5, 0.001, 0.99, 1, -1.0)
	if err != nil {
		t.Fatal(err)
	}
	vanilla, err := NewVanilla(0.25, 1, -1.0)
	if err != nil {
		t.Fatal(err)
	}

	for name, sol := range map[string]*Solver{
		"Adam":    adam,
		"RMSProp": rmsProp,
		"Vanilla": vanilla,
	} {
		encoded, err := json.Marshal(sol)
		if err != nil {
			t.Fatalf("%v: could not marshal solver: %v", name, err)
		}

		var decoded Solver
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			t.Fatalf("%v: could not unmarshal solver: %v", name, err)
		}

		if decoded.Type != sol.Type {
			t.Errorf("%v: decoded type \n\twant(%v)\n\thave(%v)", name,
				sol.Type, decoded.Type)
		}
		if decoded.Solver == nil {
			t.Errorf("%v: decoding did not create the wrapped solver", name)
		}

		// A second marshal must reproduce the configuration exactly
		reEncoded, err := json.Marshal(&decoded)
		if err != nil {
			t.Fatalf("%v: could not marshal decoded solver: %v", name, err)
		}
		if string(reEncoded) != string(encoded) {
			t.Errorf("%v: configuration changed across the round trip "+
				"\n\twant(%v)\n\thave(%v)", name, string(encoded),
				string(reEncoded))
		}
	}
}

func TestSolverUnmarshalRejectsUnknownType(t *testing.T) {
	var decoded Solver
	data := []byte(`{"Type": "Momentum", "Config": {"StepSize": 0.1}}`)
	if err := json.Unmarshal(data, &decoded); err == nil {
		t.Error("accepted a solver type that does not exist")
	}
}
