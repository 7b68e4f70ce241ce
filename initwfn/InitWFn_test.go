package initwfn

import (
	"encoding/json"
	"testing"
)

func TestInitWFnJSONRoundTrip(t *testing.T) {
	glorotU, err := NewGlorotU(1.5)
	if err != nil {
		t.Fatal(err)
	}
	heN, err := NewHeN(1.0)
	if err != nil {
		t.Fatal(err)
	}
	gaussian, err := NewGaussian(0.1, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	uniform, err := NewUniform(-1.0, 1.0)
	if err != nil {
		t.Fatal(err)
	}
	constant, err := NewConstant(0.5)
	if err != nil {
		t.Fatal(err)
	}
	zeroes, err := NewZeroes()
	if err != nil {
		t.Fatal(err)
	}

	for name, init := range map[string]*InitWFn{
		"GlorotU":  glorotU,
		"HeN":      heN,
		"Gaussian": gaussian,
		"Uniform":  uniform,
		"Constant": constant,
		"Zeroes":   zeroes,
	} {
		encoded, err := json.Marshal(init)
		if err != nil {
			t.Fatalf("%v: could not marshal initializer: %v", name, err)
		}

		var decoded InitWFn
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			t.Fatalf("%v: could not unmarshal initializer: %v", name, err)
		}

		if decoded.Type != init.Type {
			t.Errorf("%v: decoded type \n\twant(%v)\n\thave(%v)", name,
				init.Type, decoded.Type)
		}
		if decoded.InitWFn() == nil {
			t.Errorf("%v: decoding did not create the wrapped InitWFn",
				name)
		}

		// A second marshal must reproduce the configuration exactly
		reEncoded, err := json.Marshal(&decoded)
		if err != nil {
			t.Fatalf("%v: could not marshal decoded initializer: %v", name,
				err)
		}
		if string(reEncoded) != string(encoded) {
			t.Errorf("%v: configuration changed across the round trip "+
				"\n\twant(%v)\n\thave(%v)", name, string(encoded),
				string(reEncoded))
		}
	}
}
