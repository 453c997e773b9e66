package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	tests := []struct {
		name string
		code string
		defs []string
		refs []string
	}{
		{"assignment", "x = y + 1", []string{"x"}, []string{"y"}},
		{"chained", "a = b = c", []string{"a", "b"}, []string{"c"}},
		{"tuple target", "a, (b, c) = pair", []string{"a", "b", "c"}, []string{"pair"}},
		{"annotated", "n: int = total", []string{"n"}, []string{"int", "total"}},
		{"augmented", "count += step", []string{"count"}, []string{"step"}},
		{"attribute target", "obj.value = 1\nitems[0] = 2", nil, []string{"items", "obj"}},
		{"imports", "import numpy as np\nimport os.path\nfrom a import b, c as d", []string{"d", "b", "np", "os"}, nil},
		{"function", "def f(a, *args, k=1, **kw):\n    return a + g(k)", []string{"f"}, []string{"g"}},
		{"class", "class Model(Base):\n    pass", []string{"Model"}, []string{"Base"}},
		{"for loop", "for i, v in enumerate(data):\n    total = v", []string{"i", "v"}, []string{"data", "enumerate"}},
		{"with", "with open(p) as fh:\n    body = fh.read()", []string{"fh"}, []string{"open", "p"}},
		{"keyword argument", "plot(x, color=c)", nil, []string{"c", "plot", "x"}},
		{"lambda", "f = lambda v: v * scale", []string{"f"}, []string{"scale"}},
		{"comprehension", "ys = [v * 2 for v in xs]", []string{"ys"}, []string{"xs"}},
		{"condition", "if a == b:\n    pass", nil, []string{"a", "b"}},
		{"comment ignored", "# x = 1\ny = 2  # z", []string{"y"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, err := Scan(tt.code)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.defs, names.Defs)
			assert.ElementsMatch(t, tt.refs, names.Refs)
		})
	}
}

func TestScanSyntaxError(t *testing.T) {
	_, err := Scan("x = (")
	assert.ErrorIs(t, err, ErrImbalanced)
}
