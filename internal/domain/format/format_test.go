package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSpacing(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"assignment", "a=1", "a = 1"},
		{"augmented", "x+=1", "x += 1"},
		{"comparison", "if a==b:\n    pass", "if a == b:\n    pass"},
		{"arithmetic", "y=a*b+c/d-e", "y = a * b + c / d - e"},
		{"unary minus", "x=-1", "x = -1"},
		{"unary in call", "f( -1 , +2 )", "f(-1, +2)"},
		{"keyword argument", "print(a , end = '')", "print(a, end='')"},
		{"annotated default", "def f(a:int=1,b=2)->int:\n    return a", "def f(a: int = 1, b=2) -> int:\n    return a"},
		{"dict", "d={'a':1,'b':[1,2]}", "d = {'a': 1, 'b': [1, 2]}"},
		{"slice", "x = a[1 : 2]", "x = a[1:2]"},
		{"negative slice", "x = a[: -1]", "x = a[:-1]"},
		{"star args", "f(* args, ** kwargs)", "f(*args, **kwargs)"},
		{"call and subscript", "print (x) [0]", "print(x)[0]"},
		{"keyword before paren", "if(a and b):\n    x=1", "if (a and b):\n    x = 1"},
		{"decorator", "@app.cell\ndef _():\n    return", "@app.cell\ndef _():\n    return"},
		{"matmul", "c=a@b", "c = a @ b"},
		{"relative import", "from . import x\nfrom .mod import y", "from . import x\nfrom .mod import y"},
		{"star import", "from os import *", "from os import *"},
		{"lambda", "f=lambda x:x+1", "f = lambda x: x + 1"},
		{"walrus", "if (n:=len(a))>10:\n    pass", "if (n := len(a)) > 10:\n    pass"},
		{"boolean operators", "x = a  and not  b or c", "x = a and not b or c"},
		{"return unary", "return -x", "return -x"},
		{"inline comment", "x=1 # note", "x = 1  # note"},
		{"comment only", "   # just a comment   ", "   # just a comment"},
		{"trailing whitespace", "x = 1   \ny = 2\t", "x = 1\ny = 2"},
		{"trailing blank lines", "x = 1\n\n\n", "x = 1"},
		{"blank line runs", "x = 1\n\n\n\n\ny = 2", "x = 1\n\n\ny = 2"},
		{"string untouched", "s='a=1 , b'", "s = 'a=1 , b'"},
		{"string prefix", "s=rb'\\d'+f\"{x}\"", "s = rb'\\d' + f\"{x}\""},
		{"joined brackets", "x = foo(a,\n        b)", "x = foo(a, b)"},
		{"single element tuple", "t=(1,)", "t = (1,)"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.in, 79)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatExplodesLongLines(t *testing.T) {
	in := "result = compute(first_argument, second_argument, third_argument)"
	got, err := Format(in, 40)
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"result = compute(",
		"    first_argument,",
		"    second_argument,",
		"    third_argument,",
		")",
	}, "\n"), got)
}

func TestFormatKeepsMagicTrailingComma(t *testing.T) {
	got, err := Format("x = [1, 2,]", 79)
	require.NoError(t, err)
	assert.Equal(t, "x = [\n    1,\n    2,\n]", got)
}

func TestFormatExplodedKeepsIndentAndComment(t *testing.T) {
	in := "def _():\n    value = call(alpha, beta)  # keep"
	got, err := Format(in, 20)
	require.NoError(t, err)
	assert.Equal(t, "def _():\n    value = call(\n        alpha,\n        beta,\n    )  # keep", got)
}

func TestFormatLeavesLinesWithoutGroups(t *testing.T) {
	in := "x = aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa + bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	got, err := Format(in, 20)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestFormatVerbatimWithInnerComments(t *testing.T) {
	in := "x = [  \n    1,  # one\n    2,\n]"
	got, err := Format(in, 79)
	require.NoError(t, err)
	assert.Equal(t, "x = [\n    1,  # one\n    2,\n]", got)
}

func TestFormatPreservesMultilineStrings(t *testing.T) {
	in := "doc = \"\"\"line one   \n\n\n\n  line two\"\"\"\nx=1"
	got, err := Format(in, 79)
	require.NoError(t, err)
	assert.Equal(t, "doc = \"\"\"line one   \n\n\n\n  line two\"\"\"\nx = 1", got)
}

func TestFormatIsIdempotent(t *testing.T) {
	inputs := []string{
		"a=1",
		"result = compute(first_argument, second_argument, third_argument)",
		"x = [1, 2,]",
		"def f(a:int=1,*args,**kw)->None:\n    return {**kw,'a':a}",
		"x = [  \n    1,  # one\n    2,\n]",
		"doc = '''a\n  b  '''\n\n\n\n\ny = doc.split( )",
		"value = call(alpha, beta)  # keep",
		"@app.cell\ndef _(mo):\n    mo.md(f\"# {title}\")\n    return",
		"x = 1 + \\\n    2",
	}
	for _, in := range inputs {
		for _, width := range []int{20, 79} {
			once, err := Format(in, width)
			require.NoError(t, err, in)
			twice, err := Format(once, width)
			require.NoError(t, err, once)
			assert.Equal(t, once, twice, "input %q width %d", in, width)
		}
	}
}

func TestFormatSyntaxErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		err  error
	}{
		{"unterminated string", "x = 'abc", ErrUnterminated},
		{"unterminated triple string", "x = \"\"\"abc", ErrUnterminated},
		{"string across newline", "x = 'a\nb'", ErrUnterminated},
		{"unclosed bracket", "x = foo(1, 2", ErrImbalanced},
		{"unexpected closer", "x = 1)", ErrImbalanced},
		{"mismatched", "x = [1, 2)", ErrImbalanced},
		{"dangling continuation", "x = 1 + \\", ErrContinuation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Format(tt.in, 79)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)

			var se *SyntaxError
			assert.ErrorAs(t, err, &se)
		})
	}
}

func TestCellsOmitsFailures(t *testing.T) {
	formatted, failed := Cells(map[string]string{
		"c1": "a=1",
		"c2": "b = (",
		"c3": "c = 3",
	}, 0)

	assert.Equal(t, map[string]string{"c1": "a = 1", "c3": "c = 3"}, formatted)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed["c2"], ErrImbalanced)
}
