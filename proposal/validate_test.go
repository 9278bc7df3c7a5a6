package proposal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validateOne(t *testing.T, manifest Manifest, f FileChange) []Issue {
	t.Helper()
	v := NewValidator(manifest)
	return v.Validate(context.Background(), &Proposal{Files: []FileChange{f}})
}

func TestValidate_PathDiscipline(t *testing.T) {
	tests := []struct {
		name string
		path string
		ok   bool
	}{
		{name: "relative path", path: "svc/cache.py", ok: true},
		{name: "traversal", path: "../etc/passwd.py", ok: false},
		{name: "absolute", path: "/etc/passwd.py", ok: false},
		{name: "embedded traversal", path: "svc/../../escape.py", ok: false},
		{name: "empty", path: "", ok: false},
		{name: "disallowed extension", path: "svc/tool.sh", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := validateOne(t, Manifest{}, FileChange{
				Path:   tt.path,
				Action: ActionCreate,
				Code:   "x = 1\n",
			})
			if tt.ok {
				assert.Empty(t, issues)
			} else {
				assert.NotEmpty(t, issues)
			}
		})
	}
}

func TestValidate_EmptyFile(t *testing.T) {
	issues := validateOne(t, Manifest{}, FileChange{Path: "a.py", Action: ActionCreate, Code: "   \n"})
	require.Len(t, issues, 1)
	assert.Equal(t, "non-empty", issues[0].Rule)
}

func TestValidate_DeleteSkipsContentChecks(t *testing.T) {
	issues := validateOne(t, Manifest{}, FileChange{Path: "a.py", Action: ActionDelete})
	assert.Empty(t, issues)
}

func TestValidate_PythonSyntax(t *testing.T) {
	issues := validateOne(t, Manifest{}, FileChange{
		Path:   "a.py",
		Action: ActionCreate,
		Code:   "def broken(:\n  pass\n",
	})
	require.NotEmpty(t, issues)
	assert.Equal(t, FailSyntax, issues[0].Category)
}

func TestValidate_GoSyntax(t *testing.T) {
	good := FileChange{Path: "a.go", Action: ActionCreate, Code: "package a\n\nfunc F() int { return 1 }\n"}
	assert.Empty(t, validateOne(t, Manifest{}, good))

	bad := FileChange{Path: "a.go", Action: ActionCreate, Code: "package a\n\nfunc F() int {\n"}
	issues := validateOne(t, Manifest{}, bad)
	require.NotEmpty(t, issues)
	assert.Equal(t, FailSyntax, issues[0].Category)
}

func TestValidate_ImportResolution(t *testing.T) {
	code := "import os\nimport numpy\nfrom mylib import thing\n"

	issues := validateOne(t, Manifest{}, FileChange{Path: "a.py", Action: ActionCreate, Code: code})
	// os resolves as stdlib, numpy and mylib do not.
	require.Len(t, issues, 2)
	for _, issue := range issues {
		assert.Equal(t, FailImport, issue.Category)
	}

	declared := Manifest{Packages: map[string]bool{"numpy": true, "mylib": true}}
	assert.Empty(t, validateOne(t, declared, FileChange{Path: "a.py", Action: ActionCreate, Code: code}))
}

func TestValidate_AsyncDiscipline(t *testing.T) {
	blocking := `import requests

async def fetch(url):
    return requests.get(url)
`
	issues := validateOne(t, Manifest{Packages: map[string]bool{"requests": true}}, FileChange{
		Path: "a.py", Action: ActionCreate, Code: blocking,
	})
	require.NotEmpty(t, issues)
	assert.Equal(t, "async-discipline", issues[0].Rule)
	assert.Equal(t, FailImport, issues[0].Category)

	// The same call outside an async region is fine.
	sync := `import requests

def fetch(url):
    return requests.get(url)
`
	assert.Empty(t, validateOne(t, Manifest{Packages: map[string]bool{"requests": true}}, FileChange{
		Path: "a.py", Action: ActionCreate, Code: sync,
	}))
}

func TestAutoFix_DropsEmptyFiles(t *testing.T) {
	p := &Proposal{Files: []FileChange{
		{Path: "keep.py", Action: ActionCreate, Code: "x = 1\n"},
		{Path: "empty.py", Action: ActionCreate, Code: ""},
	}}
	notes := AutoFix(p)
	require.Len(t, p.Files, 1)
	assert.Equal(t, "keep.py", p.Files[0].Path)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "empty.py")
}

func TestAutoFix_SwapsBlockingModule(t *testing.T) {
	p := &Proposal{Files: []FileChange{{
		Path:   "svc/fetch.py",
		Action: ActionModify,
		Code:   "import requests\n\nasync def fetch(url):\n    return requests.get(url)\n",
	}}}
	notes := AutoFix(p)
	require.NotEmpty(t, notes)
	assert.Contains(t, p.Files[0].Code, "import aiohttp")
	assert.Contains(t, p.Files[0].Code, "aiohttp.get")
	assert.NotContains(t, p.Files[0].Code, "requests.")
}

func TestAutoFix_ReplacesTimeSleep(t *testing.T) {
	p := &Proposal{Files: []FileChange{{
		Path:   "svc/wait.py",
		Action: ActionModify,
		Code:   "import time\n\nasync def wait():\n    time.sleep(1)\n",
	}}}
	AutoFix(p)
	assert.Contains(t, p.Files[0].Code, "await asyncio.sleep(1)")
	assert.Contains(t, p.Files[0].Code, "import asyncio")
}

func TestAutoFix_InjectsMissingImport(t *testing.T) {
	p := &Proposal{Files: []FileChange{{
		Path:   "svc/enc.py",
		Action: ActionCreate,
		Code:   "def dump(v):\n    return json.dumps(v)\n",
	}}}
	notes := AutoFix(p)
	require.NotEmpty(t, notes)
	assert.Contains(t, p.Files[0].Code, "import json")
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		output string
		want   FailureCategory
	}{
		{output: "ModuleNotFoundError: No module named 'ghost'", want: FailImport},
		{output: "ImportError: cannot import name", want: FailImport},
		{output: "main.go:4: cannot find package", want: FailImport},
		{output: "SyntaxError: invalid syntax", want: FailSyntax},
		{output: "IndentationError: unexpected indent", want: FailIndentation},
		{output: "NameError: name 'x' is not defined", want: FailUndefined},
		{output: "./svc.go:10: undefined: helper", want: FailUndefined},
		{output: "TypeError: unsupported operand", want: FailType},
		{output: "AttributeError: 'NoneType' object has no attribute", want: FailAttribute},
		{output: "FileNotFoundError: [Errno 2]", want: FailFileMissing},
		{output: "open failed: no such file or directory", want: FailFileMissing},
		{output: "assertion failed, wanted 4 got 5", want: FailUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.output), tt.output)
	}
}

func TestCategorize_FirstErrorWins(t *testing.T) {
	output := "SyntaxError: bad\nlater: TypeError: also bad"
	assert.Equal(t, FailSyntax, Categorize(output))
}
