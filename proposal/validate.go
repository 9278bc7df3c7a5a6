package proposal

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// allowedPatterns is the path allow-list. A file must match at least one.
var allowedPatterns = []string{
	"**/*.py",
	"**/*.go",
	"**/*.md",
	"**/*.txt",
	"**/*.json",
	"**/*.yaml",
	"**/*.yml",
	"**/*.toml",
}

// pythonStdlib is the subset of standard modules the resolver recognizes
// without a manifest entry.
var pythonStdlib = map[string]bool{
	"abc": true, "asyncio": true, "collections": true, "dataclasses": true,
	"datetime": true, "enum": true, "functools": true, "hashlib": true,
	"itertools": true, "json": true, "logging": true, "math": true,
	"os": true, "pathlib": true, "random": true, "re": true, "socket": true,
	"sys": true, "time": true, "typing": true, "unittest": true, "uuid": true,
}

// Manifest declares the third-party packages a proposal may import.
type Manifest struct {
	// Packages maps importable package names to true.
	Packages map[string]bool
}

// DefaultManifest covers the packages worker-authored changes commonly
// import. Operators extend it per deployment.
func DefaultManifest() Manifest {
	return Manifest{Packages: map[string]bool{
		"aiohttp":  true,
		"asyncpg":  true,
		"numpy":    true,
		"pandas":   true,
		"psycopg2": true,
		"pydantic": true,
		"redis":    true,
		"requests": true,
	}}
}

// Resolves reports whether an import is satisfied: standard library,
// declared in the manifest, or relative.
func (m Manifest) Resolves(module string) bool {
	root := module
	if idx := strings.IndexByte(module, '.'); idx > 0 {
		root = module[:idx]
	}
	if strings.HasPrefix(module, ".") {
		return true
	}
	return pythonStdlib[root] || m.Packages[root]
}

// Issue is one validation finding.
type Issue struct {
	Path     string          `json:"path"`
	Rule     string          `json:"rule"`
	Category FailureCategory `json:"category"`
	Message  string          `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Path, i.Rule, i.Message)
}

// Validator checks proposal file changes: path discipline, parseability,
// import resolution, and the async blocking-call rule.
type Validator struct {
	manifest Manifest
}

// NewValidator creates a validator over the declared package manifest.
func NewValidator(manifest Manifest) *Validator {
	if manifest.Packages == nil {
		manifest.Packages = map[string]bool{}
	}
	return &Validator{manifest: manifest}
}

// Validate checks every file in the proposal and returns all findings.
// An empty slice means the proposal is valid.
func (v *Validator) Validate(ctx context.Context, p *Proposal) []Issue {
	var issues []Issue
	for _, f := range p.Files {
		issues = append(issues, v.validateFile(ctx, f)...)
	}
	return issues
}

func (v *Validator) validateFile(ctx context.Context, f FileChange) []Issue {
	if bad := checkPath(f.Path); bad != nil {
		return []Issue{*bad}
	}
	if f.Action == ActionDelete {
		return nil
	}
	if strings.TrimSpace(f.Code) == "" {
		return []Issue{{
			Path:     f.Path,
			Rule:     "non-empty",
			Category: FailUnknown,
			Message:  "file content is empty",
		}}
	}

	switch filepath.Ext(f.Path) {
	case ".py":
		return v.validatePython(ctx, f)
	case ".go":
		return v.validateGo(f)
	}
	return nil
}

// checkPath enforces project-relative paths inside the allow-list.
func checkPath(path string) *Issue {
	if path == "" || !filepath.IsLocal(path) {
		return &Issue{
			Path:     path,
			Rule:     "path",
			Category: FailFileMissing,
			Message:  "path must be project-relative without traversal",
		}
	}
	for _, pat := range allowedPatterns {
		if ok, _ := doublestar.Match(pat, filepath.ToSlash(path)); ok {
			return nil
		}
	}
	return &Issue{
		Path:     path,
		Rule:     "extension",
		Category: FailFileMissing,
		Message:  "file extension not in allow-list",
	}
}

func (v *Validator) validateGo(f FileChange) []Issue {
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, f.Path, f.Code, parser.AllErrors); err != nil {
		return []Issue{{
			Path:     f.Path,
			Rule:     "parse",
			Category: FailSyntax,
			Message:  err.Error(),
		}}
	}
	return nil
}

func (v *Validator) validatePython(ctx context.Context, f FileChange) []Issue {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())

	content := []byte(f.Code)
	tree, err := p.ParseCtx(ctx, nil, content)
	if err != nil {
		return []Issue{{Path: f.Path, Rule: "parse", Category: FailSyntax, Message: err.Error()}}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return []Issue{{
			Path:     f.Path,
			Rule:     "parse",
			Category: FailSyntax,
			Message:  "syntax error",
		}}
	}

	var issues []Issue
	for _, module := range pythonImports(root, content) {
		if !v.manifest.Resolves(module) {
			issues = append(issues, Issue{
				Path:     f.Path,
				Rule:     "imports",
				Category: FailImport,
				Message:  fmt.Sprintf("import %q does not resolve against the package manifest", module),
			})
		}
	}
	issues = append(issues, checkAsyncDiscipline(f.Path, root, content)...)
	return issues
}

// pythonImports extracts imported module names from the AST.
func pythonImports(root *sitter.Node, content []byte) []string {
	var modules []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "import_statement":
			for j := 0; j < int(node.NamedChildCount()); j++ {
				child := node.NamedChild(j)
				if child.Type() == "dotted_name" || child.Type() == "aliased_import" {
					name := string(content[child.StartByte():child.EndByte()])
					if idx := strings.Index(name, " as "); idx != -1 {
						name = name[:idx]
					}
					modules = append(modules, name)
				}
			}
		case "import_from_statement":
			if module := node.ChildByFieldName("module_name"); module != nil {
				modules = append(modules, string(content[module.StartByte():module.EndByte()]))
			}
		}
	}
	return modules
}

// blockingCalls are synchronous calls that must not appear inside an async
// function body. The value is the well-known async replacement used by the
// auto-fixer.
var blockingCalls = map[string]string{
	"requests.":   "aiohttp.",
	"time.sleep(": "await asyncio.sleep(",
	"urllib.":     "aiohttp.",
	"psycopg2.":   "asyncpg.",
}

// checkAsyncDiscipline flags blocking calls inside async function bodies.
func checkAsyncDiscipline(path string, root *sitter.Node, content []byte) []Issue {
	var issues []Issue
	walk(root, func(node *sitter.Node) {
		if node.Type() != "function_definition" {
			return
		}
		// Async defs start with the async keyword token.
		text := string(content[node.StartByte():node.EndByte()])
		if !strings.HasPrefix(text, "async ") {
			return
		}
		for call := range blockingCalls {
			if strings.Contains(text, call) {
				issues = append(issues, Issue{
					Path:     path,
					Rule:     "async-discipline",
					Category: FailImport,
					Message:  fmt.Sprintf("blocking call %q inside async function", strings.TrimSuffix(call, "(")),
				})
			}
		}
	})
	return issues
}

func walk(node *sitter.Node, fn func(*sitter.Node)) {
	fn(node)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walk(node.NamedChild(i), fn)
	}
}
