package proposal

import (
	"fmt"
	"path/filepath"
	"strings"
)

// importSwaps maps blocking modules to their async replacements.
var importSwaps = map[string]string{
	"requests": "aiohttp",
	"urllib":   "aiohttp",
}

// injectableImports maps unambiguous usage prefixes to the standard module
// that provides them.
var injectableImports = map[string]string{
	"json.":    "json",
	"re.":      "re",
	"os.":      "os",
	"asyncio.": "asyncio",
	"math.":    "math",
}

// AutoFix applies the rule-based repairs to a proposal in place and returns
// a description of each change. It never makes a proposal worse: rules fire
// only on their exact trigger.
func AutoFix(p *Proposal) []string {
	var applied []string

	kept := p.Files[:0]
	for _, f := range p.Files {
		if f.Action != ActionDelete && strings.TrimSpace(f.Code) == "" {
			applied = append(applied, fmt.Sprintf("dropped empty file %s", f.Path))
			continue
		}
		if filepath.Ext(f.Path) == ".py" {
			code, notes := fixPython(f.Path, f.Code)
			f.Code = code
			applied = append(applied, notes...)
		}
		kept = append(kept, f)
	}
	p.Files = kept
	return applied
}

func fixPython(path, code string) (string, []string) {
	var notes []string

	// Swap blocking modules for their async variants when the file has
	// async functions.
	if strings.Contains(code, "async def") {
		for blocking, replacement := range importSwaps {
			if !strings.Contains(code, "import "+blocking) {
				continue
			}
			code = strings.ReplaceAll(code, "import "+blocking, "import "+replacement)
			code = strings.ReplaceAll(code, blocking+".", replacement+".")
			notes = append(notes, fmt.Sprintf("%s: swapped blocking module %s for %s", path, blocking, replacement))
		}
		if strings.Contains(code, "time.sleep(") {
			code = strings.ReplaceAll(code, "time.sleep(", "await asyncio.sleep(")
			notes = append(notes, fmt.Sprintf("%s: replaced time.sleep with asyncio.sleep", path))
		}
	}

	// Inject missing standard imports for unambiguous usages.
	for usage, module := range injectableImports {
		if strings.Contains(code, usage) && !hasImport(code, module) {
			code = "import " + module + "\n" + code
			notes = append(notes, fmt.Sprintf("%s: injected missing import %s", path, module))
		}
	}
	return code, notes
}

func hasImport(code, module string) bool {
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "import "+module || strings.HasPrefix(line, "import "+module+" ") ||
			strings.HasPrefix(line, "from "+module+" ") {
			return true
		}
	}
	return false
}
