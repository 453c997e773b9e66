package packages

import (
	"sort"

	"github.com/GriffinCanCode/notebookd/internal/protocol"
)

// Manager is a Python package manager command line.
type Manager struct {
	Name    string
	install []string
}

var managers = map[string]Manager{
	"pip":    {Name: "pip", install: []string{"pip", "install"}},
	"uv":     {Name: "uv", install: []string{"uv", "pip", "install"}},
	"rye":    {Name: "rye", install: []string{"rye", "add"}},
	"poetry": {Name: "poetry", install: []string{"poetry", "add", "--no-interaction"}},
	"pixi":   {Name: "pixi", install: []string{"pixi", "add"}},
}

// ManagerFor returns the named manager. Unknown names are a ProtocolError.
func ManagerFor(name string) (Manager, error) {
	m, ok := managers[name]
	if !ok {
		return Manager{}, protocol.Protocolf("unknown package manager %q (want one of %v)", name, ManagerNames())
	}
	return m, nil
}

// ManagerNames lists the supported managers.
func ManagerNames() []string {
	names := make([]string, 0, len(managers))
	for n := range managers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InstallCommand returns the argv that installs pkg.
func (m Manager) InstallCommand(pkg string) []string {
	return append(append([]string(nil), m.install...), pkg)
}
