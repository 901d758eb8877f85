package arbiter

import (
	"strings"

	"github.com/user/activitytracker/internal/types"
)

// Productivity classifies sessions from configured program, domain and
// browser lists. Matching is case-insensitive; programs and browsers match
// the process name or the exe file name, domains match exactly or as a
// parent domain.
type Productivity struct {
	programs map[string]bool
	browsers map[string]bool
	domains  []string
}

func NewProductivity(programs, domains, browsers []string) *Productivity {
	p := &Productivity{
		programs: make(map[string]bool, len(programs)),
		browsers: make(map[string]bool, len(browsers)),
	}
	for _, name := range programs {
		p.programs[normalizeProcess(name)] = true
	}
	for _, name := range browsers {
		p.browsers[normalizeProcess(name)] = true
	}
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d != "" {
			p.domains = append(p.domains, d)
		}
	}
	return p
}

func normalizeProcess(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".exe")
}

func matchesProcess(set map[string]bool, processName, exePath string) bool {
	return set[normalizeProcess(processName)] || (exePath != "" && set[normalizeProcess(exePath)])
}

// IsBrowser reports whether w is a browser window whose sessions are
// attributed to the active tab.
func (p *Productivity) IsBrowser(w types.WindowInfo) bool {
	return matchesProcess(p.browsers, w.ProcessName, w.ExePath)
}

// Classify decides whether s counts as productive. Videos never do.
func (p *Productivity) Classify(s *types.Session) bool {
	switch s.Kind {
	case types.KindProgram:
		return matchesProcess(p.programs, s.Program.ProcessName, s.Program.ExePath)
	case types.KindChrome:
		domain := strings.ToLower(s.Chrome.Domain)
		for _, d := range p.domains {
			if domain == d || strings.HasSuffix(domain, "."+d) {
				return true
			}
		}
	}
	return false
}
