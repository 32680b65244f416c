package security

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tunneld/tunneld/internal/appconfig"
	"github.com/tunneld/tunneld/internal/util"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// RunLocalAudit inspects tunneld file posture and the configured tunnel set
// for risky defaults: world-readable key material and forwards bound to
// non-loopback interfaces.
func RunLocalAudit(cfg appconfig.Config) (AuditReport, error) {
	var findings []Finding

	specs, err := cfg.Specs()
	if err == nil {
		for i, spec := range specs {
			bind := util.NormalizeAddr(spec.BindAddr, "127.0.0.1")
			if publicBind(bind) {
				findings = append(findings, Finding{
					Severity:       SeverityMedium,
					Target:         spec.BindEndpoint(),
					Message:        fmt.Sprintf("forward %d binds a non-loopback interface", i),
					Recommendation: "bind tunnels to 127.0.0.1 unless external access is intended",
				})
			}
		}
	}

	if key := strings.TrimSpace(cfg.Remote.IdentityFile); key != "" {
		checkPathPerm(&findings, expandHome(key), 0o600, true)
	}

	home, err := os.UserHomeDir()
	if err == nil {
		checkPathPerm(&findings, filepath.Join(home, ".ssh"), 0o700, false)
	}

	if cfgDir, err := appconfig.ConfigDir(); err == nil {
		checkPathPerm(&findings, cfgDir, 0o700, false)
		checkPathPerm(&findings, filepath.Join(cfgDir, "config.yaml"), 0o600, true)
		checkPathPerm(&findings, filepath.Join(cfgDir, "events.jsonl"), 0o600, true)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}, nil
}

func publicBind(addr string) bool {
	if addr == "localhost" {
		return false
	}
	if ip := net.ParseIP(strings.Trim(addr, "[]")); ip != nil {
		return !ip.IsLoopback()
	}
	// Unresolvable names are treated as public so the finding errs loud.
	return true
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityLow,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode > max {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityMedium,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
