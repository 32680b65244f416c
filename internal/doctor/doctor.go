package doctor

import (
	"fmt"
	"sort"

	"github.com/tunneld/tunneld/internal/appconfig"
	"github.com/tunneld/tunneld/internal/model"
	"github.com/tunneld/tunneld/internal/security"
	"github.com/tunneld/tunneld/internal/sshclient"
	"github.com/tunneld/tunneld/internal/util"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Run executes local preflight diagnostics against the given configuration:
// everything that would make `tunneld start` fail or misbehave is surfaced
// here before any process is spawned.
func Run(cfg appconfig.Config) (Report, error) {
	var issues []Issue

	if err := sshclient.EnsureSSHBinary(); err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "ssh-binary",
			Target:         "PATH",
			Message:        err.Error(),
			Recommendation: "install OpenSSH client and ensure `ssh` is on PATH",
		})
	}

	specs, err := cfg.Specs()
	if err != nil {
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "forward-spec",
			Target:         "config.yaml",
			Message:        err.Error(),
			Recommendation: "fix the forwards list; format is [bindAddr:]localPort:remoteHost:remotePort",
		})
	} else {
		issues = append(issues, duplicateBindIssues(specs)...)
		issues = append(issues, privilegedPortIssues(specs)...)
	}

	if audit, err := security.RunLocalAudit(cfg); err == nil {
		for _, f := range audit.Findings {
			sev := SeverityLow
			if f.Severity == security.SeverityMedium {
				sev = SeverityMedium
			}
			if f.Severity == security.SeverityHigh {
				sev = SeverityHigh
			}
			issues = append(issues, Issue{
				Severity:       sev,
				Check:          "security-audit",
				Target:         f.Target,
				Message:        f.Message,
				Recommendation: f.Recommendation,
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}, nil
}

func duplicateBindIssues(specs []model.ForwardingSpec) []Issue {
	seen := map[string]int{}
	for _, spec := range specs {
		seen[spec.BindEndpoint()]++
	}
	var issues []Issue
	for bind, n := range seen {
		if n < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "duplicate-local-bind",
			Target:         bind,
			Message:        fmt.Sprintf("local bind is configured by %d forwards", n),
			Recommendation: "use unique local ports per forward; duplicate bindings cannot both succeed",
		})
	}
	return issues
}

func privilegedPortIssues(specs []model.ForwardingSpec) []Issue {
	var issues []Issue
	for i, spec := range specs {
		if spec.Mode == model.ForwardLocal && util.PrivilegedPort(spec.LocalPort) {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "privileged-port",
				Target:         spec.BindEndpoint(),
				Message:        fmt.Sprintf("forward %d binds a privileged port", i),
				Recommendation: "use a port >= 1024 or run with the capability to bind low ports",
			})
		}
	}
	return issues
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
