// Permission checking adapts the teacher's structural-validator idiom
// (Chartly2.0/pkg/profiles/validator.go: options, a structured Report
// of Issues, severities) into a capability-tree check over command
// codes rather than document structure.
package command

import (
	"fmt"
	"time"
)

// ProfileName is a control-tier as returned by the account/profile
// endpoint (spec.md §4.9 step 1).
type ProfileName string

const (
	ProfileBasicControl   ProfileName = "Basic control"
	ProfilePremiumControl ProfileName = "Premium control"
)

// PermSeverity mirrors the teacher validator's three-level severity
// scheme.
type PermSeverity string

const (
	PermInfo PermSeverity = "info"
	PermWarn PermSeverity = "warn"
	PermDeny PermSeverity = "deny"
)

// PermIssue is one finding from a permission check, in the same
// code+path+message shape the teacher's validator issue type uses for
// structural validation.
type PermIssue struct {
	Severity PermSeverity
	Code     string
	Path     string
	Message  string
}

// PermReport is the result of checking one command code against one
// account's profile, mirroring the teacher validator's
// generated-at/issues/HasErrors report shape.
type PermReport struct {
	GeneratedAt time.Time
	Profile     ProfileName
	VIN         string
	CommandCode Code
	Issues      []PermIssue
}

// Denied reports whether any issue in the report is a deny-severity
// finding.
func (r PermReport) Denied() bool {
	for _, it := range r.Issues {
		if it.Severity == PermDeny {
			return true
		}
	}
	return false
}

func (r *PermReport) deny(code, message string) {
	r.Issues = append(r.Issues, PermIssue{Severity: PermDeny, Code: code, Path: string(r.CommandCode), Message: message})
}

// PermOptions bounds and tunes the permission checker, the same role
// the teacher validator's options type plays for structural
// validation: defaults apply unless a field is set explicitly.
type PermOptions struct {
	// Grants, if non-nil, is an explicit per-VIN allow/deny list that
	// overrides the profile-tier defaults below. A VIN absent from
	// Grants falls through to the tier rules.
	Grants map[string]map[Code]bool
}

// Checker walks an account's capability tree (profile tier, plus any
// explicit per-VIN grants) to decide whether a command code is
// permitted, the same shape the teacher's validator walks a document
// tree to decide whether its structure is sound.
type Checker struct {
	opts PermOptions
}

// NewChecker builds a Checker. A zero PermOptions is valid: every
// decision then falls back to the profile-tier defaults.
func NewChecker(opts PermOptions) *Checker {
	return &Checker{opts: opts}
}

// Check decides whether profile may issue code against vin, returning
// a PermReport. An empty Issues slice means the command is permitted.
func (c *Checker) Check(profile ProfileName, vin string, code Code) PermReport {
	r := PermReport{GeneratedAt: time.Now().UTC(), Profile: profile, VIN: vin, CommandCode: code}

	if _, known := wireCommandType[code]; !known {
		r.deny("command.unknown", fmt.Sprintf("unrecognized command code %q", code))
		return r
	}

	if grants, ok := c.opts.Grants[vin]; ok {
		if allowed, explicit := grants[code]; explicit {
			if !allowed {
				r.deny("command.not_granted", fmt.Sprintf("command code %q is not granted for vin %q", code, vin))
			}
			return r
		}
	}

	// Empirical rule (spec.md §7): BATTERY_HEAT returns
	// EndpointNotSupported under "Basic control" even though nothing in
	// the documented capability tree says so.
	if code == BatteryHeat && profile == ProfileBasicControl {
		r.deny("command.endpoint_not_supported", "BATTERY_HEAT is not available under Basic control")
	}

	if profile != ProfileBasicControl && profile != ProfilePremiumControl {
		r.Issues = append(r.Issues, PermIssue{
			Severity: PermWarn, Code: "profile.unrecognized", Path: string(code),
			Message: fmt.Sprintf("unrecognized profile tier %q, defaulting to permissive", profile),
		})
	}

	return r
}
