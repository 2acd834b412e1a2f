// Package policy implements the authorization rules of spec.md §4.5:
// each operation handler is tagged with one of six policy classes, and
// this package decides whether a given identity satisfies its class.
//
// Grounded on the teacher's internal/server/require_eval.go
// (userAllowedByLimit/userMatchesGroups/hasAdminGroupToken) and auth.go
// (authTypeForRequest/requireAdmin): the teacher matches Apache-style
// Location/Limit rules with RequireUser/RequireGroups/RequireAdmin
// flags read from cupsd.conf; this package keeps the same
// group-membership evaluation shape but drives it from each Printer's
// print-group/proxy-group fields and a single admin-group instead of a
// parsed config file, since CLI/config-file parsing is out of scope
// (spec §1).
package policy

import (
	"os"
	"strings"

	"github.com/thilo-hub/ippsample/internal/model"
)

// Class names one of the six authorization rules from spec §4.5.
type Class int

const (
	// Public allows any request, authenticated or not.
	Public Class = iota
	// AuthenticatedAny requires any authenticated identity.
	AuthenticatedAny
	// PrintGroup requires membership in the target printer's print-group.
	PrintGroup
	// ProxyGroup requires membership in the target printer's proxy-group.
	ProxyGroup
	// AdminGroup requires membership in the server's admin-group.
	AdminGroup
	// OwnerOrAdmin requires the job's owner or an admin-group member.
	OwnerOrAdmin
)

// Identity is the authenticated caller, or the zero value if the
// request carried no credentials.
type Identity struct {
	Username      string
	Authenticated bool
}

// AdminGroupEnv names the environment variable holding the admin group
// name (spec-external; the group-membership primitive itself is out of
// scope per spec §1, so this reads the same CUPS_USER_GROUPS convention
// the teacher's groupsForUser uses).
const AdminGroupEnv = "SERVER_ADMIN_GROUP"

// DefaultAdminGroup is used when SERVER_ADMIN_GROUP is unset.
const DefaultAdminGroup = "lpadmin"

// Decision is Evaluate's verdict on whether an identity satisfies a
// class for a printer (nil for system-level operations) and job owner
// (empty if not a job operation). Missing authentication and wrong
// group are reported separately so the caller can pick HTTP 401 vs 403
// (spec §4.5).
type Decision int

const (
	// Allow means the request may proceed.
	Allow Decision = iota
	// Unauthenticated means credentials are required and absent.
	Unauthenticated
	// Forbidden means the identity does not satisfy the required group.
	Forbidden
)

// Evaluate applies class to id, printer p (may be nil) and job owner.
func Evaluate(class Class, id Identity, p *model.Printer, owner string) Decision {
	switch class {
	case Public:
		return Allow
	case AuthenticatedAny:
		if !id.Authenticated {
			return Unauthenticated
		}
		return Allow
	case PrintGroup:
		if p == nil || p.PrintGroup == "" {
			if !id.Authenticated {
				return Unauthenticated
			}
			return Allow
		}
		if !id.Authenticated {
			return Unauthenticated
		}
		if userInGroup(id.Username, p.PrintGroup) {
			return Allow
		}
		return Forbidden
	case ProxyGroup:
		if !id.Authenticated {
			return Unauthenticated
		}
		group := DefaultAdminGroup
		if p != nil && p.ProxyGroup != "" {
			group = p.ProxyGroup
		}
		if userInGroup(id.Username, group) {
			return Allow
		}
		return Forbidden
	case AdminGroup:
		if !id.Authenticated {
			return Unauthenticated
		}
		if userInGroup(id.Username, adminGroup()) {
			return Allow
		}
		return Forbidden
	case OwnerOrAdmin:
		if !id.Authenticated {
			return Unauthenticated
		}
		if strings.EqualFold(id.Username, owner) {
			return Allow
		}
		if userInGroup(id.Username, adminGroup()) {
			return Allow
		}
		return Forbidden
	}
	return Forbidden
}

func adminGroup() string {
	if g := strings.TrimSpace(os.Getenv(AdminGroupEnv)); g != "" {
		return g
	}
	return DefaultAdminGroup
}

// userInGroup mirrors the teacher's groupsForUser/normalizeGroupToken:
// group membership comes from a semicolon-separated
// "user=group,group;user2=group" list in SERVER_USER_GROUPS, since the
// PAM/group primitive itself is an external collaborator (spec §1).
func userInGroup(username, group string) bool {
	group = normalizeToken(group)
	if group == "" {
		return false
	}
	username = normalizeToken(username)
	if username == "" {
		return false
	}
	env := strings.TrimSpace(os.Getenv("SERVER_USER_GROUPS"))
	if env == "" {
		return false
	}
	for _, entry := range strings.FieldsFunc(env, func(r rune) bool { return r == ';' || r == '\n' }) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if normalizeToken(parts[0]) != username {
			continue
		}
		for _, g := range strings.FieldsFunc(parts[1], func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		}) {
			if normalizeToken(g) == group {
				return true
			}
		}
	}
	return false
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "@")
}

// OperationClass maps each spec §4.4 operation name to its spec §4.5
// authorization class. Names match the dispatcher's operation table.
var OperationClass = map[string]Class{
	"Get-Printer-Attributes":         Public,
	"Get-Printers":                   Public,
	"Get-System-Attributes":          Public,
	"Get-System-Supported-Values":    Public,
	"Get-Printer-Supported-Values":   Public,
	"Validate-Job":                   Public,

	"Print-Job":            AuthenticatedAny,
	"Print-URI":            AuthenticatedAny,
	"Create-Job":           AuthenticatedAny,
	"Send-Document":        AuthenticatedAny,
	"Send-URI":             AuthenticatedAny,
	"Cancel-Job":           OwnerOrAdmin,
	"Cancel-Current-Job":   OwnerOrAdmin,
	"Cancel-My-Jobs":       AuthenticatedAny,
	"Close-Job":            OwnerOrAdmin,
	"Hold-Job":             OwnerOrAdmin,
	"Release-Job":          OwnerOrAdmin,
	"Get-Job-Attributes":   OwnerOrAdmin,
	"Set-Job-Attributes":   OwnerOrAdmin,
	"Get-Jobs":             AuthenticatedAny,
	"Get-Document":         OwnerOrAdmin,
	"Set-Document":         OwnerOrAdmin,
	"Cancel-Document":      OwnerOrAdmin,
	"Validate-Document":    AuthenticatedAny,
	"Identify-Printer":     AuthenticatedAny,
	"Cancel-Subscription":  OwnerOrAdmin,
	"Get-Subscription":     OwnerOrAdmin,
	"Get-Subscriptions":    AuthenticatedAny,
	"Renew-Subscription":   OwnerOrAdmin,
	"Get-Notifications":    OwnerOrAdmin,

	"Create-Printer-Subscriptions": AuthenticatedAny,
	"Create-Job-Subscriptions":     AuthenticatedAny,
	"Create-System-Subscriptions":  AuthenticatedAny,

	"Acknowledge-Document":         ProxyGroup,
	"Acknowledge-Identify-Printer": ProxyGroup,
	"Acknowledge-Job":              ProxyGroup,
	"Fetch-Document":               ProxyGroup,
	"Fetch-Job":                    ProxyGroup,
	"Get-Output-Device-Attributes": ProxyGroup,
	"Update-Active-Jobs":           ProxyGroup,
	"Update-Document-Status":       ProxyGroup,
	"Update-Job-Status":            ProxyGroup,
	"Update-Output-Device-Attributes": ProxyGroup,
	"Register-Output-Device":       ProxyGroup,
	"Deregister-Output-Device":     ProxyGroup,

	"Create-Printer":              AdminGroup,
	"Delete-Printer":              AdminGroup,
	"Set-Printer-Attributes":      AdminGroup,
	"Set-System-Attributes":       AdminGroup,
	"Restart-System":              AdminGroup,
	"Shutdown-Printer":            AdminGroup,
	"Startup-Printer":             AdminGroup,
	"Shutdown-All-Printers":       AdminGroup,
	"Startup-All-Printers":        AdminGroup,
	"Cancel-Jobs":                 AdminGroup,
	"Cancel-All-Jobs":             AdminGroup,
	"Hold-New-Jobs":               AdminGroup,
	"Release-Held-New-Jobs":       AdminGroup,
	"Pause-Printer":               AdminGroup,
	"Resume-Printer":              AdminGroup,
	"Pause-All-Printers":          AdminGroup,
	"Resume-All-Printers":         AdminGroup,
	"Enable-Printer":              AdminGroup,
	"Disable-Printer":             AdminGroup,
	"Create-Resource":             AdminGroup,
	"Send-Resource-Data":          AdminGroup,
	"Install-Resource":            AdminGroup,
	"Cancel-Resource":             AdminGroup,
	"Get-Resource-Attributes":     AuthenticatedAny,
	"Get-Resources":               AuthenticatedAny,
	"Allocate-Printer-Resources":  AdminGroup,
	"Deallocate-Printer-Resources": AdminGroup,
}

// ClassFor resolves the operation's policy class, defaulting to
// AdminGroup for anything not explicitly listed (fail-closed).
func ClassFor(operation string) Class {
	if c, ok := OperationClass[operation]; ok {
		return c
	}
	return AdminGroup
}

// PrintJobClass returns PrintGroup instead of AuthenticatedAny when the
// target printer has a print-group configured, per spec §4.5's
// "printer-targeted job-creation when the printer's print_group ≠
// none" rule.
func PrintJobClass(operation string, p *model.Printer) Class {
	base := ClassFor(operation)
	if base != AuthenticatedAny {
		return base
	}
	switch operation {
	case "Print-Job", "Print-URI", "Create-Job", "Send-Document", "Send-URI":
		if p != nil && p.PrintGroup != "" {
			return PrintGroup
		}
	}
	return base
}
