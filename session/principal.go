package session

import "github.com/tidwall/gjson"

const (
	// PrincipalNameAttribute holds the authenticated principal's name. It is
	// also the name of the only secondary index the repository maintains.
	PrincipalNameAttribute = "PRINCIPAL_NAME_INDEX_NAME"

	// PrincipalNameIndexName is accepted by FindByIndexNameAndIndexValue.
	PrincipalNameIndexName = PrincipalNameAttribute

	// SecurityContextAttribute is the legacy attribute holding a nested
	// security context object. Sessions written by older releases carry the
	// principal only there.
	SecurityContextAttribute = "SECURITY_CONTEXT"
)

var securityContextPrincipalPaths = []string{
	"authentication.name",
	"authentication.principal.name",
}

// resolvePrincipalName reads the principal attribute, falling back to the
// legacy security context.
func resolvePrincipalName(snap *Snapshot) string {
	if raw, ok := snap.Attribute(PrincipalNameAttribute); ok {
		if name := scalarString(gjson.ParseBytes(raw)); name != "" {
			return name
		}
	}

	raw, ok := snap.Attribute(SecurityContextAttribute)
	if !ok {
		return ""
	}
	for _, path := range securityContextPrincipalPaths {
		if name := scalarString(gjson.GetBytes(raw, path)); name != "" {
			return name
		}
	}
	return ""
}

func scalarString(r gjson.Result) string {
	switch r.Type {
	case gjson.String, gjson.Number:
		return r.String()
	default:
		return ""
	}
}
