package entity

import "strings"

// Kind identifies a managed record type (bank, customer, user).
type Kind string

const (
	KindBank     Kind = "bank"
	KindCustomer Kind = "customer"
	KindUser     Kind = "user"
)

func (k Kind) String() string { return string(k) }

var routeToKind = map[string]Kind{
	"banks":     KindBank,
	"customers": KindCustomer,
	"users":     KindUser,
}

// KindFromRoute translates a plural route segment into its entity kind.
// Unknown segments are returned unchanged.
func KindFromRoute(route string) Kind {
	segment := strings.Trim(strings.TrimSpace(route), "/")
	if kind, ok := routeToKind[segment]; ok {
		return kind
	}
	return Kind(segment)
}

// RouteFor returns the plural route segment for kind. Kinds without a known
// mapping fall back to a naive plural.
func RouteFor(kind Kind) string {
	for route, k := range routeToKind {
		if k == kind {
			return route
		}
	}
	name := strings.TrimSpace(string(kind))
	if name == "" || strings.HasSuffix(name, "s") {
		return name
	}
	return name + "s"
}
