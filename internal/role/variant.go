package role

import (
	"fmt"
	"strings"

	"github.com/bianoble/flacm/internal/source"
)

// Kind names a role variant.
type Kind string

const (
	Generic  Kind = "generic"
	Domain   Kind = "domain"
	Function Kind = "function"
	Host     Kind = "host"
	OS       Kind = "os"
)

// Variant describes where a kind of role lives in the data source and
// whether it accepts "+"-joined subroles.
type Variant struct {
	Kind Kind
	// Locator maps the data source base and a role name to the role's
	// location.
	Locator  func(base source.Locator, name string) source.Locator
	Subroles bool
}

func under(dir string) func(source.Locator, string) source.Locator {
	return func(base source.Locator, name string) source.Locator {
		return base.Join(dir, name)
	}
}

var variants = map[Kind]Variant{
	Generic: {
		Kind:    Generic,
		Locator: func(base source.Locator, name string) source.Locator { return base.Join(name) },
	},
	Domain: {Kind: Domain, Locator: under("DOMAINS")},
	Function: {
		Kind: Function,
		Locator: func(base source.Locator, name string) source.Locator {
			first, _, _ := strings.Cut(name, "+")
			return base.Join("ROLES", first)
		},
		Subroles: true,
	},
	Host: {Kind: Host, Locator: under("HOSTS")},
	OS:   {Kind: OS, Locator: under("OS")},
}

// VariantFor returns the built-in variant for kind.
func VariantFor(kind Kind) (Variant, error) {
	v, ok := variants[Kind(strings.ToLower(string(kind)))]
	if !ok {
		return Variant{}, fmt.Errorf("unknown role variant %q", kind)
	}
	return v, nil
}

// Role is one unit of configuration to apply.
type Role struct {
	// Name is the full role name, subroles included ("web+tls").
	Name    string
	Variant Variant
	Locator source.Locator
	// Subroles are the "+"-separated names after the base, in order.
	Subroles    []string
	PartAsWhole bool
	// Optional roles are skipped when the data source has no tree for
	// them.
	Optional bool
}

// New builds a role of the given variant rooted at base.
func New(v Variant, base source.Locator, name string, partAsWhole bool) (Role, error) {
	if strings.Trim(name, "+/ ") == "" {
		return Role{}, fmt.Errorf("empty role name")
	}
	r := Role{
		Name:        name,
		Variant:     v,
		Locator:     v.Locator(base, name),
		PartAsWhole: partAsWhole,
	}
	if v.Subroles {
		parts := strings.Split(name, "+")
		for _, p := range parts {
			if p == "" {
				return Role{}, fmt.Errorf("role %q has an empty subrole", name)
			}
		}
		r.Subroles = parts[1:]
	}
	return r, nil
}

// Base returns the directory name the role's tree is fetched as.
func (r Role) Base() string {
	return r.Locator.Base()
}

// Composites returns the accumulated subrole keys in fetch order:
// "tls", "tls+x", ...
func (r Role) Composites() []string {
	out := make([]string, 0, len(r.Subroles))
	key := ""
	for _, s := range r.Subroles {
		if key == "" {
			key = s
		} else {
			key += "+" + s
		}
		out = append(out, key)
	}
	return out
}
