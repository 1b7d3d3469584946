package role

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/bianoble/flacm/internal/source"
	"github.com/bianoble/flacm/internal/staging"
)

// Assignment lists the hosts a role applies to.
type Assignment struct {
	Role  string
	Hosts []string
}

// Assignments is the decoded role data file, in document order.
type Assignments struct {
	Roles []Assignment
}

// LoadAssignments fetches the role data file at loc into a throwaway
// staging root and decodes it. The file maps role names to host lists:
//
//	web+tls:
//	  - www1.example.com
//	db:
//	  - db1.example.com
func LoadAssignments(ctx context.Context, sources *source.Registry, loc source.Locator, stagingDir string, log zerolog.Logger) (*Assignments, error) {
	dir, err := staging.MakeRoot(staging.FalseRoot, stagingDir)
	if err != nil {
		return nil, fmt.Errorf("creating staging root: %w", err)
	}
	defer staging.Clean(log, dir)

	if err := sources.Fetch(ctx, loc, dir); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, loc.Base()))
	if err != nil {
		return nil, fmt.Errorf("reading role data: %w", err)
	}
	return ParseAssignments(data)
}

// ParseAssignments decodes a role data document.
func ParseAssignments(data []byte) (*Assignments, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing role data: %w", err)
	}
	a := &Assignments{}
	if len(doc.Content) == 0 {
		return a, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing role data: line %d: expected a mapping of role to hosts", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		var hosts []string
		switch val.Kind {
		case yaml.SequenceNode:
			if err := val.Decode(&hosts); err != nil {
				return nil, fmt.Errorf("parsing role data: role %q: %w", key.Value, err)
			}
		case yaml.ScalarNode:
			// "role:" with nothing under it, or a single host.
			if val.Tag != "!!null" && val.Value != "" {
				hosts = []string{val.Value}
			}
		default:
			return nil, fmt.Errorf("parsing role data: line %d: role %q: expected a list of hosts", val.Line, key.Value)
		}
		a.Roles = append(a.Roles, Assignment{Role: key.Value, Hosts: hosts})
	}
	return a, nil
}

// For returns the roles assigned to host, in document order.
func (a *Assignments) For(host string) []string {
	var out []string
	for _, r := range a.Roles {
		for _, h := range r.Hosts {
			if h == host {
				out = append(out, r.Role)
				break
			}
		}
	}
	return out
}

// Has reports whether role is assigned to host.
func (a *Assignments) Has(role, host string) bool {
	for _, r := range a.For(host) {
		if r == role {
			return true
		}
	}
	return false
}
