package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smol-labs/homelab-bootstrap/internal/errors"
)

// ItemFieldLookup fetches a named field from a vault item. Wired to the
// secret backend by the caller so this package stays decoupled from it.
type ItemFieldLookup func(item, field string) (string, error)

// Value is a config scalar that is either a literal string or a reference
// to an environment variable or vault item field:
//
//	password: hunter2
//	password:
//	  value_from:
//	    env: APP_PASSWORD
//	password:
//	  value_from:
//	    bitwarden_item: app-admin-credentials
//	    bitwarden_field: password
type Value struct {
	Literal string
	From    *ValueFrom
}

// ValueFrom names an external source for a Value.
type ValueFrom struct {
	Env            string `yaml:"env"`
	BitwardenItem  string `yaml:"bitwarden_item"`
	BitwardenField string `yaml:"bitwarden_field"`
}

// UnmarshalYAML accepts either a plain scalar or a value_from mapping.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&v.Literal)
	}

	var wrapper struct {
		ValueFrom *ValueFrom `yaml:"value_from"`
	}
	if err := node.Decode(&wrapper); err != nil {
		return err
	}
	if wrapper.ValueFrom == nil {
		return fmt.Errorf("expected scalar or value_from mapping at line %d", node.Line)
	}
	v.From = wrapper.ValueFrom
	return nil
}

// IsZero reports whether the value carries neither a literal nor a reference.
func (v Value) IsZero() bool {
	return v.Literal == "" && v.From == nil
}

// Resolve returns the concrete string for the value. lookup may be nil when
// no vault-backed values are expected; hitting one then is an error rather
// than a silent empty string.
func (v Value) Resolve(lookup ItemFieldLookup) (string, error) {
	if v.From == nil {
		return v.Literal, nil
	}

	if v.From.Env != "" {
		return os.Getenv(v.From.Env), nil
	}

	if v.From.BitwardenItem != "" {
		if lookup == nil {
			return "", errors.NewValidationError("value references a vault item but the vault strategy is not active", map[string]interface{}{
				"item": v.From.BitwardenItem,
			})
		}
		field := v.From.BitwardenField
		if field == "" {
			field = "password"
		}
		return lookup(v.From.BitwardenItem, field)
	}

	return "", nil
}
