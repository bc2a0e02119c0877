package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Ordered is a YAML mapping that remembers declaration order.
type Ordered[V any] struct {
	Keys   []string
	Values map[string]V
}

// UnmarshalYAML decodes a mapping node entry by entry.
func (o *Ordered[V]) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	o.Keys = make([]string, 0, len(node.Content)/2)
	o.Values = make(map[string]V, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var v V
		if err := node.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		o.Set(key, v)
	}
	return nil
}

// MarshalYAML writes the entries back in declaration order.
func (o Ordered[V]) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range o.Keys {
		var val yaml.Node
		if err := val.Encode(o.Values[k]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &val)
	}
	return node, nil
}

// Get returns the value stored under key.
func (o *Ordered[V]) Get(key string) (V, bool) {
	v, ok := o.Values[key]
	return v, ok
}

// Has reports whether key is present.
func (o *Ordered[V]) Has(key string) bool {
	_, ok := o.Values[key]
	return ok
}

// Set stores v under key, appending key if it is new.
func (o *Ordered[V]) Set(key string, v V) {
	if o.Values == nil {
		o.Values = make(map[string]V)
	}
	if _, ok := o.Values[key]; !ok {
		o.Keys = append(o.Keys, key)
	}
	o.Values[key] = v
}

// Len returns the number of entries.
func (o *Ordered[V]) Len() int {
	return len(o.Keys)
}
