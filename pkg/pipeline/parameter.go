package pipeline

import (
	"log"
	"reflect"
)

// Parameter is an explicit registry entry for one module parameter: a
// declared type, a default, a required flag, and the current value.
type Parameter struct {
	Name     string
	Type     reflect.Type // nil means any type is accepted
	Default  any
	Required bool
	Value    any
}

func newParameter(name string, declaredType reflect.Type, def any, required bool) *Parameter {
	return &Parameter{
		Name:     name,
		Type:     declaredType,
		Default:  def,
		Required: required,
		Value:    def,
	}
}

// set assigns a new value, rejecting a type mismatch with a warning and
// treating a deeply-equal value as a no-op. Returns true if the value
// actually changed.
func (p *Parameter) set(value any) (changed bool, err error) {
	if p.Type != nil && value != nil && reflect.TypeOf(value) != p.Type {
		log.Printf("pipeline: parameter %s: rejected value of type %T, want %s", p.Name, value, p.Type)
		return false, &ConfigError{Kind: TypeMismatchConfig, Param: p.Name}
	}
	if reflect.DeepEqual(p.Value, value) {
		return false, nil
	}
	p.Value = value
	return true, nil
}

func (p *Parameter) isSet() bool {
	return p.Value != nil
}
