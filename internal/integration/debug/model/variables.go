package model

import (
	"slices"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/dshills/kdbg/internal/event"
)

// Variable is one entry of a scope or of an expanded variable.
// VariablesReference 0 means the variable has no children.
type Variable struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	EvaluateName       string `json:"evaluateName,omitempty"`
	VariablesReference int    `json:"variablesReference"`
	Expanded           bool   `json:"expanded"`
}

// HasChildren reports whether v can be expanded.
func (v Variable) HasChildren() bool {
	return v.VariablesReference > 0
}

// VariableFromDAP converts a protocol variable.
func VariableFromDAP(v godap.Variable) Variable {
	return Variable{
		Name:               v.Name,
		Value:              v.Value,
		Type:               v.Type,
		EvaluateName:       v.EvaluateName,
		VariablesReference: v.VariablesReference,
	}
}

// VariablesFromDAP converts a list of protocol variables.
func VariablesFromDAP(vars []godap.Variable) []Variable {
	out := make([]Variable, 0, len(vars))
	for _, v := range vars {
		out = append(out, VariableFromDAP(v))
	}
	return out
}

// Scope is a named group of variables visible in a frame.
type Scope struct {
	Name               string     `json:"name"`
	VariablesReference int        `json:"variablesReference"`
	Variables          []Variable `json:"variables"`
}

// VariableExpanded is emitted when a reference's children are stored.
type VariableExpanded struct {
	Reference int
	Children  []Variable
}

// Variables holds the scopes of the current frame and the children fetched
// for expanded variables. Children are kept in an arena keyed by variables
// reference; the tree is never materialized beyond what was expanded.
type Variables struct {
	mu       sync.RWMutex
	scopes   []Scope
	children map[int][]Variable

	scopesChanged    event.Signal[[]Scope]
	variableExpanded event.Signal[VariableExpanded]
	expandRequested  event.Signal[Variable]
}

// NewVariables creates an empty variables model.
func NewVariables() *Variables {
	return &Variables{children: make(map[int][]Variable)}
}

// SetScopes replaces the scope list and forgets every expansion.
func (v *Variables) SetScopes(scopes []Scope) {
	stored := cloneScopes(scopes)

	v.mu.Lock()
	v.scopes = stored
	v.children = make(map[int][]Variable)
	v.mu.Unlock()

	v.scopesChanged.Emit(cloneScopes(stored))
}

// Clear drops all scopes and expansions.
func (v *Variables) Clear() {
	v.SetScopes(nil)
}

// Scopes returns the current scopes.
func (v *Variables) Scopes() []Scope {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return cloneScopes(v.scopes)
}

// Expand stores children as the immediate children of ref and marks every
// held variable with that reference as expanded. Expanding again replaces
// the previous children of ref only. It reports whether a variable with ref
// was found in the scopes or in an earlier expansion.
func (v *Variables) Expand(ref int, children []Variable) bool {
	if ref <= 0 {
		return false
	}
	stored := slices.Clone(children)

	v.mu.Lock()
	found := false

	scopes := make([]Scope, len(v.scopes))
	for i, s := range v.scopes {
		vars, hit := markExpanded(s.Variables, ref)
		found = found || hit
		s.Variables = vars
		scopes[i] = s
	}
	v.scopes = scopes

	for parent, kids := range v.children {
		if marked, hit := markExpanded(kids, ref); hit {
			v.children[parent] = marked
			found = true
		}
	}
	v.children[ref] = stored
	v.mu.Unlock()

	v.variableExpanded.Emit(VariableExpanded{Reference: ref, Children: slices.Clone(stored)})
	return found
}

// markExpanded returns vars with Expanded set on entries matching ref. The
// input slice is copied before it is changed.
func markExpanded(vars []Variable, ref int) ([]Variable, bool) {
	var out []Variable
	for i, variable := range vars {
		if variable.VariablesReference != ref {
			continue
		}
		if out == nil {
			out = slices.Clone(vars)
		}
		out[i].Expanded = true
	}
	if out == nil {
		return vars, false
	}
	return out, true
}

// Children returns the stored children of ref.
func (v *Variables) Children(ref int) ([]Variable, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	kids, ok := v.children[ref]
	return slices.Clone(kids), ok
}

// Find returns the held variable with ref, searching scopes first and then
// expanded children.
func (v *Variables) Find(ref int) (Variable, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, s := range v.scopes {
		for _, variable := range s.Variables {
			if variable.VariablesReference == ref {
				return variable, true
			}
		}
	}
	for _, kids := range v.children {
		for _, variable := range kids {
			if variable.VariablesReference == ref {
				return variable, true
			}
		}
	}
	return Variable{}, false
}

// RequestExpand asks the owner of the model to fetch the children of
// variable. Variables without children are ignored.
func (v *Variables) RequestExpand(variable Variable) {
	if !variable.HasChildren() {
		return
	}
	v.expandRequested.Emit(variable)
}

// ScopesChanged fires after SetScopes.
func (v *Variables) ScopesChanged() *event.Signal[[]Scope] { return &v.scopesChanged }

// VariableExpanded fires after Expand.
func (v *Variables) VariableExpanded() *event.Signal[VariableExpanded] { return &v.variableExpanded }

// ExpandRequested fires on RequestExpand.
func (v *Variables) ExpandRequested() *event.Signal[Variable] { return &v.expandRequested }

func cloneScopes(scopes []Scope) []Scope {
	if scopes == nil {
		return nil
	}
	out := make([]Scope, len(scopes))
	for i, s := range scopes {
		s.Variables = slices.Clone(s.Variables)
		out[i] = s
	}
	return out
}
