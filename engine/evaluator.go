package engine

import (
	"fmt"
	"time"

	"github.com/JoshuaRamirez/ACS-sub000/internal/slogging"
)

// Decision is the outcome of a permission check
type Decision string

const (
	// DecisionGranted means a matching grant was found and no deny applies
	DecisionGranted Decision = "GRANTED"
	// DecisionDenied means a matching deny was found, or a condition failed
	DecisionDenied Decision = "DENIED"
	// DecisionNotGranted means no matching permission exists anywhere
	DecisionNotGranted Decision = "NOT_GRANTED"
)

// CheckResult carries the full outcome of a permission evaluation
type CheckResult struct {
	Decision Decision `json:"decision"`
	// HasAccess is true only for a final GRANTED outcome
	HasAccess bool `json:"has_access"`
	// HasPermission is true when base resolution granted, even if a
	// condition later demoted the result
	HasPermission bool   `json:"has_permission"`
	Reason        string `json:"reason"`

	GrantingPermissions []Permission      `json:"granting_permissions,omitempty"`
	InheritanceChain    []PrincipalRef    `json:"inheritance_chain,omitempty"`
	Variables           map[string]string `json:"variables,omitempty"`
	ConditionResults    []ConditionResult `json:"condition_results,omitempty"`
	Steps               []string          `json:"evaluation_steps,omitempty"`
	Elapsed             time.Duration     `json:"elapsed"`
}

// ResourceResolver maps a resource id to its URI template
type ResourceResolver interface {
	ResourceURI(id int64) (string, bool)
}

// Evaluator answers permission-check queries against the graph. It is pure:
// no mutations and no persistence, so it runs safely on any caller
// goroutine.
type Evaluator struct {
	graph     *Graph
	resources ResourceResolver
}

// NewEvaluator creates an evaluator over the given graph
func NewEvaluator(graph *Graph, resources ResourceResolver) *Evaluator {
	return &Evaluator{graph: graph, resources: resources}
}

// permMatch pairs a matched permission with its owner chain and specificity
type permMatch struct {
	perm     Permission
	chain    []PrincipalRef
	pattern  *URIPattern
	vars     map[string]string
	distance int
}

// Check evaluates (principal, uri, verb). Deny dominates across the
// principal and its whole ancestor set; among grants the most specific
// pattern wins.
func (e *Evaluator) Check(kind PrincipalKind, id int64, uri string, verb Verb) (*CheckResult, error) {
	start := time.Now()

	result := &CheckResult{Decision: DecisionNotGranted}
	step := func(format string, args ...any) {
		result.Steps = append(result.Steps, fmt.Sprintf(format, args...))
	}

	e.graph.mu.RLock()
	defer e.graph.mu.RUnlock()

	p, err := e.graph.lookup(kind, id)
	if err != nil {
		return nil, err
	}

	step("resolving %s %d (%s) for %s %s", kind, id, p.name, verb, uri)

	denies, grants := e.collectMatches(p, uri, verb, step)

	switch {
	case len(denies) > 0:
		deny := denies[0]
		result.Decision = DecisionDenied
		result.InheritanceChain = deny.chain
		owner := deny.chain[len(deny.chain)-1]
		result.Reason = fmt.Sprintf("denied by %s %q on %q %s", owner.Kind, owner.Name, deny.perm.URIPattern, deny.perm.Verb)
		step("deny dominates: %s", result.Reason)

	case len(grants) > 0:
		best := grants[0]
		for _, g := range grants[1:] {
			if g.pattern.MoreSpecificThan(best.pattern) ||
				(!best.pattern.MoreSpecificThan(g.pattern) && g.distance < best.distance) {
				best = g
			}
		}
		result.Decision = DecisionGranted
		result.HasAccess = true
		result.HasPermission = true
		result.InheritanceChain = best.chain
		result.Variables = best.vars
		for _, g := range grants {
			result.GrantingPermissions = append(result.GrantingPermissions, g.perm)
		}
		owner := best.chain[len(best.chain)-1]
		result.Reason = fmt.Sprintf("granted by %s %q on %q %s", owner.Kind, owner.Name, best.perm.URIPattern, best.perm.Verb)
		step("granted: %s", result.Reason)

	default:
		result.Reason = fmt.Sprintf("no permission on %q %s for %s %d or its ancestors", uri, verb, kind, id)
		step("not granted: %s", result.Reason)
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// CheckResource evaluates (principal, resource id, verb) by resolving the
// resource's URI template and also honoring direct resource-id bindings.
func (e *Evaluator) CheckResource(kind PrincipalKind, id, resourceID int64, verb Verb) (*CheckResult, error) {
	if e.resources == nil {
		return nil, Unsupportedf("resource checks require a resource registry")
	}
	uri, ok := e.resources.ResourceURI(resourceID)
	if !ok {
		return nil, NotFoundf("resource %d not found", resourceID)
	}
	return e.Check(kind, id, uri, verb)
}

// EvaluateComplex runs the base check and then applies condition predicates.
// All conditions must hold for access; a failing condition demotes GRANTED
// to DENIED while HasPermission stays true.
func (e *Evaluator) EvaluateComplex(kind PrincipalKind, id int64, uri string, verb Verb, conditions []Condition, ectx EvalContext) (*CheckResult, error) {
	logger := slogging.Get()
	start := time.Now()

	result, err := e.Check(kind, id, uri, verb)
	if err != nil {
		return nil, err
	}

	if result.Decision != DecisionGranted || len(conditions) == 0 {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	for _, cond := range conditions {
		cr := cond.Evaluate(ectx)
		result.ConditionResults = append(result.ConditionResults, cr)
		result.Steps = append(result.Steps, fmt.Sprintf("condition %q passed=%v", cr.Description, cr.Passed))

		if !cr.Passed && result.HasAccess {
			result.Decision = DecisionDenied
			result.HasAccess = false
			result.Reason = fmt.Sprintf("condition failed: %s (%s)", cr.Description, cr.Explanation)
			logger.Debug("Complex evaluation demoted to DENIED for %s %d: %s", kind, id, result.Reason)
		}
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// collectMatches walks the principal and its ancestor set gathering deny and
// grant matches. Must be called with the graph read lock held.
func (e *Evaluator) collectMatches(start *principal, uri string, verb Verb, step func(string, ...any)) (denies, grants []permMatch) {
	type node struct {
		p     *principal
		chain []PrincipalRef
	}

	visited := map[principalKey]bool{start.key(): true}
	queue := []node{{p: start, chain: []PrincipalRef{start.ref()}}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		d, g := matchPermissions(current.p, current.chain, uri, verb)
		if len(d)+len(g) > 0 {
			step("%s %q matched %d deny, %d grant", current.p.kind, current.p.name, len(d), len(g))
		}
		denies = append(denies, d...)
		grants = append(grants, g...)

		// Roles have no ancestors of their own.
		if current.p.kind == KindRole {
			continue
		}

		for key, parent := range current.p.parents {
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, node{p: parent, chain: appendRef(current.chain, parent.ref())})
		}

		// Roles attached under a group count as ancestors of anything
		// that inherits from the group.
		if current.p.kind == KindGroup {
			for key, child := range current.p.children {
				if key.kind != KindRole || visited[key] {
					continue
				}
				visited[key] = true
				queue = append(queue, node{p: child, chain: appendRef(current.chain, child.ref())})
			}
		}
	}

	return denies, grants
}

func matchPermissions(p *principal, chain []PrincipalRef, uri string, verb Verb) (denies, grants []permMatch) {
	for _, perm := range p.permissions {
		if !perm.Verb.Matches(verb) {
			continue
		}
		pattern, err := CompileURIPattern(perm.URIPattern)
		if err != nil {
			continue
		}
		ok, vars := pattern.Match(uri)
		if !ok {
			continue
		}

		m := permMatch{
			perm:     *perm,
			chain:    chain,
			pattern:  pattern,
			vars:     vars,
			distance: len(chain) - 1,
		}
		if perm.Deny {
			denies = append(denies, m)
		} else if perm.Grant {
			grants = append(grants, m)
		}
	}
	return denies, grants
}

func appendRef(chain []PrincipalRef, ref PrincipalRef) []PrincipalRef {
	out := make([]PrincipalRef, len(chain), len(chain)+1)
	copy(out, chain)
	return append(out, ref)
}
