package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grantOn(t *testing.T, g *Graph, kind PrincipalKind, id int64, uri string, verb Verb, deny bool) {
	t.Helper()
	_, err := g.UpsertPermission(Permission{
		ID:         g.NextPermissionID(),
		OwnerID:    id,
		OwnerKind:  kind,
		URIPattern: uri,
		Verb:       verb,
		Grant:      !deny,
		Deny:       deny,
		Scheme:     SchemeAPIURIAuthorization,
	})
	require.NoError(t, err)
}

func TestEvaluatorDirectGrant(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	grantOn(t, g, KindUser, 1, "/api/reports/*", VerbGet, false)

	e := NewEvaluator(g, nil)

	result, err := e.Check(KindUser, 1, "/api/reports/q3", VerbGet)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, result.Decision)
	assert.True(t, result.HasAccess)
	require.Len(t, result.InheritanceChain, 1)
	assert.Equal(t, int64(1), result.InheritanceChain[0].ID)

	t.Run("verb must match", func(t *testing.T) {
		result, err := e.Check(KindUser, 1, "/api/reports/q3", VerbDelete)
		require.NoError(t, err)
		assert.Equal(t, DecisionNotGranted, result.Decision)
	})

	t.Run("missing principal errors", func(t *testing.T) {
		_, err := e.Check(KindUser, 99, "/api/reports/q3", VerbGet)
		assert.True(t, IsKind(err, KindNotFound))
	})
}

func TestEvaluatorGroupInheritance(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "engineering"))
	require.NoError(t, g.Link(KindGroup, 1, KindUser, 1))
	grantOn(t, g, KindGroup, 1, "/api/code/*", VerbGet, false)

	e := NewEvaluator(g, nil)

	result, err := e.Check(KindUser, 1, "/api/code/main.go", VerbGet)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, result.Decision)

	// The chain walks from the user to the granting group.
	require.Len(t, result.InheritanceChain, 2)
	assert.Equal(t, KindUser, result.InheritanceChain[0].Kind)
	assert.Equal(t, KindGroup, result.InheritanceChain[1].Kind)
}

func TestEvaluatorAncestorDenyDominates(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "contractors"))
	require.NoError(t, g.Link(KindGroup, 1, KindUser, 1))

	// Direct grant on the user, deny on the containing group.
	grantOn(t, g, KindUser, 1, "/api/secrets/*", VerbGet, false)
	grantOn(t, g, KindGroup, 1, "/api/secrets/*", VerbGet, true)

	e := NewEvaluator(g, nil)

	result, err := e.Check(KindUser, 1, "/api/secrets/prod", VerbGet)
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, result.Decision)
	assert.False(t, result.HasAccess)
	assert.Contains(t, result.Reason, "contractors")
}

func TestEvaluatorRoleThroughGroup(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "engineering"))
	require.NoError(t, g.Create(KindRole, 1, 102, "deployer"))
	require.NoError(t, g.Link(KindGroup, 1, KindUser, 1))
	require.NoError(t, g.Link(KindGroup, 1, KindRole, 1))
	grantOn(t, g, KindRole, 1, "/api/deployments/*", VerbPost, false)

	e := NewEvaluator(g, nil)

	// The role attached to the group covers the group's members.
	result, err := e.Check(KindUser, 1, "/api/deployments/create", VerbPost)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, result.Decision)
	require.Len(t, result.InheritanceChain, 3)
	assert.Equal(t, KindRole, result.InheritanceChain[2].Kind)
}

func TestEvaluatorNestedGroups(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	require.NoError(t, g.Create(KindGroup, 1, 101, "org"))
	require.NoError(t, g.Create(KindGroup, 2, 102, "team"))
	require.NoError(t, g.Link(KindGroup, 1, KindGroup, 2))
	require.NoError(t, g.Link(KindGroup, 2, KindUser, 1))
	grantOn(t, g, KindGroup, 1, "/api/wiki/*", VerbGet, false)

	e := NewEvaluator(g, nil)

	result, err := e.Check(KindUser, 1, "/api/wiki/home", VerbGet)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, result.Decision)
	require.Len(t, result.InheritanceChain, 3)
}

func TestEvaluatorSpecificityWins(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	grantOn(t, g, KindUser, 1, "/api/*", VerbGet, false)
	grantOn(t, g, KindUser, 1, "/api/reports/q3", VerbGet, false)

	e := NewEvaluator(g, nil)

	result, err := e.Check(KindUser, 1, "/api/reports/q3", VerbGet)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, result.Decision)
	assert.Contains(t, result.Reason, "/api/reports/q3")
	assert.Len(t, result.GrantingPermissions, 2)
}

func TestEvaluatorAllVerb(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	grantOn(t, g, KindUser, 1, "/api/sandbox/*", VerbAll, false)

	e := NewEvaluator(g, nil)

	for _, verb := range []Verb{VerbGet, VerbPost, VerbPut, VerbPatch, VerbDelete} {
		result, err := e.Check(KindUser, 1, "/api/sandbox/box1", verb)
		require.NoError(t, err)
		assert.Equal(t, DecisionGranted, result.Decision, verb)
	}
}

func TestEvaluatorNotGranted(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))

	e := NewEvaluator(g, nil)

	result, err := e.Check(KindUser, 1, "/api/anything", VerbGet)
	require.NoError(t, err)
	assert.Equal(t, DecisionNotGranted, result.Decision)
	assert.False(t, result.HasAccess)
	assert.False(t, result.HasPermission)
}

func TestEvaluatorVariableExtraction(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	grantOn(t, g, KindUser, 1, "/api/tenants/{tenant}/reports", VerbGet, false)

	e := NewEvaluator(g, nil)

	result, err := e.Check(KindUser, 1, "/api/tenants/acme/reports", VerbGet)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, result.Decision)
	assert.Equal(t, "acme", result.Variables["tenant"])
}

func TestEvaluateComplexConditions(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	grantOn(t, g, KindUser, 1, "/api/payroll/*", VerbGet, false)

	e := NewEvaluator(g, nil)
	at := func(hour int) EvalContext {
		return EvalContext{Now: time.Date(2026, 3, 4, hour, 0, 0, 0, time.UTC)}
	}
	businessHours := []Condition{TimeOfDayCondition{StartHour: 9, EndHour: 17}}

	t.Run("condition passes", func(t *testing.T) {
		result, err := e.EvaluateComplex(KindUser, 1, "/api/payroll/march", VerbGet, businessHours, at(10))
		require.NoError(t, err)
		assert.Equal(t, DecisionGranted, result.Decision)
		assert.True(t, result.HasAccess)
		assert.True(t, result.HasPermission)
	})

	t.Run("failing condition demotes but keeps HasPermission", func(t *testing.T) {
		result, err := e.EvaluateComplex(KindUser, 1, "/api/payroll/march", VerbGet, businessHours, at(22))
		require.NoError(t, err)
		assert.Equal(t, DecisionDenied, result.Decision)
		assert.False(t, result.HasAccess)
		assert.True(t, result.HasPermission)
		require.Len(t, result.ConditionResults, 1)
		assert.False(t, result.ConditionResults[0].Passed)
	})

	t.Run("conditions never rescue a missing grant", func(t *testing.T) {
		result, err := e.EvaluateComplex(KindUser, 1, "/api/other", VerbGet, businessHours, at(10))
		require.NoError(t, err)
		assert.Equal(t, DecisionNotGranted, result.Decision)
		assert.Empty(t, result.ConditionResults)
	})
}

func TestEvaluatorCheckResource(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Create(KindUser, 1, 100, "alice"))
	grantOn(t, g, KindUser, 1, "/api/files/*", VerbGet, false)

	resolver := staticResolver{42: "/api/files/readme"}
	e := NewEvaluator(g, resolver)

	result, err := e.CheckResource(KindUser, 1, 42, VerbGet)
	require.NoError(t, err)
	assert.Equal(t, DecisionGranted, result.Decision)

	t.Run("unknown resource is not found", func(t *testing.T) {
		_, err := e.CheckResource(KindUser, 1, 7, VerbGet)
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("no resolver is unsupported", func(t *testing.T) {
		bare := NewEvaluator(g, nil)
		_, err := bare.CheckResource(KindUser, 1, 42, VerbGet)
		assert.True(t, IsKind(err, KindUnsupported))
	})
}

type staticResolver map[int64]string

func (r staticResolver) ResourceURI(id int64) (string, bool) {
	uri, ok := r[id]
	return uri, ok
}
