package rewrite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaywire/proxy/internal/domain"
)

func body(s string) *string { return &s }

func TestMatch_FirstEnabledRuleWins(t *testing.T) {
	rules := domain.RewriteRules{
		Enabled: true,
		Rules: []domain.RewriteRule{
			{Enabled: false, PathGlob: "/api/*", ResponseBody: body("first")},
			{Enabled: true, PathGlob: "/api/*", ResponseBody: body("second")},
			{Enabled: true, PathGlob: "/api/*", ResponseBody: body("third")},
		},
	}
	m := Compile(rules)
	rule, ok := m.Match("example.com", "/api/x")
	require.True(t, ok)
	require.Equal(t, "second", *rule.ResponseBody)
}

func TestMatch_NoMatchWhenNothingMatches(t *testing.T) {
	rules := domain.RewriteRules{Enabled: true, Rules: []domain.RewriteRule{
		{Enabled: true, PathGlob: "/only-this/*"},
	}}
	m := Compile(rules)
	_, ok := m.Match("example.com", "/elsewhere")
	require.False(t, ok)
}

func TestMatch_DisabledRewritesMatchesNothing(t *testing.T) {
	rules := domain.RewriteRules{Enabled: false, Rules: []domain.RewriteRule{
		{Enabled: true, PathGlob: "*"},
	}}
	m := Compile(rules)
	_, ok := m.Match("example.com", "/anything")
	require.False(t, ok)
}

func TestMatch_TrailingStarMatchesAcrossSlashes(t *testing.T) {
	rules := domain.RewriteRules{Enabled: true, Rules: []domain.RewriteRule{
		{Enabled: true, PathGlob: "/api/*"},
	}}
	m := Compile(rules)
	_, ok := m.Match("example.com", "/api/x/y/z")
	require.True(t, ok)
}

func TestMatch_NonTrailingStarStaysWithinSegment(t *testing.T) {
	rules := domain.RewriteRules{Enabled: true, Rules: []domain.RewriteRule{
		{Enabled: true, PathGlob: "/*/users"},
	}}
	m := Compile(rules)
	_, okMatch := m.Match("example.com", "/v1/users")
	require.True(t, okMatch)
	_, okNoMatch := m.Match("example.com", "/v1/v2/users")
	require.False(t, okNoMatch)
}

func TestDomainMatches_EqualityAndSubdomain(t *testing.T) {
	require.True(t, DomainMatches("example.com", "example.com"))
	require.True(t, DomainMatches("example.com", "API.EXAMPLE.COM"))
	require.False(t, DomainMatches("example.com", "notexample.com"))
	require.True(t, DomainMatches("", "anything.test"))
}

func TestMatch_MarkerRuleHasNilBodies(t *testing.T) {
	rules := domain.RewriteRules{Enabled: true, Rules: []domain.RewriteRule{
		{Enabled: true, PathGlob: "/noop/*"},
	}}
	m := Compile(rules)
	rule, ok := m.Match("example.com", "/noop/x")
	require.True(t, ok)
	require.Nil(t, rule.RequestBody)
	require.Nil(t, rule.ResponseBody)
}
