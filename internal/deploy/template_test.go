package deploy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableNameDeterministic(t *testing.T) {
	require.Equal(t, "tenant-prod-acme", TableName("acme", "prod"))
	require.Equal(t, TableName("acme", "prod"), TableName("acme", "prod"))
	require.Equal(t, StackName("acme", "prod"), TableName("acme", "prod"))
	require.NotEqual(t, TableName("acme", "prod"), TableName("acme", "dev"))
}

func TestRenderTemplate(t *testing.T) {
	tmpl := RenderTemplate("acme", "prod")

	require.Equal(t, "2010-09-09", tmpl.AWSTemplateFormatVersion)
	require.Contains(t, tmpl.Resources, "TenantTable")

	table := tmpl.Resources["TenantTable"]
	require.Equal(t, "AWS::DynamoDB::Table", table.Type)
	require.Equal(t, "tenant-prod-acme", table.Properties["TableName"])
	require.Equal(t, "PAY_PER_REQUEST", table.Properties["BillingMode"])

	body, err := tmpl.Body()
	require.NoError(t, err)

	// The body must round-trip as valid JSON for CloudFormation.
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))

	// Same tenant, same document.
	again, err := RenderTemplate("acme", "prod").Body()
	require.NoError(t, err)
	require.JSONEq(t, body, again)
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("public")
	require.NoError(t, err)
	require.Equal(t, TierPublic, tier)

	tier, err = ParseTier("private")
	require.NoError(t, err)
	require.Equal(t, TierPrivate, tier)

	_, err = ParseTier("gold")
	require.ErrorIs(t, err, ErrValidation)

	_, err = ParseTier("")
	require.ErrorIs(t, err, ErrValidation)
}

func TestRequestValidate(t *testing.T) {
	req := &Request{TenantID: "acme", Tier: TierPublic}
	require.NoError(t, req.Validate())

	req = &Request{Tier: TierPublic}
	require.ErrorIs(t, req.Validate(), ErrValidation)

	req = &Request{TenantID: "acme", Tier: Tier("gold")}
	require.ErrorIs(t, req.Validate(), ErrValidation)
}
