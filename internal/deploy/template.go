package deploy

import (
	"encoding/json"
	"fmt"
)

// Template is a declarative CloudFormation document describing one tenant's
// dedicated table. It is plain data so rendering can be tested without a
// live provider.
type Template struct {
	AWSTemplateFormatVersion string              `json:"AWSTemplateFormatVersion"`
	Description              string              `json:"Description"`
	Resources                map[string]Resource `json:"Resources"`
	Outputs                  map[string]Output   `json:"Outputs,omitempty"`
}

// Resource is a single CloudFormation resource definition.
type Resource struct {
	Type       string         `json:"Type"`
	Properties map[string]any `json:"Properties"`
}

// Output is a CloudFormation stack output.
type Output struct {
	Description string `json:"Description,omitempty"`
	Value       any    `json:"Value"`
}

// TableName derives the deterministic per-tenant table name. Repeated calls
// for the same tenant and workspace always produce the same name, which is
// what makes private-tier deployments recognizable across retries.
func TableName(tenantID, workspace string) string {
	return fmt.Sprintf("tenant-%s-%s", workspace, tenantID)
}

// StackName derives the deterministic stack name for a tenant. It matches
// the table name so a lost stack handle can always be reconstructed from the
// tenant id alone.
func StackName(tenantID, workspace string) string {
	return TableName(tenantID, workspace)
}

// RenderTemplate produces the CloudFormation template for a tenant's
// dedicated table.
func RenderTemplate(tenantID, workspace string) Template {
	tableName := TableName(tenantID, workspace)

	return Template{
		AWSTemplateFormatVersion: "2010-09-09",
		Description:              fmt.Sprintf("Dedicated tenant data store for %s", tenantID),
		Resources: map[string]Resource{
			"TenantTable": {
				Type: "AWS::DynamoDB::Table",
				Properties: map[string]any{
					"TableName":   tableName,
					"BillingMode": "PAY_PER_REQUEST",
					"KeySchema": []map[string]any{
						{"AttributeName": "pk", "KeyType": "HASH"},
						{"AttributeName": "sk", "KeyType": "RANGE"},
					},
					"AttributeDefinitions": []map[string]any{
						{"AttributeName": "pk", "AttributeType": "S"},
						{"AttributeName": "sk", "AttributeType": "S"},
					},
					"Tags": []map[string]any{
						{"Key": "tenant_id", "Value": tenantID},
						{"Key": "workspace", "Value": workspace},
					},
				},
			},
		},
		Outputs: map[string]Output{
			"TableName": {
				Description: "Name of the tenant table",
				Value:       tableName,
			},
		},
	}
}

// Body serializes the template to the JSON document CloudFormation accepts.
func (t Template) Body() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal template: %w", err)
	}
	return string(data), nil
}
