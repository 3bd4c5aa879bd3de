package catalog

import (
	"testing"

	"github.com/dmitrijs2005/crmsync/internal/common"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableName(t *testing.T) {
	tests := map[string]string{
		"AccountObj":        "account_obj",
		"Site":              "site",
		"NewOpportunityObj": "new_opportunity_obj",
		"object_x1__c":      "object_x1__c",
		"CRMFeed":           "crm_feed",
		"Odd-Name":          "odd_name",
	}
	for in, want := range tests {
		assert.Equal(t, want, TableName(in), in)
	}
}

func TestLookup(t *testing.T) {
	c := Default()

	site, err := c.Lookup("Site")
	require.NoError(t, err)
	assert.Equal(t, "sites", site.Table)
	assert.NotEmpty(t, site.Baseline)

	custom, err := c.Lookup("object_x1__c")
	require.NoError(t, err)
	assert.Equal(t, "object_x1__c", custom.Table)
	assert.Empty(t, custom.Baseline)

	_, err = c.Lookup("")
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = c.Lookup("1bad")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRegisterAndMappings(t *testing.T) {
	c := New(ObjectType{APIName: "PartnerObj", Rules: map[string]normalize.Rule{"tags": normalize.RuleJSONStringify}})
	p, err := c.Lookup("PartnerObj")
	require.NoError(t, err)
	assert.Equal(t, "partner_obj", p.Table)

	assert.Equal(t, normalize.Mappings{"PartnerObj": {"tags": normalize.RuleJSONStringify}}, c.Mappings())
	assert.Equal(t, []string{"AccountObj", "ContactObj", "NewOpportunityObj", "Site"}, Default().Names())
}
