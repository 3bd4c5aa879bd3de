package catalog

import (
	"github.com/dmitrijs2005/crmsync/internal/models"
	"github.com/dmitrijs2005/crmsync/internal/normalize"
)

func field(name string, t models.CoarseType) models.FieldDefinition {
	return models.FieldDefinition{APIName: name, Label: name, CoarseType: t}
}

func relation(name string) models.FieldDefinition {
	return models.FieldDefinition{APIName: name, Label: name, CoarseType: models.TypeText, RemoteType: "object_reference"}
}

// systemFields are present on every object type of the CRM.
func systemFields() []models.FieldDefinition {
	return []models.FieldDefinition{
		{APIName: "_id", Label: "ID", CoarseType: models.TypeText, Required: true},
		field("name", models.TypeText),
		field("owner", models.TypeText),
		field("created_by", models.TypeText),
		field("last_modified_by", models.TypeText),
		field("create_time", models.TypeTimestamp),
		field("last_modified_time", models.TypeTimestamp),
		field("is_deleted", models.TypeBoolean),
		field("life_status", models.TypeText),
		field("record_type", models.TypeText),
		field("relevant_team", models.TypeJSON),
	}
}

func withSystem(extra ...models.FieldDefinition) []models.FieldDefinition {
	return append(systemFields(), extra...)
}

// Default is the catalog of the well-known object types.
func Default() *Catalog {
	return New(
		ObjectType{
			APIName: "AccountObj",
			Table:   "accounts",
			Baseline: withSystem(
				field("account_no", models.TypeText),
				field("account_level", models.TypeText),
				field("tel", models.TypeText),
				field("address", models.TypeText),
				field("deal_status", models.TypeText),
			),
		},
		ObjectType{
			APIName: "ContactObj",
			Table:   "contacts",
			Baseline: withSystem(
				relation("account_id"),
				field("mobile", models.TypeText),
				field("email", models.TypeText),
				field("job_title", models.TypeText),
			),
		},
		ObjectType{
			APIName: "NewOpportunityObj",
			Table:   "opportunities",
			Baseline: withSystem(
				relation("account_id"),
				field("amount", models.TypeNumber),
				field("sales_stage", models.TypeText),
				field("close_date", models.TypeDatetime),
			),
		},
		ObjectType{
			APIName: "Site",
			Table:   "sites",
			Baseline: withSystem(
				relation("account_id"),
				field("site_code__c", models.TypeText),
				field("address__c", models.TypeText),
				field("capacity__c", models.TypeNumber),
			),
			Rules: map[string]normalize.Rule{
				"service_days__c": normalize.RuleJSONStringify,
			},
		},
	)
}
