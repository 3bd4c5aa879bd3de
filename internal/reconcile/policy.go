package reconcile

import (
	"slices"

	"github.com/dmitrijs2005/crmsync/internal/common"
)

// Direction is how one field flows between the two stores.
type Direction string

const (
	RemoteToLocal Direction = "remote_to_local"
	LocalToRemote Direction = "local_to_remote"
	Bidirectional Direction = "bidirectional"
	LocalOnly     Direction = "local_only"
)

// Policy classifies the fields of one object type. A field listed in more
// than one class resolves in the order LocalOnly, System, RoleEditable,
// Bidirectional. Unlisted fields flow remote to local.
type Policy struct {
	System        []string
	RoleEditable  map[string][]string
	Bidirectional []string
	LocalOnly     []string
}

// Policies maps object type API names to their field policy.
type Policies map[string]Policy

// For returns the policy of objectType, or the empty policy.
func (p Policies) For(objectType string) Policy {
	return p[objectType]
}

// immutable fields are owned by the remote regardless of policy.
var immutable = []string{
	common.FieldID,
	common.FieldCreateTime,
	common.FieldLastModifiedTime,
	common.FieldIsDeleted,
	common.FieldLifeStatus,
}

// Direction resolves field for an edit made under role.
func (p Policy) Direction(field, role string) Direction {
	switch {
	case slices.Contains(p.LocalOnly, field):
		return LocalOnly
	case slices.Contains(immutable, field), slices.Contains(p.System, field):
		return RemoteToLocal
	case role != "" && slices.Contains(p.RoleEditable[role], field):
		return LocalToRemote
	case slices.Contains(p.Bidirectional, field):
		return Bidirectional
	}
	return RemoteToLocal
}

// Pullable reports whether a remote value of field may overwrite the local
// one. Role-editable fields belong to the local side for every role.
func (p Policy) Pullable(field string) bool {
	if slices.Contains(p.LocalOnly, field) {
		return false
	}
	if slices.Contains(immutable, field) || slices.Contains(p.System, field) {
		return true
	}
	for _, fields := range p.RoleEditable {
		if slices.Contains(fields, field) {
			return false
		}
	}
	return true
}

// DefaultPolicies covers the object types of the default catalog.
func DefaultPolicies() Policies {
	return Policies{
		"AccountObj": {
			System: []string{"account_no", "owner", "created_by", "last_modified_by", "record_type", "relevant_team"},
			RoleEditable: map[string][]string{
				"sales": {"account_level", "deal_status"},
			},
			Bidirectional: []string{"name", "tel", "address"},
			LocalOnly:     []string{"local_notes"},
		},
		"ContactObj": {
			System: []string{"account_id", "owner", "created_by", "last_modified_by", "record_type", "relevant_team"},
			RoleEditable: map[string][]string{
				"sales": {"job_title"},
			},
			Bidirectional: []string{"name", "mobile", "email"},
			LocalOnly:     []string{"local_notes"},
		},
		"NewOpportunityObj": {
			System: []string{"account_id", "owner", "created_by", "last_modified_by", "record_type", "relevant_team"},
			RoleEditable: map[string][]string{
				"sales": {"sales_stage", "amount", "close_date"},
			},
			LocalOnly: []string{"local_notes"},
		},
		"Site": {
			System: []string{"account_id", "site_code__c", "owner", "created_by", "last_modified_by", "record_type", "relevant_team"},
			RoleEditable: map[string][]string{
				"dispatcher":   {"shift_time__c", "service_days__c"},
				"site_manager": {"capacity__c"},
			},
			Bidirectional: []string{"name", "address__c"},
			LocalOnly:     []string{"local_notes"},
		},
	}
}
