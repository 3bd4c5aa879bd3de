package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name          string
		local, remote int64
		lv, rv        any
		want          Outcome
	}{
		{"local newer", 200, 100, "a", "b", LocalWins},
		{"remote newer", 100, 200, "a", "b", RemoteWins},
		{"tie", 100, 100, "a", "b", Tie},
		{"tie same value", 100, 100, "a", "a", Same},
		{"missing local time", 0, 100, "a", "b", Unknown},
		{"missing remote time", 100, 0, "a", "b", Unknown},
		{"bool vs int", 200, 100, true, int64(1), Same},
		{"number text", 200, 100, "12.5", 12.5, Same},
		{"trailing zero text", 200, 100, "12.50", 12.5, LocalWins},
		{"leading zero", 200, 100, "2134", "02134", LocalWins},
		{"leading plus", 200, 100, "15551234567", "+15551234567", LocalWins},
		{"long digit ids", 200, 100, "12345678901234567891", "12345678901234567890", LocalWins},
		{"long digit ids tie", 100, 100, "12345678901234567891", "12345678901234567890", Tie},
		{"null vs empty", 200, 100, nil, "", Same},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.local, tt.remote, tt.lv, tt.rv))
		})
	}
}

func TestPolicy_Direction(t *testing.T) {
	p := DefaultPolicies().For("Site")

	assert.Equal(t, RemoteToLocal, p.Direction("site_code__c", "dispatcher"))
	assert.Equal(t, RemoteToLocal, p.Direction("last_modified_time", "dispatcher"))
	assert.Equal(t, LocalToRemote, p.Direction("shift_time__c", "dispatcher"))
	assert.Equal(t, RemoteToLocal, p.Direction("shift_time__c", "site_manager"))
	assert.Equal(t, Bidirectional, p.Direction("name", "dispatcher"))
	assert.Equal(t, LocalOnly, p.Direction("local_notes", ""))
	assert.Equal(t, RemoteToLocal, p.Direction("unclassified__c", "dispatcher"))
}

func TestPolicy_Pullable(t *testing.T) {
	p := DefaultPolicies().For("Site")

	assert.True(t, p.Pullable("site_code__c"))
	assert.True(t, p.Pullable("name"))
	assert.True(t, p.Pullable("unclassified__c"))
	assert.False(t, p.Pullable("shift_time__c"))
	assert.False(t, p.Pullable("local_notes"))
	assert.True(t, Policies{}.For("Unknown").Pullable("anything"))
}
