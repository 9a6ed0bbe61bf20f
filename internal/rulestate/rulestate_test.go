package rulestate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var target = Target{Profile: "Transmission", Port: 51413, Proto: "tcp"}

func TestParseFirewallState(t *testing.T) {
	tests := []struct {
		name    string
		listing string
		want    FirewallState
	}{
		{"active", "Status: active\n", FirewallActive},
		{"inactive", "Status: inactive\n", FirewallInactive},
		{"active with rules", "Status: active\n\nTo  Action  From\n--  ------  ----\n51413  ALLOW  Anywhere\n", FirewallActive},
		{"no status line", "51413 ALLOW Anywhere\n", FirewallInactive},
		{"malformed status", "Status: wedged\n", FirewallInactive},
		{"empty", "", FirewallInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFirewallState(tt.listing))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		listing string
		want    RuleState
	}{
		{
			name:    "port pair is allow",
			listing: "Status: active\n\n51413 ALLOW Anywhere\n51413 (v6) ALLOW Anywhere\n",
			want:    Allow,
		},
		{
			name:    "profile pair is allow",
			listing: "Status: active\n\nTransmission ALLOW Anywhere\nTransmission (v6) ALLOW Anywhere\n",
			want:    Allow,
		},
		{
			name:    "no rules is deny",
			listing: "Status: active\n\nTo  Action  From\n",
			want:    Deny,
		},
		{
			name:    "single profile line is partial not allow",
			listing: "Status: active\n\nTransmission ALLOW Anywhere\n",
			want:    Partial,
		},
		{
			name:    "single port line is partial",
			listing: "Status: active\n\n51413 ALLOW Anywhere\n",
			want:    Partial,
		},
		{
			name:    "mixed profile and port is partial",
			listing: "Status: active\n\nTransmission ALLOW Anywhere\nTransmission (v6) ALLOW Anywhere\n51413 ALLOW Anywhere\n51413 (v6) ALLOW Anywhere\n",
			want:    Partial,
		},
		{
			name:    "duplicate rules are partial",
			listing: "Status: active\n\n51413 ALLOW Anywhere\n51413 (v6) ALLOW Anywhere\n51413 ALLOW Anywhere\n",
			want:    Partial,
		},
		{
			name:    "inactive wins regardless of rule lines",
			listing: "Status: inactive\n\n51413 ALLOW Anywhere\n51413 (v6) ALLOW Anywhere\n",
			want:    Inactive,
		},
		{
			name:    "unrelated rules are deny",
			listing: "Status: active\n\n22/tcp ALLOW Anywhere\nOpenSSH ALLOW Anywhere\n",
			want:    Deny,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.listing, target))
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	listing := "Status: active\n\n51413 ALLOW Anywhere\n"

	first := Classify(listing, target)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(listing, target))
	}
}

func TestMatchingIndexes(t *testing.T) {
	numbered := `Status: active

     To                         Action      From
     --                         ------      ----
[ 1] 22/tcp                     ALLOW IN    Anywhere
[ 3] 51413                      ALLOW IN    Anywhere
[ 7] Transmission               ALLOW IN    Anywhere
[ 9] 51413 (v6)                 ALLOW IN    Anywhere (v6)
[10] 8080                       ALLOW IN    Anywhere
`

	assert.Equal(t, []int{3, 7, 9}, MatchingIndexes(numbered, target))
}

func TestMatchingIndexesNoMatches(t *testing.T) {
	numbered := "Status: active\n[ 1] 22/tcp ALLOW IN Anywhere\n"

	assert.Empty(t, MatchingIndexes(numbered, target))
}

func TestRuleStateString(t *testing.T) {
	assert.Equal(t, "ALLOW", Allow.String())
	assert.Equal(t, "DENY", Deny.String())
	assert.Equal(t, "PARTIAL", Partial.String())
	assert.Equal(t, "INACTIVE", Inactive.String())
	assert.Equal(t, "UNKNOWN", Unknown.String())
}
