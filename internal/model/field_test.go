package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    EnrichmentField
		wantErr bool
	}{
		{"company_name", FieldCompanyName, false},
		{"Company Domain", FieldCompanyDomain, false},
		{"person-email", FieldPersonEmail, false},
		{"  PERSON_TITLE ", FieldPersonTitle, false},
		{"company.linkedin_url", FieldCompanyLinkedInURL, false},
		{"revenue", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseField(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFieldPartitions(t *testing.T) {
	t.Parallel()

	company := CompanyFields()
	person := PersonFields()
	assert.Len(t, AllFields(), len(company)+len(person))

	for _, f := range company {
		assert.True(t, f.IsCompany(), f)
		assert.False(t, f.IsPerson(), f)
	}
	for _, f := range person {
		assert.True(t, f.IsPerson(), f)
		assert.False(t, f.IsCompany(), f)
	}
}

func TestAllFields_ReturnsCopy(t *testing.T) {
	t.Parallel()

	fields := AllFields()
	fields[0] = "mutated"
	assert.Equal(t, FieldCompanyName, AllFields()[0])
}
