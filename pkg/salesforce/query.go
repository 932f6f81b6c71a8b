package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Account is a Salesforce Account record.
type Account struct {
	ID                string `json:"Id" salesforce:"Id"`
	Name              string `json:"Name" salesforce:"Name"`
	Website           string `json:"Website" salesforce:"Website"`
	Industry          string `json:"Industry" salesforce:"Industry"`
	Description       string `json:"Description" salesforce:"Description"`
	BillingCity       string `json:"BillingCity" salesforce:"BillingCity"`
	BillingState      string `json:"BillingState" salesforce:"BillingState"`
	Phone             string `json:"Phone" salesforce:"Phone"`
	NumberOfEmployees int    `json:"NumberOfEmployees" salesforce:"NumberOfEmployees"`
}

var accountFields = []string{
	"Id", "Name", "Website", "Industry", "Description",
	"BillingCity", "BillingState", "Phone", "NumberOfEmployees",
}

// ListAccounts returns Accounts matching the SOQL where clause, newest
// first. An empty where selects every Account; limit <= 0 means no limit.
func ListAccounts(ctx context.Context, c Client, where string, limit int) ([]Account, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM Account", strings.Join(accountFields, ", "))
	if where = strings.TrimSpace(where); where != "" {
		b.WriteString(" WHERE " + where)
	}
	b.WriteString(" ORDER BY CreatedDate DESC")
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}

	var accounts []Account
	if err := c.Query(ctx, b.String(), &accounts); err != nil {
		return nil, eris.Wrap(err, "sf: list accounts")
	}
	return accounts, nil
}

// AccountsByWebsite builds a where clause matching any of the given domains.
func AccountsByWebsite(domains ...string) string {
	clauses := make([]string, 0, len(domains))
	for _, d := range domains {
		clauses = append(clauses, fmt.Sprintf("Website LIKE '%%%s%%'", escapeSoql(d)))
	}
	return strings.Join(clauses, " OR ")
}

// escapeSoql escapes single quotes in SOQL string literals.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
