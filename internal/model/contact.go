// internal/model/contact.go
package model

// Contact is a prospect that can be enrolled into sequences.
type Contact struct {
	ID         int               `db:"id" json:"id"`
	TenantID   int               `db:"tenant_id" json:"tenant_id"`
	Email      string            `db:"email" json:"email"`
	FirstName  string            `db:"first_name" json:"first_name"`
	LastName   string            `db:"last_name" json:"last_name"`
	Company    string            `db:"company" json:"company"`
	Title      string            `db:"title" json:"title"`
	LinkedInID string            `db:"linkedin_id" json:"linkedin_id"`
	Attributes map[string]string `db:"attributes" json:"attributes,omitempty"`
}

// Fields returns the flat attribute map used for template placeholder
// resolution. Custom attributes never shadow the built-in fields.
func (c *Contact) Fields() map[string]string {
	fields := map[string]string{}
	for k, v := range c.Attributes {
		fields[k] = v
	}
	fields["email"] = c.Email
	fields["first_name"] = c.FirstName
	fields["last_name"] = c.LastName
	fields["company"] = c.Company
	fields["title"] = c.Title
	fields["linkedin_id"] = c.LinkedInID
	return fields
}

// RecipientRef returns the gateway recipient reference for a platform.
func (c *Contact) RecipientRef(p Platform) string {
	if p == PlatformEmail {
		return c.Email
	}
	return c.LinkedInID
}
