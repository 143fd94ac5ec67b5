package fields

import (
	"fmt"

	"github.com/mhollis/crmport/pkg/validator"
)

// For returns the importable field schema for a target entity type.
func For(entityType string) (Set, error) {
	defs, ok := builtin[entityType]
	if !ok {
		return Set{}, fmt.Errorf("no importable field schema for entity type %q", entityType)
	}
	return NewSet(entityType, defs)
}

// EntityTypes lists the entity types with a registered schema.
func EntityTypes() []string {
	return []string{"companies", "people"}
}

var builtin = map[string][]Definition{
	"companies": {
		{
			Key: "name", Label: "Name", Required: true, Identity: true,
			Aliases: []string{"company", "company name", "organisation", "organization", "account"},
			Config:  validator.FieldConfig{Kind: validator.KindText, MaxLength: 255},
		},
		{
			Key: "emails", Label: "Email Addresses", Lookup: true,
			Aliases: []string{"email", "e-mail", "email address", "emails", "contact email"},
			Config:  validator.FieldConfig{Kind: validator.KindMultiValue, TokenKind: validator.TokenEmail},
		},
		{
			Key: "phones", Label: "Phone Numbers",
			Aliases: []string{"phone", "telephone", "phone number", "mobile"},
			Config:  validator.FieldConfig{Kind: validator.KindMultiValue, TokenKind: validator.TokenPhone},
		},
		{
			Key: "websites", Label: "Websites",
			Aliases: []string{"website", "url", "homepage", "web"},
			Config:  validator.FieldConfig{Kind: validator.KindMultiValue, TokenKind: validator.TokenURL},
		},
		{
			Key: "industry", Label: "Industry",
			Aliases: []string{"sector", "vertical"},
			Config: validator.FieldConfig{Kind: validator.KindChoice, Options: []string{
				"Technology", "Manufacturing", "Healthcare", "Finance", "Retail",
				"Education", "Construction", "Hospitality", "Other",
			}},
		},
		{
			Key: "employees", Label: "Employees",
			Aliases: []string{"headcount", "staff", "employee count", "size"},
			Config:  validator.FieldConfig{Kind: validator.KindNumber, NumberFormat: validator.PointFormat},
		},
		{
			Key: "founded_on", Label: "Founded On",
			Aliases: []string{"founded", "founding date", "established"},
			Config:  validator.FieldConfig{Kind: validator.KindDate, DateFamily: validator.DateFamilyISO},
		},
		{
			Key: "tags", Label: "Tags",
			Aliases: []string{"labels", "categories"},
			Config:  validator.FieldConfig{Kind: validator.KindMultiValue, TokenKind: validator.TokenTag},
		},
	},
	"people": {
		{
			Key: "name", Label: "Full Name", Required: true, Identity: true,
			Aliases: []string{"full name", "contact", "contact name", "person"},
			Config:  validator.FieldConfig{Kind: validator.KindText, MaxLength: 255},
		},
		{
			Key: "emails", Label: "Email Addresses", Required: true, Lookup: true,
			Aliases: []string{"email", "e-mail", "email address", "emails"},
			Config:  validator.FieldConfig{Kind: validator.KindMultiValue, TokenKind: validator.TokenEmail},
		},
		{
			Key: "phones", Label: "Phone Numbers",
			Aliases: []string{"phone", "telephone", "mobile", "cell"},
			Config:  validator.FieldConfig{Kind: validator.KindMultiValue, TokenKind: validator.TokenPhone},
		},
		{
			Key: "title", Label: "Job Title",
			Aliases: []string{"job title", "position", "role"},
			Config:  validator.FieldConfig{Kind: validator.KindText, MaxLength: 255},
		},
		{
			Key: "company", Label: "Company", Relationship: true,
			Aliases: []string{"company name", "organisation", "organization", "employer", "account"},
			Config:  validator.FieldConfig{Kind: validator.KindRelationship},
		},
		{
			Key: "lead_status", Label: "Lead Status",
			Aliases: []string{"status", "stage"},
			Config: validator.FieldConfig{Kind: validator.KindChoice, Options: []string{
				"New", "Contacted", "Qualified", "Customer", "Churned",
			}},
		},
		{
			Key: "birthdate", Label: "Birthdate",
			Aliases: []string{"date of birth", "dob", "born"},
			Config:  validator.FieldConfig{Kind: validator.KindDate, DateFamily: validator.DateFamilyEuropean},
		},
	},
}
