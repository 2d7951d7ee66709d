package models

// Schema is the ordered set of expected input fields for a deployment.
type Schema struct {
	// Fields are the canonical (normalized) field names, in record order.
	Fields []string `yaml:"fields" json:"fields"`
	// Identifier names the field used to label each artifact.
	Identifier string `yaml:"identifier" json:"identifier"`
}

// DefaultSchema returns the acknowledgement-of-receipt schema.
func DefaultSchema() Schema {
	return Schema{
		Fields: []string{
			"Date_Liq",
			"Matricule",
			"Identité_Allocataire",
			"Identité_Destinataire_bailleur",
			"Adresse_Ligne_2",
			"Adresse_Ligne_3",
			"Adresse_Ligne_4",
			"Adresse_Ligne_5",
			"Adresse_Ligne_6",
			"Adresse_Ligne_7",
		},
		Identifier: "Matricule",
	}
}
