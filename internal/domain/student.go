package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaceholderFirstName is used for identities provisioned during an import.
const PlaceholderFirstName = "Estudiante"

// Student is the identity that academic records belong to.
type Student struct {
	ID             uuid.UUID
	DocumentNumber string
	FirstName      string
	LastName       string
	Email          string
	ProvisionedBy  uuid.NullUUID
	CreatedAt      time.Time
}

// NewProvisionedStudent creates a placeholder identity owned by batchID.
func NewProvisionedStudent(document, firstName, lastName, email, emailDomain string, batchID uuid.UUID, now time.Time) Student {
	if firstName == "" {
		firstName = PlaceholderFirstName
	}
	if lastName == "" {
		lastName = document
	}
	if email == "" {
		email = PlaceholderEmail(document, emailDomain)
	}
	return Student{
		ID:             uuid.New(),
		DocumentNumber: document,
		FirstName:      firstName,
		LastName:       lastName,
		Email:          email,
		ProvisionedBy:  uuid.NullUUID{UUID: batchID, Valid: true},
		CreatedAt:      now,
	}
}

// PlaceholderEmail builds <id>@<domain> in lower case.
func PlaceholderEmail(document, emailDomain string) string {
	return strings.ToLower(fmt.Sprintf("%s@%s", document, emailDomain))
}
