package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// DefaultContactName is used when a contact row carries no name column.
const DefaultContactName = "Valued Customer"

// Contact is one parsed enrollment row.
type Contact struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
}

// ParseContactsCSV reads an enrollment upload. The first row is a header;
// column names are matched case-insensitively and only "email" is required.
// Rows without an email fail the whole upload so a half-enrolled campaign
// never starts.
func ParseContactsCSV(r io.Reader) ([]Contact, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrNoContacts
		}

		return nil, fmt.Errorf("failed to read contact header: %w", err)
	}

	nameCol, emailCol := -1, -1

	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "name", "full_name":
			nameCol = i
		case "email", "email_address":
			emailCol = i
		}
	}

	if emailCol < 0 {
		return nil, NewValidationError("ParseContactsCSV", "MISSING_EMAIL_COLUMN",
			"contact file has no email column", ErrContactEmailMissing)
	}

	var contacts []Contact

	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read contact row %d: %w", row, err)
		}

		email := ""
		if emailCol < len(record) {
			email = strings.TrimSpace(record[emailCol])
		}

		if email == "" {
			return nil, NewValidationError("ParseContactsCSV", "MISSING_EMAIL",
				fmt.Sprintf("row %d has no email", row), ErrContactEmailMissing)
		}

		name := ""
		if nameCol >= 0 && nameCol < len(record) {
			name = strings.TrimSpace(record[nameCol])
		}

		if name == "" {
			name = DefaultContactName
		}

		contacts = append(contacts, Contact{Name: name, Email: email})
	}

	if len(contacts) == 0 {
		return nil, ErrNoContacts
	}

	return contacts, nil
}
