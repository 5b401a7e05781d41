package greeter

import (
	"database/sql"
	"time"

	"github.com/RezaEskandarii/notifire/internal/record"
	"github.com/RezaEskandarii/notifire/internal/record/postgres"
)

// Recipient is a row of the users table.
type Recipient struct {
	EntityID   string
	FirstName  string
	LastName   string
	Location   string
	BirthDate  time.Time
	EditedDate time.Time
}

func (r Recipient) Key() record.Cursor {
	return record.Cursor{OrderKey: r.EditedDate, ID: r.EntityID}
}

// UsersTable is the relation the greeter scans, ordered by edit time.
var UsersTable = postgres.Table{
	Name:        "users",
	IDColumn:    "entity_id",
	OrderColumn: "edited_date",
	Columns:     []string{"entity_id", "first_name", "last_name", "location", "birth_date", "edited_date"},
}

// ScanRecipient reads the UsersTable columns in order.
func ScanRecipient(row postgres.Scanner) (Recipient, error) {
	var r Recipient
	var lastName sql.NullString
	if err := row.Scan(&r.EntityID, &r.FirstName, &lastName, &r.Location, &r.BirthDate, &r.EditedDate); err != nil {
		return Recipient{}, err
	}
	r.LastName = lastName.String
	return r, nil
}
