package store

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/baldanca/petition-preprocessor/queue"
	"github.com/baldanca/petition-preprocessor/sanitizer"
	"github.com/baldanca/petition-preprocessor/schema"
)

// Row models map one-to-one to the insertable columns of each schema table.
// Nil pointers are written as NULL. The generated id is left to the database.

type signaturePendingRow struct {
	bun.BaseModel `bun:"table:signatures_pending"`

	SecretValidationKey string     `bun:"secret_validation_key,notnull"`
	PetitionID          *int64     `bun:"petition_id"`
	Email               *string    `bun:"email"`
	FirstName           *string    `bun:"first_name"`
	LastName            *string    `bun:"last_name"`
	Zip                 *string    `bun:"zip"`
	Country             *string    `bun:"country"`
	Source              *string    `bun:"source"`
	IPAddress           *string    `bun:"ip_address"`
	UserAgent           *string    `bun:"user_agent"`
	SignedAt            *time.Time `bun:"signed_at"`
}

type signatureValidationRow struct {
	bun.BaseModel `bun:"table:signature_validations"`

	SecretValidationKey string     `bun:"secret_validation_key,notnull"`
	PetitionID          *int64     `bun:"petition_id"`
	SignatureID         *int64     `bun:"signature_id"`
	Email               *string    `bun:"email"`
	FirstName           *string    `bun:"first_name"`
	LastName            *string    `bun:"last_name"`
	Zip                 *string    `bun:"zip"`
	Source              *string    `bun:"source"`
	IPAddress           *string    `bun:"ip_address"`
	ValidatedAt         *time.Time `bun:"validated_at"`
	ValidationClose     *time.Time `bun:"validation_close"`
}

// rowModel converts rows into the slice model bun inserts for table.
func rowModel(table schema.Table, rows []map[string]any) (any, error) {
	for i, r := range rows {
		if key, _ := r[queue.KeyField].(string); key == "" {
			return nil, fmt.Errorf("row %d: %s is required", i, queue.KeyField)
		}
	}

	switch table {
	case schema.SignaturesPending:
		out := make([]signaturePendingRow, len(rows))
		for i, r := range rows {
			out[i] = signaturePendingRow{
				SecretValidationKey: r[queue.KeyField].(string),
				PetitionID:          intCol(r["petition_id"]),
				Email:               textCol(r["email"]),
				FirstName:           textCol(r["first_name"]),
				LastName:            textCol(r["last_name"]),
				Zip:                 textCol(r["zip"]),
				Country:             textCol(r["country"]),
				Source:              textCol(r["source"]),
				IPAddress:           textCol(r["ip_address"]),
				UserAgent:           textCol(r["user_agent"]),
				SignedAt:            timeCol(r["signed_at"]),
			}
		}
		return &out, nil
	case schema.SignatureValidations:
		out := make([]signatureValidationRow, len(rows))
		for i, r := range rows {
			out[i] = signatureValidationRow{
				SecretValidationKey: r[queue.KeyField].(string),
				PetitionID:          intCol(r["petition_id"]),
				SignatureID:         intCol(r["signature_id"]),
				Email:               textCol(r["email"]),
				FirstName:           textCol(r["first_name"]),
				LastName:            textCol(r["last_name"]),
				Zip:                 textCol(r["zip"]),
				Source:              textCol(r["source"]),
				IPAddress:           textCol(r["ip_address"]),
				ValidatedAt:         timeCol(r["validated_at"]),
				ValidationClose:     timeCol(r["validation_close"]),
			}
		}
		return &out, nil
	default:
		return nil, fmt.Errorf("no row model for table %s", table)
	}
}

func textCol(v any) *string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return &x
	default:
		s := fmt.Sprint(x)
		return &s
	}
}

func intCol(v any) *int64 {
	if v == nil {
		return nil
	}
	n := sanitizer.Integer(v)
	return &n
}

// timeCol keeps parseable timestamps; anything else is stored as NULL.
func timeCol(v any) *time.Time {
	switch x := sanitizer.Timestamp(v).(type) {
	case time.Time:
		return &x
	default:
		return nil
	}
}
