package repository

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/guregu/null/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func toPgUUID(id uuid.NullUUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id.UUID, Valid: id.Valid}
}

func fromPgUUID(id pgtype.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: uuid.UUID(id.Bytes), Valid: id.Valid}
}

func toPgInt4(v null.Int) pgtype.Int4 {
	return pgtype.Int4{Int32: int32(v.Int64), Valid: v.Valid}
}

func fromPgInt4(v pgtype.Int4) null.Int {
	return null.NewInt(int64(v.Int32), v.Valid)
}

// marshalJSON encodes v for a JSONB column. A nil value stays NULL.
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return payload, nil
}

func unmarshalJSON(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}
