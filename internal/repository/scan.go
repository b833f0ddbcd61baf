package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

var jobColumns = []string{
	"id", "filename", "original_filename", "checksum", "filepath", "status", "retries",
	"extracted_text", "name", "registration_id", "role", "employer",
	"national_id_a", "national_id_b", "equipment_json", "asset_tags_json", "serial_tags_json",
	"document_date", "owner_id", "group_id", "created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

// timeValue accepts the time representations returned by both drivers.
type timeValue struct{ t time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func (v *timeValue) Scan(src any) error {
	switch s := src.(type) {
	case time.Time:
		v.t = s
		return nil
	case nil:
		v.t = time.Time{}
		return nil
	case []byte:
		return v.parse(string(s))
	case string:
		return v.parse(s)
	case int64:
		v.t = time.Unix(s, 0).UTC()
		return nil
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (v *timeValue) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			v.t = t
			return nil
		}
	}
	return fmt.Errorf("unrecognised time %q", s)
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		j                                    entity.Job
		status, owner                        string
		checksum, text, group                sql.NullString
		name, reg, role, employer            sql.NullString
		idA, idB, date                       sql.NullString
		equipmentJSON, assetJSON, serialJSON sql.NullString
		created, updated                     timeValue
	)
	err := row.Scan(
		&j.ID, &j.Filename, &j.OriginalFilename, &checksum, &j.Filepath, &status, &j.Retries,
		&text, &name, &reg, &role, &employer,
		&idA, &idB, &equipmentJSON, &assetJSON, &serialJSON,
		&date, &owner, &group, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	st, ok := constants.ParseJobStatus(status)
	if !ok {
		return nil, fmt.Errorf("job %d: unknown status %q", j.ID, status)
	}
	j.Status = st
	j.Checksum = strPtr(checksum)
	j.ExtractedText = strPtr(text)
	j.CreatedAt = created.t
	j.UpdatedAt = updated.t

	if j.OwnerID, err = uuid.Parse(owner); err != nil {
		return nil, fmt.Errorf("job %d: owner_id: %w", j.ID, err)
	}
	if group.Valid && group.String != "" {
		g, err := uuid.Parse(group.String)
		if err != nil {
			return nil, fmt.Errorf("job %d: group_id: %w", j.ID, err)
		}
		j.GroupID = &g
	}

	j.Fields = entity.Fields{
		Name:           strPtr(name),
		RegistrationID: strPtr(reg),
		Role:           strPtr(role),
		Employer:       strPtr(employer),
		NationalIDA:    strPtr(idA),
		NationalIDB:    strPtr(idB),
		DocumentDate:   strPtr(date),
	}
	if err := decodeList(equipmentJSON, &j.Fields.Equipment); err != nil {
		return nil, fmt.Errorf("job %d: equipment_json: %w", j.ID, err)
	}
	if err := decodeList(assetJSON, &j.Fields.AssetTags); err != nil {
		return nil, fmt.Errorf("job %d: asset_tags_json: %w", j.ID, err)
	}
	if err := decodeList(serialJSON, &j.Fields.SerialTags); err != nil {
		return nil, fmt.Errorf("job %d: serial_tags_json: %w", j.ID, err)
	}
	return &j, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func decodeList[T any](ns sql.NullString, dst *[]T) error {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

// nullable converts an optional string into a driver value.
func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func encodeList[T any](list []T) (any, error) {
	if len(list) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type columnValue struct {
	column string
	value  any
}

// outcomeColumns lists every column a finished attempt overwrites. Absent
// fields become NULL so a re-applied result replaces lists wholesale.
func outcomeColumns(out entity.Outcome) ([]columnValue, error) {
	f := out.Fields
	if f == nil {
		f = &entity.Fields{}
	}
	equipment, err := encodeList(f.Equipment)
	if err != nil {
		return nil, err
	}
	assets, err := encodeList(f.AssetTags)
	if err != nil {
		return nil, err
	}
	serials, err := encodeList(f.SerialTags)
	if err != nil {
		return nil, err
	}
	return []columnValue{
		{"status", string(out.Status)},
		{"retries", out.Retries},
		{"filepath", out.Filepath},
		{"extracted_text", nullable(out.ExtractedText)},
		{"name", nullable(f.Name)},
		{"registration_id", nullable(f.RegistrationID)},
		{"role", nullable(f.Role)},
		{"employer", nullable(f.Employer)},
		{"national_id_a", nullable(f.NationalIDA)},
		{"national_id_b", nullable(f.NationalIDB)},
		{"equipment_json", equipment},
		{"asset_tags_json", assets},
		{"serial_tags_json", serials},
		{"document_date", nullable(f.DocumentDate)},
	}, nil
}
