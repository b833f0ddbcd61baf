package entity

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docintake/constants"
)

// Job represents one submitted document for data transfer between layers.
type Job struct {
	ID               int64               `json:"id"`
	Filename         string              `json:"filename"`
	OriginalFilename string              `json:"original_filename"`
	Checksum         *string             `json:"checksum,omitempty"`
	Filepath         string              `json:"filepath"`
	Status           constants.JobStatus `json:"status"`
	Retries          int                 `json:"retries"`
	ExtractedText    *string             `json:"extracted_text,omitempty"`
	Fields           Fields              `json:"fields"`
	OwnerID          uuid.UUID           `json:"owner_id"`
	GroupID          *uuid.UUID          `json:"group_id,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Kind resolves the extraction strategy from the stored filename.
func (j *Job) Kind() constants.DocumentKind {
	return constants.KindForExt(filepath.Ext(j.Filename))
}

// Fields holds the structured values parsed from a document's text.
// Every field is optional; nil means the label was not found.
type Fields struct {
	Name           *string     `json:"name,omitempty"`
	RegistrationID *string     `json:"registration_id,omitempty"`
	Role           *string     `json:"role,omitempty"`
	Employer       *string     `json:"employer,omitempty"`
	NationalIDA    *string     `json:"national_id_a,omitempty"`
	NationalIDB    *string     `json:"national_id_b,omitempty"`
	Equipment      []Equipment `json:"equipment,omitempty"`
	AssetTags      []string    `json:"asset_tags,omitempty"`
	SerialTags     []string    `json:"serial_tags,omitempty"`
	DocumentDate   *string     `json:"document_date,omitempty"`
}

// Equipment is one line of an equipment list.
type Equipment struct {
	Name     string  `json:"name"`
	Serial   *string `json:"serial,omitempty"`
	AssetTag *string `json:"asset_tag,omitempty"`
}

// Outcome is the final state of one processing attempt, as committed by a
// worker and re-applied by the result consumer.
type Outcome struct {
	JobID          int64
	Status         constants.JobStatus
	Filepath       string
	Retries        int
	ClaimedRetries int // retries on the row when this attempt claimed it
	ExtractedText  *string
	Fields         *Fields
}

