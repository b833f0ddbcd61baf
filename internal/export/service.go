package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/repository"
)

// JobLister is the read side of the job store used by exports.
type JobLister interface {
	List(ctx context.Context, filter repository.ListFilter) ([]*entity.Job, error)
}

// Service produces XLSX workbooks of jobs and their parsed fields.
type Service struct {
	jobs   JobLister
	logger *slog.Logger
}

func NewService(jobs JobLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobs: jobs, logger: logger}
}

const sheet = "Jobs"

var headers = []string{
	"Job ID",
	"Status",
	"Original Filename",
	"Retries",
	"Name",
	"Registration",
	"Role",
	"Employer",
	"RG",
	"CPF",
	"Equipment",
	"Asset Tags",
	"Serials",
	"Document Date",
	"Location",
	"Updated At",
}

// ExportJobsXLSX returns a workbook (as bytes) with one row per job matching
// filter, newest first.
func (s *Service) ExportJobsXLSX(ctx context.Context, filter repository.ListFilter) ([]byte, error) {
	start := time.Now()

	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, j := range jobs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		fl := j.Fields
		write(1, j.ID)
		write(2, j.Status.String())
		write(3, j.OriginalFilename)
		write(4, j.Retries)
		write(5, deref(fl.Name))
		write(6, deref(fl.RegistrationID))
		write(7, deref(fl.Role))
		write(8, deref(fl.Employer))
		write(9, deref(fl.NationalIDA))
		write(10, deref(fl.NationalIDB))
		write(11, equipment(fl.Equipment))
		write(12, strings.Join(fl.AssetTags, ", "))
		write(13, strings.Join(fl.SerialTags, ", "))
		write(14, deref(fl.DocumentDate))
		write(15, j.Filepath)
		write(16, j.UpdatedAt.UTC().Format(time.RFC3339))
	}

	_ = f.SetColWidth(sheet, "A", "B", 12)
	_ = f.SetColWidth(sheet, "C", "C", 32)
	_ = f.SetColWidth(sheet, "E", "J", 22)
	_ = f.SetColWidth(sheet, "K", "K", 48)
	_ = f.SetColWidth(sheet, "O", "O", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"status", filter.Status,
		"rows", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func equipment(items []entity.Equipment) string {
	parts := make([]string, 0, len(items))
	for _, e := range items {
		p := e.Name
		if e.Serial != nil {
			p += " (IMEI " + *e.Serial + ")"
		}
		if e.AssetTag != nil {
			p += " [" + *e.AssetTag + "]"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "; ")
}
