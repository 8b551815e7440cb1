package archive

import (
	"fmt"
	"time"
)

// provenanceLogName is the record log holding the write-session history.
const provenanceLogName = "records"

// provenanceVersionAttr marks the record field layout; bump when fields are
// added or reordered.
const provenanceVersion = "1.0"

// ProvenanceRecord describes one write session appended to the archive: who
// ran what, with which build, and when.
type ProvenanceRecord struct {
	CommandLine    string
	ProgramVersion string
	Time           time.Time
	Comment        string
}

// appendProvenance appends one record to the provenance log. The timestamp
// is UTC so archives moved between machines stay comparable.
func (a *Archive) appendProvenance(comment string) error {
	g, err := a.cont.EnsureGroup(provenanceGroup)
	if err != nil {
		return err
	}
	if err := g.SetAttr(versionAttr, provenanceVersion); err != nil {
		return err
	}

	fields := []string{
		commandLine(),
		a.CreatorProgramVersion(),
		time.Now().UTC().Format(time.RFC3339),
		comment,
	}

	return g.AppendLogRecord(provenanceLogName, fields)
}

// Provenance returns the archive's full write-session history, oldest first.
// An archive with no recorded sessions yields an empty slice.
func (a *Archive) Provenance() ([]ProvenanceRecord, error) {
	g, err := a.cont.OpenGroup(provenanceGroup)
	if err != nil {
		return nil, nil
	}
	rows, err := g.ReadLogRecords(provenanceLogName)
	if err != nil {
		return nil, err
	}

	records := make([]ProvenanceRecord, 0, len(rows))
	for i, row := range rows {
		if len(row) != 4 {
			return nil, fmt.Errorf("provenance record %d has %d fields, expected 4", i, len(row))
		}
		t, err := time.Parse(time.RFC3339, row[2])
		if err != nil {
			return nil, fmt.Errorf("provenance record %d: %w", i, err)
		}
		records = append(records, ProvenanceRecord{
			CommandLine:    row[0],
			ProgramVersion: row[1],
			Time:           t,
			Comment:        row[3],
		})
	}

	return records, nil
}
