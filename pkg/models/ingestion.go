package models

// IngestionOutcome summarizes the raw ingestion step of one run.
type IngestionOutcome struct {
	Configured int              `json:"configured"`
	Loaded     int              `json:"loaded"`
	Rows       map[Entity]int64 `json:"rows,omitempty"`
	Skipped    []Entity         `json:"skipped,omitempty"`
}

func NewIngestionOutcome(configured int) *IngestionOutcome {
	return &IngestionOutcome{
		Configured: configured,
		Rows:       make(map[Entity]int64),
	}
}

func (o *IngestionOutcome) RecordLoaded(entity Entity, rows int64) {
	o.Loaded++
	o.Rows[entity] = rows
}

func (o *IngestionOutcome) RecordSkipped(entity Entity) {
	o.Skipped = append(o.Skipped, entity)
}
