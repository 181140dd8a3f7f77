package outbox

import "github.com/MayankBharati/solidtracker/internal/domain"

const timeEntryChangedSchema = `{
  "type": "object",
  "title": "TimeEntryChanged",
  "properties": {
    "time_entry_id": {"type": "string"},
    "employee_id": {"type": "string"},
    "project_id": {"type": "string"},
    "task_id": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "ended_at": {"type": "string", "format": "date-time"},
    "duration_seconds": {"type": "integer", "minimum": 0},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["time_entry_id", "employee_id", "project_id", "task_id", "started_at", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	string(domain.EventTimeEntryStarted):  {Schema: timeEntryChangedSchema},
	string(domain.EventTimeEntryStopped):  {Schema: timeEntryChangedSchema},
	string(domain.EventTimeEntryRecorded): {Schema: timeEntryChangedSchema},
	string(domain.EventTimeEntryUpdated):  {Schema: timeEntryChangedSchema},
}
