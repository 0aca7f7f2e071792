package task

import "time"

// DocumentVersion is the only document layout this build reads and writes.
const DocumentVersion = 1

// Document is the versioned JSON layout shared by export/import and the
// flat-file store.
type Document struct {
	Version   int               `json:"version"`
	Generator string            `json:"generator,omitempty"`
	Timezone  string            `json:"timezone,omitempty"`
	Tasks     []*ScheduledTask  `json:"tasks"`
	Settings  map[string]string `json:"settings,omitempty"`
	SavedAt   time.Time         `json:"savedAt"`
}
