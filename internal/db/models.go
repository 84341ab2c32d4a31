package db

import (
	"encoding/json"
	"time"
)

// Violation maps vigil.violations.
type Violation struct {
	ViolationID    int64           `gorm:"column:violation_id;primaryKey;autoIncrement"`
	ViolationUUID  string          `gorm:"column:violation_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Type           string          `gorm:"column:type;type:text;not null"`
	OccurredOn     time.Time       `gorm:"column:occurred_on;type:date;not null"`
	ReportedAt     *time.Time      `gorm:"column:reported_at;type:timestamptz"`
	LocationName   json.RawMessage `gorm:"column:location_name;type:jsonb;not null;default:'{}'"`
	AdminDivision  json.RawMessage `gorm:"column:admin_division;type:jsonb;not null;default:'{}'"`
	Longitude      *float64        `gorm:"column:longitude;type:double precision"`
	Latitude       *float64        `gorm:"column:latitude;type:double precision"`
	GeocodeQuality *float64        `gorm:"column:geocode_quality;type:double precision"`
	Description    json.RawMessage `gorm:"column:description;type:jsonb;not null;default:'{}'"`
	Perpetrator    *string         `gorm:"column:perpetrator;type:text"`
	Certainty      string          `gorm:"column:certainty;type:text;not null;default:possible"`
	Verified       bool            `gorm:"column:verified;type:boolean;not null;default:false"`
	Casualties     int             `gorm:"column:casualties;type:integer;not null;default:0"`
	InjuredCount   int             `gorm:"column:injured_count;type:integer;not null;default:0"`
	KidnappedCount int             `gorm:"column:kidnapped_count;type:integer;not null;default:0"`
	DetainedCount  int             `gorm:"column:detained_count;type:integer;not null;default:0"`
	DisplacedCount int             `gorm:"column:displaced_count;type:integer;not null;default:0"`
	DedupKey       []byte          `gorm:"column:dedup_key;type:bytea"`
	Source         *string         `gorm:"column:source;type:text"`
	MergeCount     int             `gorm:"column:merge_count;type:integer;not null;default:0"`
	CreatedBy      string          `gorm:"column:created_by;type:text;not null;default:system"`
	UpdatedBy      string          `gorm:"column:updated_by;type:text;not null;default:system"`
	DeletedAt      *time.Time      `gorm:"column:deleted_at;type:timestamptz"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Violation) TableName() string { return "vigil.violations" }

// Report maps vigil.reports.
type Report struct {
	ReportID        int64           `gorm:"column:report_id;primaryKey;autoIncrement"`
	ReportUUID      string          `gorm:"column:report_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SourceChannel   string          `gorm:"column:source_channel;type:text;not null;uniqueIndex:uq_reports_source_message"`
	SourceMessageID string          `gorm:"column:source_message_id;type:text;not null;uniqueIndex:uq_reports_source_message"`
	SourceURL       *string         `gorm:"column:source_url;type:text"`
	Text            string          `gorm:"column:text;type:text;not null"`
	Language        string          `gorm:"column:language;type:text;not null;default:und"`
	PostedAt        *time.Time      `gorm:"column:posted_at;type:timestamptz"`
	Status          string          `gorm:"column:status;type:text;not null;default:unprocessed"`
	Attempts        int             `gorm:"column:attempts;type:integer;not null;default:0"`
	LastError       *string         `gorm:"column:last_error;type:text"`
	StartedAt       *time.Time      `gorm:"column:started_at;type:timestamptz"`
	ExtractedAt     *time.Time      `gorm:"column:extracted_at;type:timestamptz"`
	ProcessingMS    *int64          `gorm:"column:processing_ms;type:bigint"`
	Metadata        json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt       time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Report) TableName() string { return "vigil.reports" }

// ReportViolation maps vigil.report_violations.
type ReportViolation struct {
	ReportID            int64     `gorm:"column:report_id;type:bigint;primaryKey"`
	ViolationID         int64     `gorm:"column:violation_id;type:bigint;primaryKey"`
	ReportViolationUUID string    `gorm:"column:report_violation_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Position            int       `gorm:"column:position;type:integer;not null;default:1"`
	LinkedAt            time.Time `gorm:"column:linked_at;type:timestamptz;not null;default:now()"`
}

func (ReportViolation) TableName() string { return "vigil.report_violations" }

// MergeEvent maps vigil.merge_events.
type MergeEvent struct {
	MergeEventID   int64           `gorm:"column:merge_event_id;primaryKey;autoIncrement"`
	MergeEventUUID string          `gorm:"column:merge_event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	ViolationID    int64           `gorm:"column:violation_id;type:bigint;not null"`
	ReportID       *int64          `gorm:"column:report_id;type:bigint"`
	Similarity     *float64        `gorm:"column:similarity;type:double precision"`
	Signal         string          `gorm:"column:signal;type:text;not null;default:text_similarity"`
	ExactMatch     bool            `gorm:"column:exact_match;type:boolean;not null;default:false"`
	MergedBy       string          `gorm:"column:merged_by;type:text;not null;default:system"`
	MatchDetails   json.RawMessage `gorm:"column:match_details;type:jsonb"`
	MergedFields   json.RawMessage `gorm:"column:merged_fields;type:jsonb"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (MergeEvent) TableName() string { return "vigil.merge_events" }

func autoMigrateModels() []any {
	return []any{
		&Violation{},
		&Report{},
		&ReportViolation{},
		&MergeEvent{},
	}
}
