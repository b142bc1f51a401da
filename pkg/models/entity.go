package models

import "time"

// Entity is a Result Store row. Fields hold opaque serialized values the store never interprets.
// Timestamp is the recency key supplied by the writer, so repeated upserts of the same
// entity leave the store unchanged.
type Entity struct {
	PartitionKey string            `json:"partition_key" validate:"required"`
	RowKey       string            `json:"row_key"       validate:"required"`
	Fields       map[string]string `json:"fields"`
	Timestamp    time.Time         `json:"timestamp"`
}
