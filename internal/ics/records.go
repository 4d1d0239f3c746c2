package ics

import (
	"encoding/json"
	"fmt"
	"os"

	"icssync/internal/fileutil"
	"icssync/internal/model"
)

// SaveRecords writes records as an indented JSON array.
func SaveRecords(path string, records []model.RawRecord) error {
	if records == nil {
		records = []model.RawRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err := fileutil.WriteAtomic(path, data); err != nil {
		return fmt.Errorf("write records %s: %w", path, err)
	}
	return nil
}

// LoadRecords reads a records file written by SaveRecords or by an external
// converter using the same field names.
func LoadRecords(path string) ([]model.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records %s: %w", path, err)
	}
	var records []model.RawRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse records %s: %w", path, err)
	}
	return records, nil
}
