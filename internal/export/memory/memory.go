// Package memory is an in-process report writer for tests and local
// runs without Google credentials.
package memory

import (
	"context"
	"fmt"
	"sync"

	"tripledger/internal/export"
)

type Store struct {
	mu      sync.Mutex
	reports []export.TripReport
}

var _ export.ReportWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// WriteReport stores the report and returns a synthetic reference.
func (s *Store) WriteReport(_ context.Context, report export.TripReport) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return fmt.Sprintf("mem:%s:%d", report.TripID, len(s.reports)), nil
}

// Reports returns a copy of everything written so far.
func (s *Store) Reports() []export.TripReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]export.TripReport(nil), s.reports...)
}
