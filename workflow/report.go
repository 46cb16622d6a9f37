package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrReportNotFound is returned by report stores for unknown run ids.
var ErrReportNotFound = errors.New("run report not found")

// NodeResult records what happened to one node during a run.
type NodeResult struct {
	ID       string        `json:"id"`
	Status   NodeStatus    `json:"status"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	CacheHit bool          `json:"cache_hit"`
	Error    string        `json:"error,omitempty"`
	Output   string        `json:"output,omitempty"`
}

// RunReport is the outcome of one run. NodeResults lists every node of the
// graph in declaration order.
type RunReport struct {
	RunID          string         `json:"run_id"`
	Graph          string         `json:"graph"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
	FinalState     RunState       `json:"final_state"`
	NodeResults    []NodeResult   `json:"node_results"`
	ExecutionOrder []string       `json:"execution_order"`
	SharedState    map[string]any `json:"shared_state,omitempty"`
}

// Summary counts node outcomes of a run.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Pending   int `json:"pending"`
	CacheHits int `json:"cache_hits"`
	Attempts  int `json:"attempts"`
}

// Summary aggregates the node results.
func (r *RunReport) Summary() Summary {
	s := Summary{Total: len(r.NodeResults)}
	for _, nr := range r.NodeResults {
		switch nr.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Pending++
		}
		if nr.CacheHit {
			s.CacheHits++
		}
		s.Attempts += nr.Attempts
	}
	return s
}

// Result returns the result recorded for node id.
func (r *RunReport) Result(id string) (NodeResult, bool) {
	for _, nr := range r.NodeResults {
		if nr.ID == id {
			return nr, true
		}
	}
	return NodeResult{}, false
}

// Output returns the output of a succeeded node.
func (r *RunReport) Output(id string) (string, bool) {
	nr, ok := r.Result(id)
	if !ok || nr.Status != StatusSucceeded {
		return "", false
	}
	return nr.Output, true
}

// Duration is the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// ReportStore persists run reports.
type ReportStore interface {
	Save(ctx context.Context, report *RunReport) error
	Get(ctx context.Context, runID string) (*RunReport, error)
	ListByGraph(ctx context.Context, graph string, limit int) ([]*RunReport, error)
	ListByState(ctx context.Context, state RunState, limit int) ([]*RunReport, error)
}

// MemoryReportStore keeps reports in process.
type MemoryReportStore struct {
	reports map[string]*RunReport
	mu      sync.RWMutex
}

// NewMemoryReportStore creates an empty in-memory store.
func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{reports: make(map[string]*RunReport)}
}

func (s *MemoryReportStore) Save(_ context.Context, report *RunReport) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("report without run id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.RunID] = report
	return nil
}

func (s *MemoryReportStore) Get(_ context.Context, runID string) (*RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[runID]
	if !ok {
		return nil, ErrReportNotFound
	}
	return r, nil
}

func (s *MemoryReportStore) ListByGraph(_ context.Context, graph string, limit int) ([]*RunReport, error) {
	return s.list(func(r *RunReport) bool { return r.Graph == graph }, limit), nil
}

func (s *MemoryReportStore) ListByState(_ context.Context, state RunState, limit int) ([]*RunReport, error) {
	return s.list(func(r *RunReport) bool { return r.FinalState == state }, limit), nil
}

// list 按开始时间倒序返回
func (s *MemoryReportStore) list(match func(*RunReport) bool, limit int) []*RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*RunReport
	for _, r := range s.reports {
		if match(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartedAt.After(result[j].StartedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// RunRecord is the database row behind SQLReportStore.
type RunRecord struct {
	RunID      string    `gorm:"column:run_id;primaryKey;size:64"`
	Graph      string    `gorm:"size:191;index"`
	FinalState string    `gorm:"size:32;index"`
	StartedAt  time.Time `gorm:"index"`
	EndedAt    time.Time
	Succeeded  int
	Failed     int
	Skipped    int
	Report     []byte
}

// TableName 指定表名
func (RunRecord) TableName() string { return "agentgraph_run_reports" }

// SQLReportStore persists reports through gorm.
type SQLReportStore struct {
	db *gorm.DB
}

// NewSQLReportStore migrates the reports table and returns a store.
func NewSQLReportStore(db *gorm.DB) (*SQLReportStore, error) {
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate run reports: %w", err)
	}
	return &SQLReportStore{db: db}, nil
}

func (s *SQLReportStore) Save(ctx context.Context, report *RunReport) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("report without run id")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	summary := report.Summary()
	rec := RunRecord{
		RunID:      report.RunID,
		Graph:      report.Graph,
		FinalState: string(report.FinalState),
		StartedAt:  report.StartedAt,
		EndedAt:    report.EndedAt,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
		Report:     data,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func (s *SQLReportStore) Get(ctx context.Context, runID string) (*RunReport, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(rec)
}

func (s *SQLReportStore) ListByGraph(ctx context.Context, graph string, limit int) ([]*RunReport, error) {
	return s.list(s.db.WithContext(ctx).Where("graph = ?", graph), limit)
}

func (s *SQLReportStore) ListByState(ctx context.Context, state RunState, limit int) ([]*RunReport, error) {
	return s.list(s.db.WithContext(ctx).Where("final_state = ?", string(state)), limit)
}

func (s *SQLReportStore) list(q *gorm.DB, limit int) ([]*RunReport, error) {
	q = q.Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []RunRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	reports := make([]*RunReport, 0, len(recs))
	for _, rec := range recs {
		r, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func decodeRecord(rec RunRecord) (*RunReport, error) {
	var r RunReport
	if err := json.Unmarshal(rec.Report, &r); err != nil {
		return nil, fmt.Errorf("decode run report %s: %w", rec.RunID, err)
	}
	return &r, nil
}
