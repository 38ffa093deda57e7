package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/comanda-pos/api/internal/database"
	"github.com/comanda-pos/api/internal/enum"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const maxPointsPerKind = 500

var identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// PointStore defines the DB methods needed by the service point registry.
type PointStore interface {
	GetPointLayout(ctx context.Context, establishmentID uuid.UUID) (database.PointLayout, error)
	UpsertPointLayout(ctx context.Context, arg database.UpsertPointLayoutParams) (database.PointLayout, error)
	ListServicePointOverlay(ctx context.Context, establishmentID uuid.UUID) ([]database.ListServicePointOverlayRow, error)
	EnsureServicePoint(ctx context.Context, arg database.EnsureServicePointParams) (database.EnsureServicePointRow, error)
	SetServicePointStatus(ctx context.Context, arg database.SetServicePointStatusParams) (database.ServicePoint, error)
}

// NewPointStore creates a PointStore from a DBTX (pool or tx).
type NewPointStore func(db database.DBTX) PointStore

// Layout is the per-establishment point configuration.
type Layout struct {
	TablesEnabled bool
	TabsEnabled   bool
	TableCount    int
	TabCount      int
	TabPrefix     string
}

// DefaultLayout applies to establishments that never saved one.
func DefaultLayout() Layout {
	return Layout{
		TablesEnabled: true,
		TableCount:    10,
		TabsEnabled:   false,
		TabCount:      0,
		TabPrefix:     "Tab",
	}
}

// PointDescriptor is one addressable point implied by a layout.
type PointDescriptor struct {
	Identifier string
	Kind       string
	Number     int
	Label      string
}

// PointView is a descriptor overlaid with live state.
type PointView struct {
	Identifier   string
	Kind         string
	Label        string
	Status       string
	Materialized bool
	OpenedAt     *time.Time
	Elapsed      time.Duration

	// Most recent order, only for points that are not idle.
	OrderID      *uuid.UUID
	OrderStatus  string
	SequenceCode string
	Total        *decimal.Decimal
}

// EnsureResult is the outcome of EnsurePoint.
type EnsureResult struct {
	Point   database.ServicePoint
	Created bool
}

// PointService derives addressable points from configuration and keeps the
// sparse set of materialized point rows.
type PointService struct {
	pool     TxBeginner
	newStore NewPointStore
	events   EventPublisher
	now      func() time.Time
}

// NewPointService creates a new PointService. events may be nil.
func NewPointService(pool TxBeginner, newStore NewPointStore, events EventPublisher) *PointService {
	return &PointService{pool: pool, newStore: newStore, events: events, now: time.Now}
}

// NormalizeIdentifier trims and lower-cases s and folds inner whitespace
// runs to a single dash.
func NormalizeIdentifier(s string) (string, error) {
	id := strings.ToLower(strings.Join(strings.Fields(s), "-"))
	if id == "" {
		return "", ErrIdentifierRequired
	}
	if !identifierPattern.MatchString(id) {
		return "", ErrInvalidIdentifier
	}
	return id, nil
}

// ValidateLayout checks a layout before it is stored.
func ValidateLayout(l Layout) error {
	if !l.TablesEnabled && !l.TabsEnabled {
		return fmt.Errorf("%w: tables or tabs must be enabled", ErrInvalidConfiguration)
	}
	if l.TableCount < 0 || l.TableCount > maxPointsPerKind {
		return fmt.Errorf("%w: table_count must be between 0 and %d", ErrInvalidConfiguration, maxPointsPerKind)
	}
	if l.TabCount < 0 || l.TabCount > maxPointsPerKind {
		return fmt.Errorf("%w: tab_count must be between 0 and %d", ErrInvalidConfiguration, maxPointsPerKind)
	}
	if l.TablesEnabled && l.TableCount < 1 {
		return fmt.Errorf("%w: table_count must be >= 1 when tables are enabled", ErrInvalidConfiguration)
	}
	if l.TabsEnabled && l.TabCount < 1 {
		return fmt.Errorf("%w: tab_count must be >= 1 when tabs are enabled", ErrInvalidConfiguration)
	}
	if l.TabsEnabled && strings.TrimSpace(l.TabPrefix) == "" {
		return fmt.Errorf("%w: tab_prefix is required when tabs are enabled", ErrInvalidConfiguration)
	}
	return nil
}

// DescribePoints enumerates the points implied by a layout: tables first,
// then tabs.
func DescribePoints(l Layout) []PointDescriptor {
	var out []PointDescriptor
	if l.TablesEnabled {
		for n := 1; n <= l.TableCount; n++ {
			out = append(out, PointDescriptor{
				Identifier: enum.PointKindTable + "-" + strconv.Itoa(n),
				Kind:       enum.PointKindTable,
				Number:     n,
				Label:      "Table " + strconv.Itoa(n),
			})
		}
	}
	if l.TabsEnabled {
		prefix := strings.TrimSpace(l.TabPrefix)
		for n := 1; n <= l.TabCount; n++ {
			out = append(out, PointDescriptor{
				Identifier: enum.PointKindTab + "-" + strconv.Itoa(n),
				Kind:       enum.PointKindTab,
				Number:     n,
				Label:      prefix + " " + strconv.Itoa(n),
			})
		}
	}
	return out
}

// GetLayout returns the stored layout or DefaultLayout.
func (s *PointService) GetLayout(ctx context.Context, establishmentID uuid.UUID) (Layout, error) {
	if establishmentID == uuid.Nil {
		return Layout{}, ErrEstablishmentRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Layout{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	return loadLayout(ctx, s.newStore(tx), establishmentID)
}

// SaveLayout validates and stores a layout. Materialized points outside the
// new layout are kept.
func (s *PointService) SaveLayout(ctx context.Context, establishmentID uuid.UUID, l Layout) (Layout, error) {
	if establishmentID == uuid.Nil {
		return Layout{}, ErrEstablishmentRequired
	}
	l.TabPrefix = strings.TrimSpace(l.TabPrefix)
	if l.TabPrefix == "" && !l.TabsEnabled {
		l.TabPrefix = DefaultLayout().TabPrefix
	}
	if err := ValidateLayout(l); err != nil {
		return Layout{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Layout{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row, err := s.newStore(tx).UpsertPointLayout(ctx, database.UpsertPointLayoutParams{
		EstablishmentID: establishmentID,
		TablesEnabled:   l.TablesEnabled,
		TabsEnabled:     l.TabsEnabled,
		TableCount:      int32(l.TableCount),
		TabCount:        int32(l.TabCount),
		TabPrefix:       l.TabPrefix,
	})
	if err != nil {
		return Layout{}, fmt.Errorf("upsert layout: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Layout{}, fmt.Errorf("commit tx: %w", err)
	}
	return layoutFromRow(row), nil
}

// ListPoints returns every configured point with its live status, followed
// by materialized points outside the layout that are still in use. It never
// materializes rows.
func (s *PointService) ListPoints(ctx context.Context, establishmentID uuid.UUID) ([]PointView, error) {
	if establishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	layout, err := loadLayout(ctx, store, establishmentID)
	if err != nil {
		return nil, err
	}
	rows, err := store.ListServicePointOverlay(ctx, establishmentID)
	if err != nil {
		return nil, fmt.Errorf("list points: %w", err)
	}

	overlay := make(map[string]database.ListServicePointOverlayRow, len(rows))
	for _, row := range rows {
		overlay[row.Identifier] = row
	}

	now := s.now()
	descriptors := DescribePoints(layout)
	views := make([]PointView, 0, len(descriptors))
	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		seen[d.Identifier] = true
		view := PointView{
			Identifier: d.Identifier,
			Kind:       d.Kind,
			Label:      d.Label,
			Status:     enum.PointStatusIdle,
		}
		if row, ok := overlay[d.Identifier]; ok {
			applyOverlay(&view, row, now)
		}
		views = append(views, view)
	}

	// ad-hoc points, in identifier order
	for _, row := range rows {
		if seen[row.Identifier] || enum.IsFreePointStatus(row.Status) {
			continue
		}
		view := PointView{Identifier: row.Identifier, Kind: kindOf(row.Identifier), Label: row.Identifier}
		applyOverlay(&view, row, now)
		views = append(views, view)
	}
	return views, nil
}

// EnsurePoint materializes a point if needed. A point in a free state is
// reopened; any other status is left alone. label is only written when
// non-empty.
func (s *PointService) EnsurePoint(ctx context.Context, establishmentID uuid.UUID, identifier, label string) (*EnsureResult, error) {
	if establishmentID == uuid.Nil {
		return nil, ErrEstablishmentRequired
	}
	id, err := NormalizeIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row, err := s.newStore(tx).EnsureServicePoint(ctx, database.EnsureServicePointParams{
		EstablishmentID: establishmentID,
		Identifier:      id,
		Label:           optionalText(label),
	})
	if err != nil {
		return nil, fmt.Errorf("ensure point: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	publish(s.events, EventPointOpened, establishmentID, id, row.ServicePoint)
	return &EnsureResult{Point: row.ServicePoint, Created: row.Inserted}, nil
}

// SetStatus forces a point into status, materializing it first if needed.
func (s *PointService) SetStatus(ctx context.Context, establishmentID uuid.UUID, identifier, status string) (database.ServicePoint, error) {
	if establishmentID == uuid.Nil {
		return database.ServicePoint{}, ErrEstablishmentRequired
	}
	id, err := NormalizeIdentifier(identifier)
	if err != nil {
		return database.ServicePoint{}, err
	}
	if !enum.IsValidPointStatus(status) {
		return database.ServicePoint{}, ErrInvalidStatus
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return database.ServicePoint{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	row, err := store.EnsureServicePoint(ctx, database.EnsureServicePointParams{
		EstablishmentID: establishmentID,
		Identifier:      id,
	})
	if err != nil {
		return database.ServicePoint{}, fmt.Errorf("ensure point: %w", err)
	}

	point, err := store.SetServicePointStatus(ctx, database.SetServicePointStatusParams{
		ID:     row.ID,
		Status: status,
	})
	if err != nil {
		return database.ServicePoint{}, fmt.Errorf("set point status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return database.ServicePoint{}, fmt.Errorf("commit tx: %w", err)
	}

	publish(s.events, EventPointStatusChanged, establishmentID, id, point)
	return point, nil
}

// --- Helpers ---

type layoutReader interface {
	GetPointLayout(ctx context.Context, establishmentID uuid.UUID) (database.PointLayout, error)
}

func loadLayout(ctx context.Context, store layoutReader, establishmentID uuid.UUID) (Layout, error) {
	row, err := store.GetPointLayout(ctx, establishmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultLayout(), nil
		}
		return Layout{}, fmt.Errorf("get layout: %w", err)
	}
	return layoutFromRow(row), nil
}

func layoutFromRow(row database.PointLayout) Layout {
	return Layout{
		TablesEnabled: row.TablesEnabled,
		TabsEnabled:   row.TabsEnabled,
		TableCount:    int(row.TableCount),
		TabCount:      int(row.TabCount),
		TabPrefix:     row.TabPrefix,
	}
}

func applyOverlay(view *PointView, row database.ListServicePointOverlayRow, now time.Time) {
	view.Materialized = true
	view.Status = row.Status
	if row.Label.Valid && row.Label.String != "" {
		view.Label = row.Label.String
	}
	if row.OpenedAt.Valid && !enum.IsFreePointStatus(row.Status) {
		opened := row.OpenedAt.Time
		view.OpenedAt = &opened
		if elapsed := now.Sub(opened); elapsed > 0 {
			view.Elapsed = elapsed
		}
	}
	if row.Status == enum.PointStatusIdle || !row.OrderID.Valid {
		return
	}
	orderID := uuid.UUID(row.OrderID.Bytes)
	total := numericToDecimal(row.Total)
	view.OrderID = &orderID
	view.OrderStatus = row.OrderStatus.String
	view.SequenceCode = row.SequenceCode.String
	view.Total = &total
}

func kindOf(identifier string) string {
	if strings.HasPrefix(identifier, enum.PointKindTab+"-") {
		return enum.PointKindTab
	}
	return enum.PointKindTable
}

func optionalText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
