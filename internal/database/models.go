package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type CashSession struct {
	ID              uuid.UUID          `json:"id"`
	EstablishmentID uuid.UUID          `json:"establishment_id"`
	OpeningFloat    pgtype.Numeric     `json:"opening_float"`
	ManualIn        pgtype.Numeric     `json:"manual_in"`
	ManualOut       pgtype.Numeric     `json:"manual_out"`
	FinalizedOrders int32              `json:"finalized_orders"`
	OpenedBy        uuid.UUID          `json:"opened_by"`
	OpenedAt        time.Time          `json:"opened_at"`
	ClosedAt        pgtype.Timestamptz `json:"closed_at"`
	ClosingCount    pgtype.Numeric     `json:"closing_count"`
	Balance         pgtype.Numeric     `json:"balance"`
	Variance        pgtype.Numeric     `json:"variance"`
	TotalSales      pgtype.Numeric     `json:"total_sales"`
	ClosedBy        pgtype.UUID        `json:"closed_by"`
}

type PointLayout struct {
	EstablishmentID uuid.UUID `json:"establishment_id"`
	TablesEnabled   bool      `json:"tables_enabled"`
	TabsEnabled     bool      `json:"tabs_enabled"`
	TableCount      int32     `json:"table_count"`
	TabCount        int32     `json:"tab_count"`
	TabPrefix       string    `json:"tab_prefix"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ServicePoint struct {
	ID              uuid.UUID          `json:"id"`
	EstablishmentID uuid.UUID          `json:"establishment_id"`
	Identifier      string             `json:"identifier"`
	Status          string             `json:"status"`
	Label           pgtype.Text        `json:"label"`
	OpenedAt        pgtype.Timestamptz `json:"opened_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

type Order struct {
	ID               uuid.UUID          `json:"id"`
	EstablishmentID  uuid.UUID          `json:"establishment_id"`
	ServicePointID   uuid.UUID          `json:"service_point_id"`
	CashSessionID    pgtype.UUID        `json:"cash_session_id"`
	Status           string             `json:"status"`
	SequenceCode     string             `json:"sequence_code"`
	ClientRef        pgtype.Text        `json:"client_ref"`
	PaymentMethodRef pgtype.Text        `json:"payment_method_ref"`
	ActorRef         uuid.UUID          `json:"actor_ref"`
	Channel          string             `json:"channel"`
	Total            pgtype.Numeric     `json:"total"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	FinalizedAt      pgtype.Timestamptz `json:"finalized_at"`
}

type OrderLine struct {
	ID          uuid.UUID      `json:"id"`
	OrderID     uuid.UUID      `json:"order_id"`
	Position    int32          `json:"position"`
	ProductRef  string         `json:"product_ref"`
	ProductName string         `json:"product_name"`
	Quantity    int32          `json:"quantity"`
	UnitPrice   pgtype.Numeric `json:"unit_price"`
	LineTotal   pgtype.Numeric `json:"line_total"`
	Note        pgtype.Text    `json:"note"`
	CreatedAt   time.Time      `json:"created_at"`
}

type OrderLineModifier struct {
	ID          uuid.UUID      `json:"id"`
	OrderLineID uuid.UUID      `json:"order_line_id"`
	Position    int32          `json:"position"`
	ModifierRef string         `json:"modifier_ref"`
	DisplayName string         `json:"display_name"`
	Quantity    int32          `json:"quantity"`
	UnitPrice   pgtype.Numeric `json:"unit_price"`
	Status      string         `json:"status"`
	Note        pgtype.Text    `json:"note"`
	CreatedAt   time.Time      `json:"created_at"`
}
