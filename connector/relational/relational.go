// Package relational implements the connector contract over gorm for
// Postgres, MySQL and SQLite.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/pipeflow/connector"
	"github.com/BaSui01/pipeflow/internal/database"
	"github.com/BaSui01/pipeflow/internal/metrics"
	"github.com/BaSui01/pipeflow/query"
	"github.com/BaSui01/pipeflow/types"
)

const (
	// insertBatchSize bounds the rows sent in one INSERT statement.
	insertBatchSize = 500
	// loadRetries bounds retries of a load transaction that hit a deadlock,
	// serialization failure or busy database.
	loadRetries = 3
)

// Connector runs extracts and loads against one relational database.
type Connector struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

var _ connector.Connector = (*Connector)(nil)

// Open connects to the database described by cfg.
func Open(cfg database.Config, logger *zap.Logger) (*Connector, error) {
	pool, err := database.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(pool, logger), nil
}

// New wraps an existing pool.
func New(pool *database.PoolManager, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{
		pool:   pool,
		logger: logger.With(zap.String("component", "relational_connector"), zap.String("dialect", pool.Dialect())),
	}
}

// WithMetrics reports the pool's connection counts to m.
func (c *Connector) WithMetrics(m *metrics.Collector) *Connector {
	c.pool.WithMetrics(m)
	return c
}

// Service maps a database dialect onto its integration service name.
func Service(d database.Dialect) connector.Service {
	switch d {
	case database.DialectPostgres:
		return connector.ServicePostgres
	case database.DialectMySQL:
		return connector.ServiceMySQL
	default:
		return connector.ServiceSQLite
	}
}

// Extract runs the query and returns the result set as a *types.Table.
func (c *Connector) Extract(ctx context.Context, params *connector.ExtractParams) (any, error) {
	if params == nil || params.Relational == nil {
		return nil, types.InvalidUserArgument("relational connector requires relational extract parameters")
	}
	p := params.Relational
	q := p.Query
	if len(p.Queries) > 0 {
		chained, err := query.Chain(p.Queries)
		if err != nil {
			return nil, err
		}
		q = chained
	}
	if !p.Usable || !query.Usable(q) {
		return nil, types.InvalidUserArgument("query still has unbound placeholders: %s", q)
	}

	rows, err := c.pool.DB().WithContext(ctx).Raw(q).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to run extract query: %w", err)
	}
	defer rows.Close()

	table, err := scanTable(rows)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("extract finished", zap.Int("rows", table.NumRows()), zap.Int("columns", table.NumColumns()))
	return table, nil
}

func scanTable(rows *sql.Rows) (*types.Table, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read result column types: %w", err)
	}
	dbTypes := make([]string, len(colTypes))
	for i, ct := range colTypes {
		dbTypes[i] = strings.ToUpper(ct.DatabaseTypeName())
	}

	var data [][]any
	for rows.Next() {
		cells := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i := range cells {
			cells[i] = convertCell(cells[i], dbTypes[i])
		}
		data = append(data, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return types.NewTable(columns, data)
}

// convertCell turns a driver value into a table cell using the declared
// column type where the driver is ambiguous.
func convertCell(v any, dbType string) any {
	switch x := v.(type) {
	case []byte:
		switch {
		case isBinaryType(dbType):
			return append([]byte(nil), x...)
		case strings.Contains(dbType, "DECIMAL") || strings.Contains(dbType, "NUMERIC"):
			if f, err := strconv.ParseFloat(string(x), 64); err == nil {
				return f
			}
		}
		return string(x)
	case int64:
		if strings.Contains(dbType, "BOOL") {
			return x != 0
		}
		return x
	default:
		return types.NormalizeCell(v)
	}
}

func isBinaryType(dbType string) bool {
	return strings.Contains(dbType, "BLOB") || strings.Contains(dbType, "BYTEA") || strings.Contains(dbType, "BINARY")
}

// Load writes a table into the destination named by params.
func (c *Connector) Load(ctx context.Context, params *connector.LoadParams, data any, artifactType types.ArtifactType) error {
	if params == nil || params.Relational == nil {
		return types.InvalidUserArgument("relational connector requires relational load parameters")
	}
	if err := params.Validate(); err != nil {
		return types.InvalidUserArgument("%v", err)
	}
	if artifactType != types.ArtifactTypeTable {
		return types.Errorf(types.ErrUserFatal, "cannot save a %s artifact to a relational table", artifactType).
			WithTip("Only table artifacts can be saved to a relational database.")
	}
	table, ok := data.(*types.Table)
	if !ok || table == nil {
		return types.Internal("table artifact holds %T", data)
	}

	p := params.Relational
	err := c.pool.WithTransactionRetry(ctx, loadRetries, func(tx *gorm.DB) error {
		exists := tx.Migrator().HasTable(p.Table)
		switch p.UpdateMode {
		case connector.UpdateModeFail:
			if exists {
				return types.Errorf(types.ErrUserFatal, "table %s already exists", p.Table).
					WithTip("Use the append or replace update mode to write into an existing table.")
			}
		case connector.UpdateModeReplace:
			if exists {
				if err := tx.Migrator().DropTable(p.Table); err != nil {
					return fmt.Errorf("failed to drop table %s: %w", p.Table, err)
				}
				exists = false
			}
		}
		if !exists {
			if err := tx.Exec(createTableSQL(tx, p.Table, table)).Error; err != nil {
				return fmt.Errorf("failed to create table %s: %w", p.Table, err)
			}
		}
		return insertRows(tx, p.Table, table)
	})
	c.pool.ReportStats()
	if err != nil {
		return err
	}

	c.logger.Debug("load finished",
		zap.String("table", p.Table),
		zap.String("update_mode", string(p.UpdateMode)),
		zap.Int("rows", table.NumRows()),
	)
	return nil
}

func createTableSQL(db *gorm.DB, name string, t *types.Table) string {
	dialect := db.Dialector.Name()
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = quote(db, f.Name) + " " + columnType(dialect, f.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quote(db, name), strings.Join(cols, ", "))
}

func columnType(dialect string, ft types.FieldType) string {
	switch ft {
	case types.FieldTypeInteger:
		if dialect == "sqlite" {
			return "INTEGER"
		}
		return "BIGINT"
	case types.FieldTypeNumber:
		switch dialect {
		case "postgres":
			return "DOUBLE PRECISION"
		case "mysql":
			return "DOUBLE"
		}
		return "REAL"
	case types.FieldTypeBoolean:
		return "BOOLEAN"
	case types.FieldTypeDatetime:
		if dialect == "postgres" {
			return "TIMESTAMP"
		}
		return "DATETIME"
	case types.FieldTypeBinary:
		if dialect == "postgres" {
			return "BYTEA"
		}
		return "BLOB"
	default:
		return "TEXT"
	}
}

func quote(db *gorm.DB, name string) string {
	var b strings.Builder
	db.Dialector.QuoteTo(&b, name)
	return b.String()
}

func insertRows(tx *gorm.DB, name string, t *types.Table) error {
	for start := 0; start < t.NumRows(); start += insertBatchSize {
		end := min(start+insertBatchSize, t.NumRows())
		batch := make([]map[string]any, 0, end-start)
		for i := start; i < end; i++ {
			rec := t.Record(i)
			for k, v := range rec {
				rec[k] = storeCell(v)
			}
			batch = append(batch, rec)
		}
		if err := tx.Table(name).Create(batch).Error; err != nil {
			return fmt.Errorf("failed to insert into %s: %w", name, err)
		}
	}
	return nil
}

func storeCell(v any) any {
	switch x := v.(type) {
	case nil, int64, float64, bool, string, []byte:
		return v
	case time.Time:
		return x.UTC()
	default:
		return fmt.Sprint(v)
	}
}

// Close releases the pool.
func (c *Connector) Close() error {
	return c.pool.Close()
}
