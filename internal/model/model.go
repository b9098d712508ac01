package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

type StatisticalPeriod string

const (
	PeriodDaily      StatisticalPeriod = "daily"
	PeriodWeekly     StatisticalPeriod = "weekly"
	PeriodMonthly    StatisticalPeriod = "monthly"
	PeriodQuarterly  StatisticalPeriod = "quarterly"
	PeriodYearly     StatisticalPeriod = "yearly"
	PeriodCumulative StatisticalPeriod = "cumulative"
)

func (p StatisticalPeriod) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodYearly, PeriodCumulative:
		return true
	}
	return false
}

type ChartType string

const (
	ChartNone ChartType = ""
	ChartLine ChartType = "line"
	ChartBar  ChartType = "bar"
)

type Sensitivity string

const (
	SensitivityLow    Sensitivity = "1"
	SensitivityMedium Sensitivity = "2"
	SensitivityHigh   Sensitivity = "3"
)

type Status string

const (
	StatusEnabled  Status = "1"
	StatusDisabled Status = "0"
)

type Role string

const (
	RoleNone      Role = ""
	RoleDate      Role = "date"
	RoleDimension Role = "dim"
	RoleMetric    Role = "metric"
	RoleFilter    Role = "filter"
)

type AggMethod string

const (
	AggNone  AggMethod = ""
	AggCount AggMethod = "count"
	AggSum   AggMethod = "sum"
	AggAvg   AggMethod = "avg"
	AggMax   AggMethod = "max"
	AggMin   AggMethod = "min"
)

type MetricFormat string

const (
	FormatNone     MetricFormat = ""
	FormatNumber   MetricFormat = "number"
	FormatFloat    MetricFormat = "float"
	FormatPercent  MetricFormat = "percent"
	FormatCurrency MetricFormat = "currency"
)

// Sort is the ranking direction applied to aggregated values.
type Sort string

const (
	SortAsc  Sort = "asc"
	SortDesc Sort = "desc"
)

// ParseSort accepts asc/desc in any case and falls back to desc.
func ParseSort(s string) Sort {
	if strings.EqualFold(strings.TrimSpace(s), string(SortAsc)) {
		return SortAsc
	}
	return SortDesc
}

type DataSourceType string

const (
	DataSourceMySQL      DataSourceType = "mysql"
	DataSourcePostgreSQL DataSourceType = "postgresql"
	DataSourceSQLite     DataSourceType = "sqlite"
	DataSourceClickHouse DataSourceType = "clickhouse"
)

// Canonical folds case and maps driver aliases onto the supported types.
func (t DataSourceType) Canonical() DataSourceType {
	switch v := DataSourceType(strings.ToLower(strings.TrimSpace(string(t)))); v {
	case "mariadb":
		return DataSourceMySQL
	case "postgres", "pg":
		return DataSourcePostgreSQL
	case "sqlite3":
		return DataSourceSQLite
	default:
		return v
	}
}

type DataSource struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Type        DataSourceType `json:"type"`
	Host        string         `json:"host"`
	Port        int            `json:"port"`
	Username    string         `json:"username"`
	Password    string         `json:"-"`
	Database    string         `json:"database"`
	Status      Status         `json:"status"`
	Description string         `json:"description"`
}

func (d DataSource) Enabled() bool {
	return d.Status != StatusDisabled
}

// Fingerprint identifies the connection parameters of a data source. Two data
// sources with the same fingerprint can share a connection pool.
func (d DataSource) Fingerprint() string {
	h := xxhash.New()
	for _, part := range []string{
		strconv.FormatInt(d.ID, 10), string(d.Type), d.Host, strconv.Itoa(d.Port),
		d.Username, d.Password, d.Database,
	} {
		_, _ = h.WriteString(part)
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// ColumnDescriptor is one entry of a data model's column configuration.
type ColumnDescriptor struct {
	ColumnName       string    `json:"columnName"`
	ColumnType       string    `json:"columnType"`
	ColumnComment    string    `json:"columnComment"`
	Role             Role      `json:"staticType"`
	AggMethod        AggMethod `json:"aggMethod"`
	Format           string    `json:"format"`
	ExtraCalculation string    `json:"extraCaculate"`
}

type DataModel struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	TableName   string             `json:"tableName"`
	Status      Status             `json:"status"`
	DataSource  DataSource         `json:"-"`
	ColumnsConf string             `json:"-"`
	Columns     []ColumnDescriptor `json:"columns,omitempty"`
}

// Metric is a read-only metric definition joined with its data model.
type Metric struct {
	ID                int64             `json:"id"`
	MetricName        string            `json:"metricName"`
	MetricDesc        string            `json:"metricDesc"`
	StatisticalPeriod StatisticalPeriod `json:"statisticalPeriod"`
	StatisticScope    int               `json:"statisticScope"`
	ChartType         ChartType         `json:"chartType"`
	Sensitivity       Sensitivity       `json:"sensitivity"`
	Tags              []string          `json:"tags"`
	DataModel         DataModel         `json:"-"`
	CreateTime        time.Time         `json:"createTime"`
	UpdateTime        time.Time         `json:"updateTime"`
}
