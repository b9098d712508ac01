package db

type DatabaseProvider string

const (
	PostGreSQL DatabaseProvider = "postgresql"
	SQLite     DatabaseProvider = "sqlite"
)

// MetricListParams filters the metric listing. Empty fields match everything.
type MetricListParams struct {
	Page              int
	PageSize          int
	NameOrDesc        string
	Sensitivity       string
	StatisticalPeriod string
}

type PagedResult[T any] struct {
	TotalPages int `json:"totalPages"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Data       []T `json:"data"`
}
