package routes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/metalmatze/signal/server/signalhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	_ "github.com/metricboost/metric-engine/api/docs"
	"github.com/metricboost/metric-engine/api/models"
	"github.com/metricboost/metric-engine/api/response"
	"github.com/metricboost/metric-engine/internal/connector"
	"github.com/metricboost/metric-engine/internal/db"
	"github.com/metricboost/metric-engine/internal/engine"
	"github.com/metricboost/metric-engine/internal/metadata"
	"github.com/metricboost/metric-engine/internal/model"
)

// maxBodyBytes bounds metric detail request bodies.
const maxBodyBytes = 1 << 20

type Engine interface {
	AssembleList(ctx context.Context, metrics []model.Metric, params engine.Params) []engine.MetricResult
	AssembleDetail(ctx context.Context, id int64, params engine.Params) (*engine.MetricResult, error)
}

type Metadata interface {
	TestConnection(ctx context.Context, id int64) (*metadata.ConnectionStatus, error)
	ListTables(ctx context.Context, id int64) ([]metadata.Table, error)
	ColumnMetadata(ctx context.Context, id int64, table string, dataModelID int64) ([]model.ColumnDescriptor, error)
	Preview(ctx context.Context, id int64, table string, page, pageSize int) (*metadata.Preview, error)
}

type routes struct {
	mux *http.ServeMux

	dbProvider db.Provider
	engine     Engine
	metadata   Metadata
}

type Option func(*routes)

func WithDBProvider(dbProvider db.Provider) Option {
	return func(r *routes) {
		r.dbProvider = dbProvider
	}
}

func WithEngine(e Engine) Option {
	return func(r *routes) {
		r.engine = e
	}
}

func WithMetadata(m Metadata) Option {
	return func(r *routes) {
		r.metadata = m
	}
}

func WithHandlers(registry *prometheus.Registry, isTracingEnabled bool) Option {
	return func(r *routes) {
		i := signalhttp.NewHandlerInstrumenter(registry, []string{"handler"})
		instrument := func(name string, h http.HandlerFunc) http.Handler {
			var next http.Handler = h
			if isTracingEnabled {
				next = otelhttp.NewHandler(next, name)
			}
			return i.NewHandler(prometheus.Labels{"handler": name}, next)
		}

		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.Handle("GET /swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
		mux.HandleFunc("GET /livez", r.livez)
		mux.HandleFunc("GET /readyz", r.readyz)

		mux.Handle("GET /api/v1/metrics", instrument("metrics", r.listMetrics))
		mux.Handle("POST /api/v1/metrics/{id}", instrument("metric", r.metricDetail))
		mux.Handle("POST /api/v1/datasources/{id}/test", instrument("datasource_test", r.testConnection))
		mux.Handle("GET /api/v1/datasources/{id}/tables", instrument("datasource_tables", r.listTables))
		mux.Handle("GET /api/v1/datasources/{id}/tables/{table}/columns", instrument("datasource_columns", r.columnMetadata))
		mux.Handle("GET /api/v1/datasources/{id}/tables/{table}/preview", instrument("datasource_preview", r.preview))
		r.mux = mux
	}
}

func NewRoutes(opts ...Option) (*routes, error) {
	r := &routes{
		mux: http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.dbProvider == nil {
		return nil, fmt.Errorf("db provider is required")
	}
	if r.engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if r.metadata == nil {
		return nil, fmt.Errorf("metadata service is required")
	}

	return r, nil
}

func (r *routes) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	response.AccessLog(r.mux).ServeHTTP(w, req)
}

func getQueryParamAsInt(req *http.Request, param string, defaultValue int) (int, error) {
	value := req.URL.Query().Get(param)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

func getPathID(req *http.Request) (int64, error) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", req.PathValue("id"))
	}
	return id, nil
}

func writeJSONResponse(req *http.Request, w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.ErrorContext(req.Context(), "failed to encode JSON response", "err", err)
		writeErrorResponse(req, w, fmt.Errorf("failed to encode response: %w", err), http.StatusInternalServerError)
		return
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	TraceID string `json:"traceId,omitempty"`
}

func writeErrorResponse(r *http.Request, w http.ResponseWriter, err error, status int) {
	response := errorResponse{
		Error: err.Error(),
		Code:  status,
	}
	if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.HasTraceID() {
		response.TraceID = sc.TraceID().String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err = json.NewEncoder(w).Encode(response)
	if err != nil {
		slog.Error("failed to encode JSON response", "err", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
}

// statusOf maps a service error to an HTTP status.
func statusOf(err error) int {
	var (
		cerr *connector.ConnectionError
		qerr *connector.QueryError
	)
	switch {
	case db.IsNoResults(err), errors.Is(err, metadata.ErrTableNotFound):
		return http.StatusNotFound
	case engine.IsValidation(err), errors.Is(err, metadata.ErrModelMismatch):
		return http.StatusBadRequest
	case errors.As(err, &cerr), errors.As(err, &qerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (r *routes) livez(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		slog.ErrorContext(req.Context(), "livez write failed", "err", err)
	}
}

// readyz reports ready once the definition store answers.
func (r *routes) readyz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	var err error
	r.dbProvider.WithDB(func(d *sql.DB) {
		err = d.PingContext(ctx)
	})
	if err != nil {
		slog.WarnContext(req.Context(), "definition store not ready", "err", err)
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		slog.ErrorContext(req.Context(), "readyz write failed", "err", err)
	}
}

// listMetrics godoc
// @Summary Paged metric list with data
// @Tags metrics
// @Produce json
// @Param page query int false "Page" default(1)
// @Param pageSize query int false "Page size" default(10)
// @Param nameOrDesc query string false "Substring of the metric name or description"
// @Param sensitivity query string false "Sensitivity"
// @Param statisticalPeriod query string false "Statistical period"
// @Param sort query string false "asc or desc"
// @Success 200 {object} routes.metricPage
// @Failure 400 {object} routes.errorResponse
// @Router /metrics [get]
func (r *routes) listMetrics(w http.ResponseWriter, req *http.Request) {
	page, err := getQueryParamAsInt(req, "page", 1)
	if err != nil {
		writeErrorResponse(req, w, fmt.Errorf("invalid page parameter: %w", err), http.StatusBadRequest)
		return
	}

	pageSize, err := getQueryParamAsInt(req, "pageSize", db.DefaultPageSize)
	if err != nil {
		writeErrorResponse(req, w, fmt.Errorf("invalid pageSize parameter: %w", err), http.StatusBadRequest)
		return
	}

	q := req.URL.Query()
	metrics, err := r.dbProvider.ListMetrics(req.Context(), db.MetricListParams{
		Page:              page,
		PageSize:          pageSize,
		NameOrDesc:        q.Get("nameOrDesc"),
		Sensitivity:       q.Get("sensitivity"),
		StatisticalPeriod: strings.ToLower(strings.TrimSpace(q.Get("statisticalPeriod"))),
	})
	if err != nil {
		slog.ErrorContext(req.Context(), "unable to list metrics", "err", err)
		writeErrorResponse(req, w, fmt.Errorf("unable to list metrics: %w", err), statusOf(err))
		return
	}

	results := r.engine.AssembleList(req.Context(), metrics.Data, engine.Params{
		Sort: model.ParseSort(q.Get("sort")),
	})

	writeJSONResponse(req, w, metricPage{
		TotalPages: metrics.TotalPages,
		Total:      metrics.Total,
		Page:       metrics.Page,
		PageSize:   metrics.PageSize,
		Data:       results,
	})
}

type metricPage = db.PagedResult[engine.MetricResult]

// metricDetail godoc
// @Summary Metric detail with dimension values
// @Tags metrics
// @Accept json
// @Produce json
// @Param id path int true "Metric ID"
// @Param request body models.MetricDetailRequest false "Overrides"
// @Success 200 {object} engine.MetricResult
// @Failure 400 {object} routes.errorResponse
// @Failure 404 {object} routes.errorResponse
// @Router /metrics/{id} [post]
func (r *routes) metricDetail(w http.ResponseWriter, req *http.Request) {
	id, err := getPathID(req)
	if err != nil {
		writeErrorResponse(req, w, err, http.StatusBadRequest)
		return
	}

	var body models.MetricDetailRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeErrorResponse(req, w, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	result, err := r.engine.AssembleDetail(req.Context(), id, body.Params())
	if err != nil {
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(req.Context(), "unable to assemble metric", "err", err, "metric", id)
		}
		writeErrorResponse(req, w, err, status)
		return
	}

	writeJSONResponse(req, w, result)
}

// testConnection godoc
// @Summary Test the connection of a data source
// @Tags datasources
// @Produce json
// @Param id path int true "Data source ID"
// @Success 200 {object} metadata.ConnectionStatus
// @Failure 404 {object} routes.errorResponse
// @Router /datasources/{id}/test [post]
func (r *routes) testConnection(w http.ResponseWriter, req *http.Request) {
	id, err := getPathID(req)
	if err != nil {
		writeErrorResponse(req, w, err, http.StatusBadRequest)
		return
	}

	status, err := r.metadata.TestConnection(req.Context(), id)
	if err != nil {
		writeErrorResponse(req, w, err, statusOf(err))
		return
	}
	writeJSONResponse(req, w, status)
}

// listTables godoc
// @Summary List the tables of a data source
// @Tags datasources
// @Produce json
// @Param id path int true "Data source ID"
// @Success 200 {array} metadata.Table
// @Failure 404 {object} routes.errorResponse
// @Router /datasources/{id}/tables [get]
func (r *routes) listTables(w http.ResponseWriter, req *http.Request) {
	id, err := getPathID(req)
	if err != nil {
		writeErrorResponse(req, w, err, http.StatusBadRequest)
		return
	}

	tables, err := r.metadata.ListTables(req.Context(), id)
	if err != nil {
		slog.ErrorContext(req.Context(), "unable to list tables", "err", err, "datasource", id)
		writeErrorResponse(req, w, err, statusOf(err))
		return
	}
	writeJSONResponse(req, w, tables)
}

// columnMetadata godoc
// @Summary Column metadata merged with the stored role configuration
// @Tags datasources
// @Produce json
// @Param id path int true "Data source ID"
// @Param table path string true "Table name"
// @Param dataModelId query int false "Data model ID"
// @Success 200 {array} model.ColumnDescriptor
// @Failure 400 {object} routes.errorResponse
// @Failure 404 {object} routes.errorResponse
// @Router /datasources/{id}/tables/{table}/columns [get]
func (r *routes) columnMetadata(w http.ResponseWriter, req *http.Request) {
	id, err := getPathID(req)
	if err != nil {
		writeErrorResponse(req, w, err, http.StatusBadRequest)
		return
	}

	var dataModelID int64
	if v := req.URL.Query().Get("dataModelId"); v != "" {
		dataModelID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeErrorResponse(req, w, fmt.Errorf("invalid dataModelId parameter: %w", err), http.StatusBadRequest)
			return
		}
	}

	cols, err := r.metadata.ColumnMetadata(req.Context(), id, req.PathValue("table"), dataModelID)
	if err != nil {
		slog.ErrorContext(req.Context(), "unable to read column metadata", "err", err, "datasource", id, "table", req.PathValue("table"))
		writeErrorResponse(req, w, err, statusOf(err))
		return
	}
	writeJSONResponse(req, w, cols)
}

// preview godoc
// @Summary Paged rows of a table
// @Tags datasources
// @Produce json
// @Param id path int true "Data source ID"
// @Param table path string true "Table name"
// @Param page query int false "Page" default(1)
// @Param pageSize query int false "Page size" default(10)
// @Success 200 {object} metadata.Preview
// @Failure 400 {object} routes.errorResponse
// @Failure 404 {object} routes.errorResponse
// @Router /datasources/{id}/tables/{table}/preview [get]
func (r *routes) preview(w http.ResponseWriter, req *http.Request) {
	id, err := getPathID(req)
	if err != nil {
		writeErrorResponse(req, w, err, http.StatusBadRequest)
		return
	}

	page, err := getQueryParamAsInt(req, "page", 1)
	if err != nil {
		writeErrorResponse(req, w, fmt.Errorf("invalid page parameter: %w", err), http.StatusBadRequest)
		return
	}

	pageSize, err := getQueryParamAsInt(req, "pageSize", db.DefaultPageSize)
	if err != nil {
		writeErrorResponse(req, w, fmt.Errorf("invalid pageSize parameter: %w", err), http.StatusBadRequest)
		return
	}

	p, err := r.metadata.Preview(req.Context(), id, req.PathValue("table"), page, pageSize)
	if err != nil {
		slog.ErrorContext(req.Context(), "unable to preview table", "err", err, "datasource", id, "table", req.PathValue("table"))
		writeErrorResponse(req, w, err, statusOf(err))
		return
	}
	writeJSONResponse(req, w, p)
}
