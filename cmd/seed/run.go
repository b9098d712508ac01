package seed

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/metricboost/metric-engine/internal/config"
	"github.com/metricboost/metric-engine/internal/db"
	"github.com/metricboost/metric-engine/internal/model"
)

var definitionsFile string

func RegisterFlags(fs *flag.FlagSet, configFile *string) {
	fs.StringVar(configFile, "config-file", "", "Path to the configuration file, it takes precedence over the command line flags.")
	fs.StringVar(&config.DefaultConfig.Database.Provider, "database-provider", "sqlite", "The provider of database holding metric definitions. Supported values: postgresql, sqlite.")
	fs.StringVar(&definitionsFile, "definitions-file", "", "Path to the YAML file with the data sources, data models and metrics to store.")

	db.RegisterPostGreSQLFlags(fs)
	db.RegisterSqliteFlags(fs)
	config.RegisterLogFlags(fs)
}

// Definitions is the layout of a definitions file. Entries with an id update
// the stored row, entries without one are inserted.
type Definitions struct {
	DataSources []DataSource `yaml:"datasources"`
}

type DataSource struct {
	ID          int64       `yaml:"id,omitempty"`
	Name        string      `yaml:"name"`
	Type        string      `yaml:"type"`
	Host        string      `yaml:"host,omitempty"`
	Port        int         `yaml:"port,omitempty"`
	Username    string      `yaml:"username,omitempty"`
	Password    string      `yaml:"password,omitempty"`
	Database    string      `yaml:"database,omitempty"`
	Disabled    bool        `yaml:"disabled,omitempty"`
	Description string      `yaml:"description,omitempty"`
	Models      []DataModel `yaml:"models"`
}

type DataModel struct {
	ID          int64    `yaml:"id,omitempty"`
	Name        string   `yaml:"name"`
	Table       string   `yaml:"table"`
	Description string   `yaml:"description,omitempty"`
	Disabled    bool     `yaml:"disabled,omitempty"`
	Columns     []Column `yaml:"columns"`
	Metrics     []Metric `yaml:"metrics"`
}

type Column struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type,omitempty"`
	Comment string `yaml:"comment,omitempty"`
	Role    string `yaml:"role,omitempty"`
	Agg     string `yaml:"agg,omitempty"`
	Format  string `yaml:"format,omitempty"`
	Extra   string `yaml:"extra,omitempty"`
}

type Metric struct {
	ID                int64    `yaml:"id,omitempty"`
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description,omitempty"`
	StatisticalPeriod string   `yaml:"statistical_period"`
	StatisticScope    int      `yaml:"statistic_scope,omitempty"`
	ChartType         string   `yaml:"chart_type,omitempty"`
	Sensitivity       string   `yaml:"sensitivity,omitempty"`
	Tags              []string `yaml:"tags,omitempty"`
}

// LoadDefinitions reads a definitions file. ${VAR} references are expanded
// from the environment so credentials can stay in .env files.
func LoadDefinitions(path string) (*Definitions, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file: %w", err)
	}

	var defs Definitions
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(b))))
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definitions file: %w", err)
	}
	return &defs, nil
}

func status(disabled bool) model.Status {
	if disabled {
		return model.StatusDisabled
	}
	return model.StatusEnabled
}

// Apply stores every definition and reports how many rows were written.
func Apply(ctx context.Context, store db.Provider, defs *Definitions) (int, error) {
	written := 0
	for _, s := range defs.DataSources {
		ds := model.DataSource{
			ID:          s.ID,
			Name:        s.Name,
			Type:        model.DataSourceType(s.Type),
			Host:        s.Host,
			Port:        s.Port,
			Username:    s.Username,
			Password:    s.Password,
			Database:    s.Database,
			Status:      status(s.Disabled),
			Description: s.Description,
		}
		if err := store.UpsertDataSource(ctx, &ds); err != nil {
			return written, fmt.Errorf("data source %q: %w", s.Name, err)
		}
		written++

		for _, m := range s.Models {
			dm := model.DataModel{
				ID:          m.ID,
				Name:        m.Name,
				Description: m.Description,
				TableName:   m.Table,
				Status:      status(m.Disabled),
				DataSource:  ds,
			}
			for _, c := range m.Columns {
				dm.Columns = append(dm.Columns, model.ColumnDescriptor{
					ColumnName:       c.Name,
					ColumnType:       c.Type,
					ColumnComment:    c.Comment,
					Role:             model.Role(c.Role),
					AggMethod:        model.AggMethod(c.Agg),
					Format:           c.Format,
					ExtraCalculation: c.Extra,
				})
			}
			if err := store.UpsertDataModel(ctx, &dm); err != nil {
				return written, fmt.Errorf("data model %q: %w", m.Name, err)
			}
			written++

			for _, mt := range m.Metrics {
				metric := model.Metric{
					ID:                mt.ID,
					MetricName:        mt.Name,
					MetricDesc:        mt.Description,
					StatisticalPeriod: model.StatisticalPeriod(mt.StatisticalPeriod),
					StatisticScope:    mt.StatisticScope,
					ChartType:         model.ChartType(mt.ChartType),
					Sensitivity:       model.Sensitivity(mt.Sensitivity),
					Tags:              mt.Tags,
					DataModel:         dm,
				}
				if metric.Sensitivity == "" {
					metric.Sensitivity = model.SensitivityLow
				}
				if err := store.UpsertMetric(ctx, &metric); err != nil {
					return written, fmt.Errorf("metric %q: %w", mt.Name, err)
				}
				written++
			}
		}
	}
	return written, nil
}

func Run() error {
	if definitionsFile == "" {
		return fmt.Errorf("-definitions-file is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	defs, err := LoadDefinitions(definitionsFile)
	if err != nil {
		return err
	}

	dbProvider, err := db.GetDbProvider(ctx, db.DatabaseProvider(config.DefaultConfig.Database.Provider))
	if err != nil {
		return fmt.Errorf("create db provider: %w", err)
	}
	defer func() {
		if err := dbProvider.Close(); err != nil {
			slog.ErrorContext(ctx, "error closing database provider", "err", err)
		}
	}()

	written, err := Apply(ctx, dbProvider, defs)
	if err != nil {
		return fmt.Errorf("apply definitions: %w", err)
	}
	slog.InfoContext(ctx, "definitions stored", "file", definitionsFile, "rows", written)
	return nil
}
