// Package analysis validates analysis requests, dispatches them to the
// analyzers and renders their results.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KaramelBytes/shelter-analytics/internal/anomaly"
	"github.com/KaramelBytes/shelter-analytics/internal/cluster"
	"github.com/KaramelBytes/shelter-analytics/internal/config"
	"github.com/KaramelBytes/shelter-analytics/internal/dataset"
	"github.com/KaramelBytes/shelter-analytics/internal/logging"
	"github.com/KaramelBytes/shelter-analytics/internal/predict"
	"github.com/KaramelBytes/shelter-analytics/internal/temporal"
)

// Kind tags the analysis a request asks for and the variant a result carries.
type Kind string

const (
	KindProfile  Kind = "profile"
	KindCluster  Kind = "cluster"
	KindModel    Kind = "model"
	KindAnomaly  Kind = "anomaly"
	KindTemporal Kind = "temporal"
)

// ParseKind accepts the canonical kinds and a few dashboard aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "profile", "summary":
		return KindProfile, nil
	case "cluster", "clusters", "clustering":
		return KindCluster, nil
	case "model", "predict", "prediction", "predictive":
		return KindModel, nil
	case "anomaly", "anomalies", "outliers":
		return KindAnomaly, nil
	case "temporal", "timeseries", "time_series", "forecast":
		return KindTemporal, nil
	}
	return "", &dataset.InvalidParameterError{Param: "kind", Value: s, Reason: "use profile, cluster, model, anomaly or temporal"}
}

// Request describes one analysis. Zero numeric fields select configured defaults.
type Request struct {
	Kind Kind `json:"kind"`
	// Cluster
	Algorithm string `json:"algorithm,omitempty"`
	K         int    `json:"k,omitempty"`
	// Anomaly
	Contamination float64 `json:"contamination,omitempty"`
	// Model. Predict holds raw input values for a prediction with the best model.
	Target  string            `json:"target,omitempty"`
	Predict map[string]string `json:"predict,omitempty"`
	// Cluster, model and anomaly feature subset
	Features []string `json:"features,omitempty"`
	// Temporal
	Timestamp string `json:"timestamp,omitempty"`
	Value     string `json:"value,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Horizon   int    `json:"horizon,omitempty"`
	// Profile. SampleRows of zero selects the default; negative hides samples.
	GroupBy    []string `json:"group_by,omitempty"`
	SampleRows int      `json:"sample_rows,omitempty"`
	ZThreshold float64  `json:"z_threshold,omitempty"`
	IQRFactor  float64  `json:"iqr_factor,omitempty"`
}

// Validate checks the parameters that do not depend on the data.
func (r Request) Validate() error {
	if _, err := ParseKind(string(r.Kind)); err != nil {
		return err
	}
	invalid := func(param string, v any, reason string) error {
		return &dataset.InvalidParameterError{Param: param, Value: v, Reason: reason}
	}
	switch r.Kind {
	case KindCluster:
		if _, err := cluster.NormalizeAlgorithm(r.Algorithm); err != nil {
			return err
		}
		if r.K < 0 || r.K == 1 || r.K > 10 {
			return invalid("k", r.K, "must be in [2, 10]")
		}
	case KindModel:
		if strings.TrimSpace(r.Target) == "" {
			return invalid("target", r.Target, "a target attribute is required")
		}
	case KindProfile:
		if r.ZThreshold != 0 && (r.ZThreshold < 1.5 || r.ZThreshold > 5) {
			return invalid("z_threshold", r.ZThreshold, "must be in [1.5, 5]")
		}
		if r.IQRFactor != 0 && (r.IQRFactor < 1 || r.IQRFactor > 3) {
			return invalid("iqr_factor", r.IQRFactor, "must be in [1, 3]")
		}
	case KindAnomaly:
		if r.Contamination < 0 || r.Contamination > 0.5 {
			return invalid("contamination", r.Contamination, "must be in (0, 0.5]")
		}
	case KindTemporal:
		if strings.TrimSpace(r.Timestamp) == "" {
			return invalid("timestamp", r.Timestamp, "a timestamp attribute is required")
		}
		if strings.TrimSpace(r.Value) == "" {
			return invalid("value", r.Value, "a value attribute is required")
		}
		if r.Frequency != "" {
			if _, ok := temporal.ParseFrequency(r.Frequency); !ok {
				return invalid("frequency", r.Frequency, "expected one of D, W, M, Q, Y")
			}
		}
		if r.Horizon < 0 {
			return invalid("horizon", r.Horizon, "must be positive")
		}
	}
	return nil
}

// Result is the tagged analysis outcome. Exactly the field matching Kind is set.
type Result struct {
	ID        uuid.UUID        `json:"id"`
	Kind      Kind             `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`
	Elapsed   time.Duration    `json:"elapsed_ns"`
	Profile   *Profile         `json:"profile,omitempty"`
	Cluster   *cluster.Result  `json:"cluster,omitempty"`
	Model     *predict.Result  `json:"model,omitempty"`
	Anomaly   *anomaly.Result  `json:"anomaly,omitempty"`
	Temporal  *temporal.Result `json:"temporal,omitempty"`
	// Prediction accompanies Model when the request carried input values.
	Prediction *predict.Prediction `json:"prediction,omitempty"`
}

// Analyzer runs requests with one fixed configuration. It holds no state that
// changes between calls, so one Analyzer can serve concurrent requests.
type Analyzer struct {
	cfg      config.Global
	log      *slog.Logger
	progress func(done, total int)
}

// New returns an Analyzer. A nil cfg selects config.Default and a nil
// logger discards output.
func New(cfg *config.Global, log *slog.Logger) *Analyzer {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Analyzer{cfg: *cfg, log: log}
}

// WithProgress returns a copy of a that reports model candidate progress to fn.
func (a *Analyzer) WithProgress(fn func(done, total int)) *Analyzer {
	cp := *a
	cp.progress = fn
	return &cp
}

// Run validates req and executes it against coll. Errors that make the whole
// analysis meaningless are returned; per-candidate failures live in the result.
func (a *Analyzer) Run(ctx context.Context, coll *dataset.Collection, req Request) (*Result, error) {
	kind, err := ParseKind(string(req.Kind))
	if err != nil {
		return nil, err
	}
	req.Kind = kind
	if err := coll.RequireNonEmpty(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	res := &Result{ID: uuid.New(), Kind: kind, CreatedAt: start.UTC()}
	log := a.log.With("analysis", res.ID.String(), "kind", string(kind))
	log.Debug("analysis started", "rows", coll.Len(), "attributes", coll.Schema.Len())

	switch kind {
	case KindProfile:
		opt := DefaultProfileOptions()
		opt.GroupBy = req.GroupBy
		if req.SampleRows != 0 {
			opt.SampleRows = max(req.SampleRows, 0)
		}
		if req.ZThreshold > 0 {
			opt.ZThreshold = req.ZThreshold
		}
		if req.IQRFactor > 0 {
			opt.IQRFactor = req.IQRFactor
		}
		res.Profile, err = BuildProfile(coll, opt)
	case KindCluster:
		res.Cluster, err = cluster.Run(ctx, coll, a.clusterOptions(req, log))
	case KindModel:
		res.Model, err = predict.Run(ctx, coll, a.predictOptions(req, log))
		if err == nil && len(req.Predict) > 0 {
			res.Prediction, err = res.Model.Predict(req.Predict)
		}
	case KindAnomaly:
		res.Anomaly, err = anomaly.Run(ctx, coll, a.anomalyOptions(req, log))
	case KindTemporal:
		res.Temporal, err = temporal.Run(ctx, coll, a.temporalOptions(req, log))
	}
	if err != nil {
		log.Debug("analysis unavailable", "error", err)
		return nil, err
	}
	res.Elapsed = time.Since(start)
	log.Info("analysis finished", "elapsed", res.Elapsed)
	return res, nil
}

func (a *Analyzer) clusterOptions(req Request, log *slog.Logger) cluster.Options {
	opt := cluster.DefaultOptions()
	opt.Features = req.Features
	opt.Algorithm = req.Algorithm
	opt.K = req.K
	if opt.K == 0 && a.cfg.DefaultK > 0 {
		opt.K = a.cfg.DefaultK
	}
	opt.Seed = a.cfg.Seed
	if a.cfg.DBSCANEps > 0 {
		opt.Eps = a.cfg.DBSCANEps
	}
	if a.cfg.DBSCANMinSamples > 0 {
		opt.MinSamples = a.cfg.DBSCANMinSamples
	}
	if a.cfg.HierarchicalMaxRows > 0 {
		opt.MaxHierarchicalRows = a.cfg.HierarchicalMaxRows
	}
	opt.MaxOneHot = a.cfg.MaxOneHot
	opt.Logger = log
	return opt
}

func (a *Analyzer) predictOptions(req Request, log *slog.Logger) predict.Options {
	opt := predict.DefaultOptions()
	opt.Target = req.Target
	opt.Features = req.Features
	opt.Seed = a.cfg.Seed
	if a.cfg.TestFraction > 0 {
		opt.TestFraction = a.cfg.TestFraction
	}
	if a.cfg.CVFolds > 0 {
		opt.Folds = a.cfg.CVFolds
	}
	if a.cfg.CandidateTimeoutSec > 0 {
		opt.CandidateTimeout = time.Duration(a.cfg.CandidateTimeoutSec) * time.Second
	}
	opt.Workers = a.cfg.Workers
	opt.MaxOneHot = a.cfg.MaxOneHot
	opt.Progress = a.progress
	opt.Logger = log
	return opt
}

func (a *Analyzer) anomalyOptions(req Request, log *slog.Logger) anomaly.Options {
	opt := anomaly.DefaultOptions()
	opt.Features = req.Features
	opt.Contamination = req.Contamination
	if opt.Contamination == 0 && a.cfg.Contamination > 0 {
		opt.Contamination = a.cfg.Contamination
	}
	opt.Seed = a.cfg.Seed
	if a.cfg.IsolationTrees > 0 {
		opt.Trees = a.cfg.IsolationTrees
	}
	if a.cfg.IsolationSampleSize > 0 {
		opt.SampleSize = a.cfg.IsolationSampleSize
	}
	if a.cfg.LOFNeighbors > 0 {
		opt.Neighbors = a.cfg.LOFNeighbors
	}
	opt.MaxOneHot = a.cfg.MaxOneHot
	opt.Logger = log
	return opt
}

func (a *Analyzer) temporalOptions(req Request, log *slog.Logger) temporal.Options {
	opt := temporal.DefaultOptions()
	opt.Timestamp = req.Timestamp
	opt.Value = req.Value
	switch {
	case req.Frequency != "":
		opt.Frequency = req.Frequency
	case a.cfg.Frequency != "":
		opt.Frequency = a.cfg.Frequency
	}
	switch {
	case req.Horizon > 0:
		opt.Horizon = req.Horizon
	case a.cfg.ForecastHorizon > 0:
		opt.Horizon = a.cfg.ForecastHorizon
	}
	opt.Logger = log
	return opt
}

// Unavailable renders the message shown when an analysis fails as a whole.
func Unavailable(kind Kind, err error) string {
	if kind == "" {
		return fmt.Sprintf("this analysis is unavailable: %v", err)
	}
	return fmt.Sprintf("this %s analysis is unavailable: %v", kind, err)
}
