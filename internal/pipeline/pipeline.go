// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"voice-ledger-go/internal/aggregator"
	"voice-ledger-go/internal/catalog"
	"voice-ledger-go/internal/classifier"
	"voice-ledger-go/internal/config"
	"voice-ledger-go/internal/dataset"
	"voice-ledger-go/internal/ledger"
	"voice-ledger-go/internal/logger"
	"voice-ledger-go/internal/processor"
	"voice-ledger-go/internal/transcription"
	"voice-ledger-go/internal/types"
)

// State is the coordinator's position within a run.
type State string

const (
	StateIdle           State = "idle"
	StateScanning       State = "scanning"
	StateDiffing        State = "diffing"
	StateProcessingItem State = "processing_item"
	StateMerging        State = "merging"
	StateDone           State = "done"
)

// ClassifyReport summarises one classification pass.
type ClassifyReport struct {
	RunID   string             `json:"run_id"`
	Path    string             `json:"path"`
	Insight aggregator.Insight `json:"insight"`
}

// Coordinator drives a transcription run end to end: discover, diff against
// the ledger, process what is pending one item at a time, then fold the new
// records into the consolidated dataset.
type Coordinator struct {
	sourceDir string
	rules     types.RuleTable

	scanner      *catalog.Scanner
	ledger       *ledger.Ledger
	worker       *processor.Worker
	individual   *dataset.IndividualStore
	consolidated *dataset.ConsolidatedStore
	classified   *dataset.ClassifiedStore

	log   *logger.Logger
	state State
}

// New wires every component from cfg. All files go through fs.
func New(cfg config.Config, fs afero.Fs, tr transcription.Transcriber, log *logger.Logger, opts ...processor.Option) (*Coordinator, error) {
	schema, err := catalog.NewFilenameSchema(cfg.FilenamePattern)
	if err != nil {
		return nil, err
	}
	led := ledger.New(fs, cfg.LedgerPath(), log)
	individual := dataset.NewIndividualStore(fs, cfg.IndividualDir())

	wopts := []processor.Option{processor.WithLanguage(cfg.TranscribeLanguage)}
	if cfg.TranscribeTimeout > 0 {
		wopts = append(wopts, processor.WithTimeout(cfg.Timeout()))
	}
	wopts = append(wopts, opts...)

	return &Coordinator{
		sourceDir:    cfg.SourceDir,
		rules:        cfg.Categories,
		scanner:      catalog.NewScanner(fs, schema, cfg.Extensions, cfg.Operators, log),
		ledger:       led,
		worker:       processor.NewWorker(fs, tr, individual, led, log, wopts...),
		individual:   individual,
		consolidated: dataset.NewConsolidatedStore(fs, cfg.ConsolidatedPath()),
		classified:   dataset.NewClassifiedStore(fs, cfg.ClassifiedPath()),
		log:          log.Component("pipeline"),
		state:        StateIdle,
	}, nil
}

// State reports where the last (or current) run stands.
func (c *Coordinator) State() State { return c.state }

func (c *Coordinator) enter(log *logger.Logger, s State) {
	log.WithFields(logrus.Fields{"from": c.state, "to": s}).Debug("state transition")
	c.state = s
}

// Run performs one transcription run. Cancellation is observed between
// items: the item in flight completes and is merged before Run returns the
// context error. Any other error is fatal and leaves the stores as they were
// after the last completed item.
func (c *Coordinator) Run(ctx context.Context) (types.RunReport, error) {
	log, runID := c.log.WithRun("")
	rep := types.RunReport{RunID: runID}
	c.state = StateIdle

	c.enter(log, StateScanning)
	items, err := c.scanner.Scan(c.sourceDir)
	if err != nil {
		log.WithError(err).Error("scan failed")
		return rep, err
	}
	rep.Scanned = len(items)

	c.enter(log, StateDiffing)
	processed, err := c.ledger.LoadProcessed()
	if err != nil {
		log.WithError(err).Error("ledger load failed")
		return rep, err
	}
	var pending []types.InputItem
	for _, it := range items {
		if _, ok := processed[it.Identifier]; ok {
			rep.AlreadyProcessed++
			continue
		}
		pending = append(pending, it)
	}
	log.WithFields(logrus.Fields{"scanned": rep.Scanned, "already_processed": rep.AlreadyProcessed, "pending": len(pending)}).
		Info("pending set computed")

	var fresh []types.TranscriptRecord
	var cancelled error
	for i, it := range pending {
		if err := ctx.Err(); err != nil {
			cancelled = err
			log.WithField("remaining", len(pending)-i).Warn("run cancelled; remaining items left for the next run")
			break
		}
		c.enter(log, StateProcessingItem)
		log.WithItem(it).WithField("position", fmt.Sprintf("%d/%d", i+1, len(pending))).Info("processing")

		// The item in flight is not cut short by cancellation.
		rec, outcome, err := c.worker.Process(context.WithoutCancel(ctx), it)
		if err != nil {
			log.WithItem(it).WithField("error", err.Error()).Error("storage failure, aborting run")
			return rep, err
		}
		fresh = append(fresh, rec)
		processed[it.Identifier] = struct{}{}
		if outcome == types.OutcomeSuccess {
			rep.NewlyProcessed++
		} else {
			rep.NewlyErrored++
		}
	}

	c.enter(log, StateMerging)
	if err := c.merge(log, processed, fresh, &rep); err != nil {
		log.WithError(err).Error("merge failed")
		return rep, err
	}

	c.enter(log, StateDone)
	log.WithFields(logrus.Fields{
		"newly_processed": rep.NewlyProcessed,
		"newly_errored":   rep.NewlyErrored,
		"recovered":       rep.Recovered,
		"consolidated":    rep.Consolidated,
	}).Info("run complete")
	return rep, cancelled
}

// merge folds fresh into the consolidated dataset, together with any record
// that reached the ledger and the individual store in an earlier run but not
// the consolidated table. ledgered is the ledger membership including fresh.
func (c *Coordinator) merge(log *logger.Logger, ledgered map[string]struct{}, fresh []types.TranscriptRecord, rep *types.RunReport) error {
	existing, _, err := c.consolidated.Load()
	if err != nil {
		return err
	}
	present := make(map[string]struct{}, len(existing)+len(fresh))
	for _, r := range existing {
		present[r.Identifier] = struct{}{}
	}
	for _, r := range fresh {
		present[r.Identifier] = struct{}{}
	}

	orphans, err := c.orphans(ledgered, present)
	if err != nil {
		return err
	}
	rep.Recovered = len(orphans)
	if len(fresh) == 0 && len(orphans) == 0 {
		rep.Consolidated = len(existing)
		log.Info("nothing new to merge")
		return nil
	}

	merged := dataset.Merge(existing, append(orphans, fresh...))
	if err := c.consolidated.Save(merged); err != nil {
		return err
	}
	rep.Consolidated = len(merged)
	log.WithFields(logrus.Fields{"path": c.consolidated.Path(), "rows": len(merged), "recovered": len(orphans)}).
		Info("consolidated dataset saved")
	return nil
}

// orphans loads individual records that are in the ledger but missing from
// present.
func (c *Coordinator) orphans(ledgered, present map[string]struct{}) ([]types.TranscriptRecord, error) {
	ids, err := c.individual.Identifiers()
	if err != nil {
		return nil, err
	}
	var out []types.TranscriptRecord
	for _, id := range ids {
		if _, ok := ledgered[id]; !ok {
			continue
		}
		if _, ok := present[id]; ok {
			continue
		}
		rec, ok, err := c.individual.Get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Classify rebuilds the classified dataset from the consolidated one. Every
// record is classified again and the output file is replaced.
func (c *Coordinator) Classify(ctx context.Context) (ClassifyReport, error) {
	log, runID := c.log.WithRun("")
	rep := ClassifyReport{RunID: runID, Path: c.classified.Path()}

	records, exists, err := c.consolidated.Load()
	if err != nil {
		return rep, err
	}
	if !exists {
		return rep, fmt.Errorf("%w: no consolidated dataset at %s", types.ErrStoreUnavailable, c.consolidated.Path())
	}
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	results := classifier.ClassifyRecords(records, c.rules)
	order := append(c.rules.Names(), classifier.Uncategorized, classifier.TranscriptionError)
	rep.Insight = aggregator.Aggregate(results, order)

	if err := c.classified.Save(results, rep.Insight); err != nil {
		return rep, err
	}
	for _, cat := range rep.Insight.Order {
		if n := rep.Insight.CategoryCounts[cat]; n > 0 {
			log.WithFields(logrus.Fields{"category": cat, "calls": n, "share": rep.Insight.CategoryShare[cat]}).Info("category")
		}
	}
	log.WithFields(logrus.Fields{"total": rep.Insight.Total, "path": rep.Path}).Info("classification saved")
	return rep, nil
}
