// Package pipeline orchestrates the submission import run: classification,
// validation, templating, upload and outcome accounting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/formsync/internal/domain"
	"github.com/rpattn/formsync/internal/formmodel"
	"github.com/rpattn/formsync/internal/iaso"
	"github.com/rpattn/formsync/internal/template"
	"github.com/rpattn/formsync/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FormSource resolves form versions for the run.
type FormSource interface {
	Info(ctx context.Context) (domain.FormInfo, error)
	Latest(ctx context.Context) (domain.FormVersion, error)
	Version(ctx context.Context, versionID string) (domain.FormVersion, error)
}

// Uploader executes the platform protocol for one instance at a time.
type Uploader interface {
	CreateInstance(ctx context.Context, appID string, meta iaso.InstanceMetadata) error
	UploadSubmission(ctx context.Context, fileName string, xml []byte) error
	PatchInstance(ctx context.Context, instanceID int64, patch iaso.InstancePatch) error
	GetEditSession(ctx context.Context, instanceUUID string) (iaso.EditSession, error)
	SubmitEdit(ctx context.Context, session iaso.EditSession, fileName string, xml []byte) error
	DeleteInstance(ctx context.Context, instanceID int64) error
}

// Options configure one run.
type Options struct {
	Strategy         domain.Strategy
	StrictValidation bool
	AppID            string
	FormID           int64
	UserID           string
}

// Pipeline processes rows strictly sequentially: each row's validation,
// templating and network calls complete before the next row starts. The
// template and evaluator caches are populated on first use per version
// and read-only afterwards.
type Pipeline struct {
	forms    FormSource
	uploader Uploader
	writer   *Writer
	logger   *zap.Logger
	opts     Options

	schema     *validation.SchemaValidator
	builder    *template.Builder
	evaluators map[string]*validation.ConstraintEvaluator
	latest     *domain.FormVersion

	newUUID func() string
	now     func() time.Time
}

// New builds a run-scoped pipeline.
func New(forms FormSource, uploader Uploader, writer *Writer, logger *zap.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		forms:      forms,
		uploader:   uploader,
		writer:     writer,
		logger:     logger,
		opts:       opts,
		schema:     validation.NewSchemaValidator(opts.StrictValidation),
		builder:    template.NewBuilder(),
		evaluators: make(map[string]*validation.ConstraintEvaluator),
		newUUID:    func() string { return uuid.New().String() },
		now:        time.Now,
	}
}

// Run processes every row and returns the final counters. Per-row problems
// never abort the batch; only setup failures (output layout, fetching the
// form definition before any row is processed) return an error.
func (p *Pipeline) Run(ctx context.Context, rows []domain.Row) (domain.Summary, error) {
	summary := domain.Summary{}
	if len(rows) == 0 {
		return summary, nil
	}

	if err := p.writer.EnsureLayout(); err != nil {
		return summary, err
	}

	// When rows carry no version discriminator every instance uses the
	// latest version; fetch it up front so a missing form aborts the run
	// before any row is touched.
	if p.opts.Strategy != domain.StrategyDelete && !rows[0].HasColumn(domain.ColumnFormVersion) {
		latest, err := p.forms.Latest(ctx)
		if err != nil {
			return summary, fmt.Errorf("fetch latest form version: %w", err)
		}
		p.latest = &latest
	}

	p.logger.Info("starting import run",
		zap.String("strategy", string(p.opts.Strategy)),
		zap.Int("rows", len(rows)),
		zap.Bool("strict_validation", p.opts.StrictValidation))

	for _, row := range rows {
		result := p.processRow(ctx, row)
		summary.Add(result)

		switch result.Outcome {
		case domain.OutcomeIgnored:
			p.logger.Warn("row ignored", zap.Int("row", row.Number()), zap.String("reason", result.Reason))
		case domain.OutcomeFailed:
			p.logger.Error("row failed", zap.Int("row", row.Number()), zap.String("reason", result.Reason))
		default:
			p.logger.Debug("row processed", zap.Int("row", row.Number()), zap.String("outcome", string(result.Outcome)))
		}
	}

	if _, err := p.writer.WriteSummary(summary); err != nil {
		p.logger.Error("failed to write summary file", zap.Error(err))
	}

	p.logger.Info("import run finished",
		zap.Int("imported", summary.Imported),
		zap.Int("updated", summary.Updated),
		zap.Int("ignored", summary.Ignored),
		zap.Int("deleted", summary.Deleted))

	return summary, nil
}

func (p *Pipeline) processRow(ctx context.Context, row domain.Row) domain.RowResult {
	action, reason := Classify(row, p.opts.Strategy)

	switch action {
	case domain.ActionIgnore:
		return domain.Ignored(reason)
	case domain.ActionDelete:
		return p.deleteRow(ctx, row)
	case domain.ActionCreate, domain.ActionUpdate:
		return p.pushRow(ctx, row, action)
	}
	return domain.Ignored("unclassifiable row")
}

func (p *Pipeline) deleteRow(ctx context.Context, row domain.Row) domain.RowResult {
	id, ok := row.ID()
	if !ok {
		return domain.Ignored("id is not a numeric identifier")
	}
	if err := p.uploader.DeleteInstance(ctx, id); err != nil {
		return domain.Failed(fmt.Sprintf("delete instance %d: %v", id, err))
	}
	return domain.Ok(domain.OutcomeDeleted)
}

func (p *Pipeline) pushRow(ctx context.Context, row domain.Row, action domain.Action) domain.RowResult {
	version, result := p.resolveVersion(ctx, row)
	if result != nil {
		return *result
	}

	if schemaErr := p.schema.Validate(row, action, version); schemaErr != nil {
		return domain.Ignored(schemaErr.Error())
	}

	if failing := p.evaluator(version).Evaluate(row); len(failing) > 0 {
		if p.opts.StrictValidation {
			return domain.Ignored("constraint violation: " + strings.Join(failing, ", "))
		}
		p.logger.Warn("constraint violations tolerated",
			zap.Int("row", row.Number()),
			zap.Strings("fields", failing))
	}

	instance, result := p.buildInstance(row, action, version)
	if result != nil {
		return *result
	}

	switch action {
	case domain.ActionCreate:
		return p.uploadCreate(ctx, instance)
	default:
		return p.uploadUpdate(ctx, instance)
	}
}

// resolveVersion picks the form version for the row: the per-row
// discriminator when the file carries one, the latest version otherwise.
func (p *Pipeline) resolveVersion(ctx context.Context, row domain.Row) (domain.FormVersion, *domain.RowResult) {
	if row.HasColumn(domain.ColumnFormVersion) && row.FormVersion() != "" {
		version, err := p.forms.Version(ctx, row.FormVersion())
		if err != nil {
			if errors.Is(err, formmodel.ErrVersionNotFound) {
				result := domain.Ignored(fmt.Sprintf("unknown form version %q", row.FormVersion()))
				return domain.FormVersion{}, &result
			}
			result := domain.Failed(err.Error())
			return domain.FormVersion{}, &result
		}
		return version, nil
	}

	if p.latest == nil {
		latest, err := p.forms.Latest(ctx)
		if err != nil {
			result := domain.Failed(err.Error())
			return domain.FormVersion{}, &result
		}
		p.latest = &latest
	}
	return *p.latest, nil
}

func (p *Pipeline) evaluator(version domain.FormVersion) *validation.ConstraintEvaluator {
	if eval, ok := p.evaluators[version.ID]; ok {
		return eval
	}
	eval := validation.NewConstraintEvaluator(version)
	p.evaluators[version.ID] = eval
	return eval
}

func (p *Pipeline) buildInstance(row domain.Row, action domain.Action, version domain.FormVersion) (domain.Instance, *domain.RowResult) {
	instance := domain.Instance{Action: action}

	if action == domain.ActionUpdate {
		instanceUUID, err := template.CanonicalUUID(row.InstanceUUID())
		if err != nil {
			result := domain.Ignored(err.Error())
			return instance, &result
		}
		instance.UUID = instanceUUID
		instance.TargetID, _ = row.ID()
	} else {
		instance.UUID = p.newUUID()
	}

	instance.OrgUnitID, _ = row.OrgUnitID()
	instance.FileName = instance.UUID + ".xml"
	if lat, ok := row.Coordinate(domain.ColumnLatitude); ok {
		instance.Latitude = &lat
	}
	if lon, ok := row.Coordinate(domain.ColumnLongitude); ok {
		instance.Longitude = &lon
	}
	if alt, ok := row.Coordinate(domain.ColumnAltitude); ok {
		instance.Altitude = &alt
	}
	if acc, ok := row.Coordinate(domain.ColumnAccuracy); ok {
		instance.Accuracy = &acc
	}

	skeleton := p.builder.Build(version, row.Columns())
	doc, err := template.Enrich(skeleton, template.EnrichRequest{
		Row:          row,
		InstanceUUID: instance.UUID,
		UserID:       p.opts.UserID,
		TargetID:     instance.TargetID,
	})
	if err != nil {
		result := domain.Ignored(err.Error())
		return instance, &result
	}

	xml, err := template.Serialize(doc)
	if err != nil {
		result := domain.Failed(err.Error())
		return instance, &result
	}
	instance.XML = xml
	return instance, nil
}

// uploadCreate runs the create protocol: register metadata, then upload
// the document. Success is 201 on both calls.
func (p *Pipeline) uploadCreate(ctx context.Context, instance domain.Instance) domain.RowResult {
	now := p.now()
	meta := iaso.InstanceMetadata{
		ID:        instance.UUID,
		OrgUnitID: instance.OrgUnitID,
		FormID:    p.opts.FormID,
		CreatedAt: now.Unix(),
		Latitude:  instance.Latitude,
		Longitude: instance.Longitude,
		File:      instance.FileName,
		Name:      instance.FileName,
		Period:    now.Year(),
	}
	if instance.Altitude != nil {
		meta.Altitude = *instance.Altitude
	}
	if instance.Accuracy != nil {
		meta.Accuracy = *instance.Accuracy
	}

	if _, err := p.writer.WriteDocument(instance.Action, instance.FileName, instance.XML); err != nil {
		return domain.Failed(err.Error())
	}

	if err := p.uploader.CreateInstance(ctx, p.opts.AppID, meta); err != nil {
		return domain.Failed(fmt.Sprintf("create instance: %v", err))
	}
	if err := p.uploader.UploadSubmission(ctx, instance.FileName, instance.XML); err != nil {
		return domain.Failed(fmt.Sprintf("upload submission: %v", err))
	}
	return domain.Ok(domain.OutcomeImported)
}

// uploadUpdate runs the edit protocol. The edit session is requested
// first: a locked instance short-circuits the row before any write — no
// PATCH, no document on disk — per the platform's business rules.
func (p *Pipeline) uploadUpdate(ctx context.Context, instance domain.Instance) domain.RowResult {
	session, err := p.uploader.GetEditSession(ctx, instance.UUID)
	if err != nil {
		if errors.Is(err, iaso.ErrLockedInstance) {
			return domain.Ignored(fmt.Sprintf("instance %d is locked", instance.TargetID))
		}
		return domain.Failed(fmt.Sprintf("edit session: %v", err))
	}

	if _, err := p.writer.WriteDocument(instance.Action, instance.FileName, instance.XML); err != nil {
		return domain.Failed(err.Error())
	}

	patch := iaso.InstancePatch{
		Latitude:  instance.Latitude,
		Longitude: instance.Longitude,
		Altitude:  instance.Altitude,
		Accuracy:  instance.Accuracy,
	}
	if instance.OrgUnitID != 0 {
		orgUnit := instance.OrgUnitID
		patch.OrgUnitID = &orgUnit
	}
	if patch.OrgUnitID != nil || patch.Latitude != nil || patch.Longitude != nil {
		if err := p.uploader.PatchInstance(ctx, instance.TargetID, patch); err != nil {
			return domain.Failed(fmt.Sprintf("patch instance %d: %v", instance.TargetID, err))
		}
	}

	if err := p.uploader.SubmitEdit(ctx, session, instance.FileName, instance.XML); err != nil {
		return domain.Failed(fmt.Sprintf("submit edit: %v", err))
	}
	return domain.Ok(domain.OutcomeUpdated)
}
