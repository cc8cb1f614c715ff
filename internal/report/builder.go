package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/azkaoru/openstack-opendev-merge-summary/internal/config"
	"github.com/azkaoru/openstack-opendev-merge-summary/internal/gerrit"
	"github.com/sirupsen/logrus"
)

// ReviewClient is the slice of the Gerrit client the builder depends on.
type ReviewClient interface {
	SearchChanges(ctx context.Context, query string) ([]gerrit.Change, error)
	ListFiles(ctx context.Context, changeID, revisionID string) ([]gerrit.RevisionFile, error)
	FetchDiff(ctx context.Context, changeID, revisionID, path string) (*gerrit.DiffResult, error)
}

// Builder drives the three dependent fetches, search, file listing and
// per-file diff, and assembles the result document. Only a search failure
// aborts a run; everything after that degrades to error fields on the
// affected change or file so one bad record cannot take down the rest.
type Builder struct {
	client ReviewClient
	cfg    *config.Config
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewBuilder creates a report builder.
func NewBuilder(client ReviewClient, cfg *config.Config, logger logrus.FieldLogger) *Builder {
	return &Builder{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Build runs one report pass. Changes are processed in search-response
// order and files in file-listing order, one request at a time.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	mergedAfter := b.cfg.ResolveMergedAfter(b.now())
	query := fmt.Sprintf("status:%s repo:%s mergedafter:%s", b.cfg.Status, b.cfg.Repository, mergedAfter)

	b.logger.WithField("query", query).Info("searching for changes")

	if b.cfg.DryRun {
		b.logger.Info("dry-run mode, skipping API calls")
		rep := b.newReport(query, mergedAfter)
		rep.DryRun = true
		return rep, nil
	}

	found, err := b.client.SearchChanges(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search changes: %w", err)
	}

	if len(found) == 0 {
		b.logger.WithField("query", query).Info("no changes matched")
		return &Report{Query: query, Changes: []*Change{}}, nil
	}

	b.logger.WithField("count", len(found)).Info("found matching changes")

	rep := b.newReport(query, mergedAfter)
	for _, src := range found {
		rep.Changes = append(rep.Changes, b.buildChange(ctx, src))
	}
	rep.Count = len(rep.Changes)
	return rep, nil
}

func (b *Builder) newReport(query, mergedAfter string) *Report {
	return &Report{
		Query:       query,
		Repository:  b.cfg.Repository,
		Status:      b.cfg.Status,
		MergedAfter: mergedAfter,
		Timestamp:   b.now().Format(time.RFC3339),
		Changes:     []*Change{},
	}
}

// buildChange lists the files of the change's current revision and fetches a
// diff for each. A failed listing is recorded on the change itself and
// leaves it with no files; the run moves on to the next change.
func (b *Builder) buildChange(ctx context.Context, src gerrit.Change) *Change {
	log := b.logger.WithFields(logrus.Fields{
		"change":   src.ID,
		"revision": src.CurrentRevision,
	})
	log.WithField("subject", src.Subject).Info("processing change")

	owner := src.Owner
	if len(owner) == 0 {
		owner = json.RawMessage("{}")
	}

	change := &Change{
		ID:         src.ID,
		Subject:    src.Subject,
		Status:     src.Status,
		Owner:      owner,
		Created:    src.Created,
		Updated:    src.Updated,
		Submitted:  src.Submitted,
		RevisionID: src.CurrentRevision,
		Files:      []*FileEntry{},
	}

	files, err := b.client.ListFiles(ctx, src.ID, src.CurrentRevision)
	if err != nil {
		log.WithError(err).Error("file listing failed")
		change.Error = err.Error()
		return change
	}

	for _, file := range files {
		// Paths starting with "/" are pseudo-files, /COMMIT_MSG and the
		// like, that have no diff of their own.
		if strings.HasPrefix(file.Path, "/") {
			continue
		}
		change.Files = append(change.Files, b.fetchFile(ctx, src, file))
	}

	if len(change.Files) == 0 {
		log.Info("change has no file modifications")
	}
	return change
}

// fetchFile retrieves one file's diff. Failures never propagate: a transport
// error or an HTTP error status becomes an error entry, and a 200 body that
// is not valid JSON is kept as verbatim text rather than dropped.
func (b *Builder) fetchFile(ctx context.Context, src gerrit.Change, file gerrit.RevisionFile) *FileEntry {
	entry := &FileEntry{Path: file.Path}

	res, err := b.client.FetchDiff(ctx, src.ID, src.CurrentRevision, file.Path)
	if err != nil {
		b.logger.WithError(err).WithField("path", file.Path).Error("diff fetch failed")
		entry.Status = StatusError
		entry.Error = err.Error()
		return entry
	}

	if res.StatusCode != http.StatusOK {
		b.logger.WithFields(logrus.Fields{
			"path":        file.Path,
			"status_code": res.StatusCode,
		}).Error("diff fetch rejected")
		entry.Status = StatusError
		entry.ErrorCode = res.StatusCode
		return entry
	}

	entry.Status = StatusSuccess
	if stripped := gerrit.StripMagicPrefix(res.Body); json.Valid(stripped) {
		entry.Diff = json.RawMessage(stripped)
	} else {
		entry.Diff = string(res.Body)
	}

	b.logger.WithFields(logrus.Fields{
		"path":     file.Path,
		"inserted": file.LinesInserted,
		"deleted":  file.LinesDeleted,
	}).Info("fetched file diff")
	return entry
}
